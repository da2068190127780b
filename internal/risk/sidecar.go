package risk

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits bundles the caps PreTradeCheck enforces, per spec.md §4.3.
type Limits struct {
	OrdersPerSec  float64
	OrdersPerMin  float64
	CancelsPerSec float64
	MaxNotional   float64
	MaxOrderSize  float64
}

// SidecarDecision is the result of PreTradeCheck.
type SidecarDecision struct {
	Allowed bool
	Reason  string
}

// sidecarState holds the per-account kill switch, rate limiters and
// counters that sit alongside the DB-backed Manager.
type sidecarState struct {
	mu sync.Mutex

	killSwitch bool

	ordersPerSecLimiter *rate.Limiter
	ordersPerMinLimiter *rate.Limiter
	cancelsPerSecLim    *rate.Limiter

	rejects        uint64
	slippageReject uint64
	stuckOrders    uint64
}

// Sidecar is the Risk Manager sidecar of spec.md §4.3: kill switch, windowed
// rate limits, notional/order-size caps, and rejection counters, keyed per
// account.
type Sidecar struct {
	mu     sync.Mutex
	states map[string]*sidecarState
	limits Limits
}

// NewSidecar builds a Sidecar enforcing the given limits for every account.
func NewSidecar(limits Limits) *Sidecar {
	return &Sidecar{
		states: make(map[string]*sidecarState),
		limits: limits,
	}
}

func (s *Sidecar) getOrCreate(accountID string) *sidecarState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[accountID]
	if ok {
		return st
	}

	st = &sidecarState{}
	if s.limits.OrdersPerSec > 0 {
		st.ordersPerSecLimiter = rate.NewLimiter(rate.Limit(s.limits.OrdersPerSec), 1)
	}
	if s.limits.OrdersPerMin > 0 {
		st.ordersPerMinLimiter = rate.NewLimiter(rate.Limit(s.limits.OrdersPerMin/60.0), 1)
	}
	if s.limits.CancelsPerSec > 0 {
		st.cancelsPerSecLim = rate.NewLimiter(rate.Limit(s.limits.CancelsPerSec), 1)
	}
	s.states[accountID] = st
	return st
}

// ActivateKillSwitch halts new trades for accountID until deactivated.
func (s *Sidecar) ActivateKillSwitch(accountID string) {
	st := s.getOrCreate(accountID)
	st.mu.Lock()
	st.killSwitch = true
	st.mu.Unlock()
}

// DeactivateKillSwitch resumes trading for accountID.
func (s *Sidecar) DeactivateKillSwitch(accountID string) {
	st := s.getOrCreate(accountID)
	st.mu.Lock()
	st.killSwitch = false
	st.mu.Unlock()
}

// IsKillSwitchActive reports whether accountID's kill switch is engaged.
func (s *Sidecar) IsKillSwitchActive(accountID string) bool {
	st := s.getOrCreate(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.killSwitch
}

// PreTradeCheck enforces windowed order rate limits and notional/order-size
// caps, per spec.md §4.3.
func (s *Sidecar) PreTradeCheck(accountID string, stake float64) SidecarDecision {
	st := s.getOrCreate(accountID)

	st.mu.Lock()
	killed := st.killSwitch
	st.mu.Unlock()
	if killed {
		s.recordReject(st)
		return SidecarDecision{Allowed: false, Reason: "Kill switch active"}
	}

	if s.limits.MaxOrderSize > 0 && stake > s.limits.MaxOrderSize {
		s.recordReject(st)
		return SidecarDecision{Allowed: false, Reason: "order exceeds max order size"}
	}
	if s.limits.MaxNotional > 0 && stake > s.limits.MaxNotional {
		s.recordReject(st)
		return SidecarDecision{Allowed: false, Reason: "order exceeds max notional"}
	}

	if st.ordersPerSecLimiter != nil && !st.ordersPerSecLimiter.Allow() {
		s.recordReject(st)
		return SidecarDecision{Allowed: false, Reason: "orders-per-second limit exceeded"}
	}
	if st.ordersPerMinLimiter != nil && !st.ordersPerMinLimiter.Allow() {
		s.recordReject(st)
		return SidecarDecision{Allowed: false, Reason: "orders-per-minute limit exceeded"}
	}

	return SidecarDecision{Allowed: true}
}

// CheckCancelRate enforces the cancels/sec window for accountID.
func (s *Sidecar) CheckCancelRate(accountID string) bool {
	st := s.getOrCreate(accountID)
	if st.cancelsPerSecLim == nil {
		return true
	}
	return st.cancelsPerSecLim.Allow()
}

func (s *Sidecar) recordReject(st *sidecarState) {
	st.mu.Lock()
	st.rejects++
	st.mu.Unlock()
}

// RecordSlippageReject increments accountID's slippage-reject counter.
func (s *Sidecar) RecordSlippageReject(accountID string) {
	st := s.getOrCreate(accountID)
	st.mu.Lock()
	st.slippageReject++
	st.mu.Unlock()
}

// RecordStuckOrder increments accountID's stuck-order counter.
func (s *Sidecar) RecordStuckOrder(accountID string) {
	st := s.getOrCreate(accountID)
	st.mu.Lock()
	st.stuckOrders++
	st.mu.Unlock()
}

// Counters is a snapshot of accountID's rejection counters.
type Counters struct {
	Rejects        uint64
	SlippageReject uint64
	StuckOrders    uint64
}

// Counters returns a snapshot of accountID's counters.
func (s *Sidecar) Counters(accountID string) Counters {
	st := s.getOrCreate(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return Counters{
		Rejects:        st.rejects,
		SlippageReject: st.slippageReject,
		StuckOrders:    st.stuckOrders,
	}
}

// CooldownWindow is a helper for callers that need to express "N per
// duration" as the equivalent events-per-second rate used by NewSidecar.
func CooldownWindow(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
