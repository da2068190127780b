// Package riskcache implements the in-memory, O(1) fast-path risk checks
// performed before any network work, per spec.md §4.2.
package riskcache

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Verdict is the outcome of Evaluate.
type Verdict string

const (
	Allow         Verdict = "ALLOW"
	ReduceStake   Verdict = "REDUCE_STAKE"
	Cooldown      Verdict = "COOLDOWN"
	LossCooldown  Verdict = "LOSS_COOLDOWN"
	MaxConcurrent Verdict = "MAX_CONCURRENT"
	Halt          Verdict = "HALT"
)

// HaltReason distinguishes the two halt causes.
type HaltReason string

const (
	HaltDailyLoss HaltReason = "DAILY_LOSS"
	HaltDrawdown  HaltReason = "DRAWDOWN"
)

// Decision is the result of an Evaluate call.
type Decision struct {
	Verdict    Verdict
	WaitMs     int64
	HaltReason HaltReason
}

// Entry mirrors spec.md §3's Risk Cache Entry.
type Entry struct {
	AccountID        string
	Equity           decimal.Decimal
	EquityPeak       decimal.Decimal
	DailyStartEquity decimal.Decimal
	OpenTradeCount   int
	OpenExposure     decimal.Decimal
	LossStreak       int
	ConsecutiveWins  int
	LastTradeAt      time.Time
	LastLossAt       time.Time
	LastUpdated      time.Time
}

// EvaluateParams bundles the limits evaluate checks against.
type EvaluateParams struct {
	ProposedStake        decimal.Decimal
	MaxStake             decimal.Decimal
	DailyLossLimitPct    float64
	DrawdownLimitPct     float64
	MaxConsecutiveLosses int
	CooldownMs           time.Duration
	LossCooldownMs       time.Duration
	MaxConcurrentTrades  int
}

// OpenResult is returned by RecordOpened.
type OpenResult struct {
	Allowed bool
	Reason  string
}

// Cache is the Risk Cache: a single mutex guards the whole map, matching
// spec.md §5's "single mutex per logical container" rule — account entries
// are small enough that a shared lock does not become a bottleneck.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New creates an empty Risk Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Initialize creates an entry with equity = equityPeak = dailyStartEquity.
func (c *Cache) Initialize(accountID string, equity decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[accountID] = &Entry{
		AccountID:        accountID,
		Equity:           equity,
		EquityPeak:       equity,
		DailyStartEquity: equity,
		LastUpdated:      time.Now(),
	}
}

func (c *Cache) getOrInit(accountID string) *Entry {
	e, ok := c.entries[accountID]
	if !ok {
		e = &Entry{AccountID: accountID, LastUpdated: time.Now()}
		c.entries[accountID] = e
	}
	return e
}

// Snapshot returns a copy of the account's entry; stale entries are served
// rather than evicted, per spec.md §3.
func (c *Cache) Snapshot(accountID string) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.getOrInit(accountID)
	return *e
}

// Evaluate runs the fast-path decision tree described in spec.md §4.2.
func (c *Cache) Evaluate(accountID string, p EvaluateParams) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.getOrInit(accountID)
	now := time.Now()

	if p.DailyLossLimitPct > 0 && !e.DailyStartEquity.IsZero() {
		lossPct := e.DailyStartEquity.Sub(e.Equity).Div(e.DailyStartEquity).Mul(decimal.NewFromInt(100))
		if lossPct.GreaterThanOrEqual(decimal.NewFromFloat(p.DailyLossLimitPct)) {
			return Decision{Verdict: Halt, HaltReason: HaltDailyLoss}
		}
	}

	if p.DrawdownLimitPct > 0 && !e.EquityPeak.IsZero() {
		ddPct := e.EquityPeak.Sub(e.Equity).Div(e.EquityPeak).Mul(decimal.NewFromInt(100))
		if ddPct.GreaterThanOrEqual(decimal.NewFromFloat(p.DrawdownLimitPct)) {
			return Decision{Verdict: Halt, HaltReason: HaltDrawdown}
		}
	}

	if p.MaxConcurrentTrades > 0 && e.OpenTradeCount >= p.MaxConcurrentTrades {
		return Decision{Verdict: MaxConcurrent}
	}

	if p.MaxConsecutiveLosses > 0 && e.LossStreak >= p.MaxConsecutiveLosses {
		if !e.LastLossAt.IsZero() {
			elapsed := now.Sub(e.LastLossAt)
			if elapsed < p.LossCooldownMs {
				return Decision{Verdict: LossCooldown, WaitMs: (p.LossCooldownMs - elapsed).Milliseconds()}
			}
		}
	}

	if p.CooldownMs > 0 && !e.LastTradeAt.IsZero() {
		elapsed := now.Sub(e.LastTradeAt)
		if elapsed < p.CooldownMs {
			return Decision{Verdict: Cooldown, WaitMs: (p.CooldownMs - elapsed).Milliseconds()}
		}
	}

	if !p.MaxStake.IsZero() && p.ProposedStake.GreaterThan(p.MaxStake) {
		return Decision{Verdict: ReduceStake}
	}

	return Decision{Verdict: Allow}
}

// RecordOpened atomically increments openTradeCount and exposure.
func (c *Cache) RecordOpened(accountID string, stake decimal.Decimal) OpenResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.getOrInit(accountID)
	e.OpenTradeCount++
	e.OpenExposure = e.OpenExposure.Add(stake)
	e.LastUpdated = time.Now()
	return OpenResult{Allowed: true}
}

// RecordSettled decrements exposure (unless skipped), updates equity,
// equityPeak, streaks, lastTradeAt, lastLossAt.
func (c *Cache) RecordSettled(accountID string, stake, netProfit decimal.Decimal, skipExposure bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.getOrInit(accountID)
	if !skipExposure {
		e.OpenExposure = e.OpenExposure.Sub(stake)
		if e.OpenExposure.IsNegative() {
			e.OpenExposure = decimal.Zero
		}
	}
	if e.OpenTradeCount > 0 {
		e.OpenTradeCount--
	}

	e.Equity = e.Equity.Add(netProfit)
	if e.Equity.GreaterThan(e.EquityPeak) {
		e.EquityPeak = e.Equity
	}

	now := time.Now()
	e.LastTradeAt = now
	if netProfit.IsNegative() {
		e.LossStreak++
		e.ConsecutiveWins = 0
		e.LastLossAt = now
	} else {
		e.ConsecutiveWins++
		e.LossStreak = 0
	}
	e.LastUpdated = now
}

// RecordFailedAttempt decrements exposure without touching streaks, for
// orders that never reached an execution decision.
func (c *Cache) RecordFailedAttempt(accountID string, stake decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.getOrInit(accountID)
	e.OpenExposure = e.OpenExposure.Sub(stake)
	if e.OpenExposure.IsNegative() {
		e.OpenExposure = decimal.Zero
	}
	if e.OpenTradeCount > 0 {
		e.OpenTradeCount--
	}
	e.LastUpdated = time.Now()
}
