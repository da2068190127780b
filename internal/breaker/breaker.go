// Package breaker implements the Execution Circuit Breaker of spec.md §4.4:
// one closed/open/half-open breaker per account, opening after N consecutive
// execution failures (excluding THROTTLE).
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State mirrors the breaker's externally observable state.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// Check is the result of a pre-trade breaker check.
type Check struct {
	Allowed      bool
	Reason       string
	RetryAfterMs int64
	State        State
}

// Breakers is a per-account map of circuit breakers, grounded on the
// teacher's MultiUserManager/gateway.Manager per-key cache convention.
type Breakers struct {
	mu               sync.Mutex
	breakers         map[string]*gobreaker.CircuitBreaker[struct{}]
	failureThreshold uint32
	coolOff          time.Duration
}

// New builds a Breakers registry opening after failureThreshold consecutive
// failures and cooling off for coolOff before allowing a half-open probe.
func New(failureThreshold uint32, coolOff time.Duration) *Breakers {
	return &Breakers{
		breakers:         make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		failureThreshold: failureThreshold,
		coolOff:          coolOff,
	}
}

func (b *Breakers) getOrCreate(accountID string) *gobreaker.CircuitBreaker[struct{}] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[accountID]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        accountID,
		MaxRequests: 1,
		Timeout:     b.coolOff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.failureThreshold
		},
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](settings)
	b.breakers[accountID] = cb
	return cb
}

// Check reports whether accountID is currently allowed to attempt a trade.
func (b *Breakers) Check(accountID string) Check {
	cb := b.getOrCreate(accountID)
	state := translateState(cb.State())

	if state != Open {
		return Check{Allowed: true, State: state}
	}

	return Check{
		Allowed:      false,
		Reason:       "circuit breaker open",
		RetryAfterMs: b.coolOff.Milliseconds(),
		State:        state,
	}
}

// RecordSuccess reports a successful execution, closing the breaker.
func (b *Breakers) RecordSuccess(accountID string) {
	cb := b.getOrCreate(accountID)
	_, _ = cb.Execute(func() (struct{}, error) { return struct{}{}, nil })
}

// RecordFailure reports a failed execution. THROTTLE failures must not be
// passed here, per spec.md §4.4.
func (b *Breakers) RecordFailure(accountID string) {
	cb := b.getOrCreate(accountID)
	_, _ = cb.Execute(func() (struct{}, error) { return struct{}{}, errExecutionFailed })
}

var errExecutionFailed = breakerError("execution failed")

type breakerError string

func (e breakerError) Error() string { return string(e) }

func translateState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return Open
	case gobreaker.StateHalfOpen:
		return HalfOpen
	default:
		return Closed
	}
}
