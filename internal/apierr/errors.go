// Package apierr defines the single tagged execution error type shared by
// the WS session manager, the execution engine, and the pre-trade gate, per
// spec.md §7. Callers pattern-match on Code rather than on error strings.
package apierr

import "fmt"

// Code is a stable error-kind identifier.
type Code string

const (
	CodeWSTimeout         Code = "WS_TIMEOUT"
	CodeWSNetwork         Code = "WS_NETWORK"
	CodeProposalReject    Code = "PROPOSAL_REJECT"
	CodeBuyReject         Code = "BUY_REJECT"
	CodeSlippageExceeded  Code = "SLIPPAGE_EXCEEDED"
	CodeThrottle          Code = "THROTTLE"
	CodeDuplicateRejected Code = "DUPLICATE_REJECTED"
	CodeRiskHalt          Code = "RISK_HALT"
)

// Error is the tagged variant type described in spec.md §7/§9: every
// computed failure carries {code, message, retryable, context}.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Context   map[string]any
	cause     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the transport-level cause so callers can errors.As down to
// e.g. a net.Error, matching the teacher's isRetryableError pattern.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an Error with no wrapped cause.
func New(code Code, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable}
}

// Wrap creates an Error that wraps a lower-level cause (e.g. a websocket
// dial failure or a deadline-exceeded context error).
func Wrap(code Code, message string, retryable bool, cause error) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable, cause: cause}
}

// WithContext attaches context fields and returns the same Error for chaining.
func (e *Error) WithContext(ctx map[string]any) *Error {
	e.Context = ctx
	return e
}

// IsRetryable reports whether err is an *Error marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if as(err, &e) {
		return e.Retryable
	}
	return false
}

// as is a tiny local alias to avoid importing errors in call sites that
// only need this helper; kept trivial on purpose.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
