// Package domain holds the shared data model types of spec.md §3 —
// structs that more than one component (gate, execution, settlement,
// ledger, pnl) needs to agree on the shape of.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the contract direction.
type Direction string

const (
	Call Direction = "CALL"
	Put  Direction = "PUT"
)

// DurationUnit is the signal's duration unit.
type DurationUnit string

const (
	Ticks   DurationUnit = "t"
	Seconds DurationUnit = "s"
	Minutes DurationUnit = "m"
	Hours   DurationUnit = "h"
	Days    DurationUnit = "d"
)

// EntryMode selects how the execution engine treats the proposal ack price.
type EntryMode string

const (
	Market            EntryMode = "MARKET"
	HybridLimitMarket EntryMode = "HYBRID_LIMIT_MARKET"
)

// TradeSignal is the strategy-originated order intent, per spec.md §3.
type TradeSignal struct {
	Direction        Direction        `json:"direction"`
	Symbol           string           `json:"symbol"`
	Stake            decimal.Decimal  `json:"stake"`
	Duration         int              `json:"duration"`
	DurationUnit     DurationUnit     `json:"durationUnit"`
	EntryMode        EntryMode        `json:"entryMode"`
	EntryTargetPrice *decimal.Decimal `json:"entryTargetPrice,omitempty"`
	EntrySlippagePct *decimal.Decimal `json:"entrySlippagePct,omitempty"`
	BotID            string           `json:"botId"`
	BotRunID         string           `json:"botRunId"`
	CorrelationID    string           `json:"correlationId,omitempty"`
	EntryProfileID   string           `json:"entryProfileId,omitempty"`
}

// Validate checks the structural invariants spec.md §3 requires of a signal.
func (s TradeSignal) Validate() error {
	if s.Direction != Call && s.Direction != Put {
		return errInvalid("direction must be CALL or PUT")
	}
	if s.Symbol == "" {
		return errInvalid("symbol is required")
	}
	if !s.Stake.IsPositive() {
		return errInvalid("stake must be > 0")
	}
	if s.Duration < 1 {
		return errInvalid("duration must be >= 1")
	}
	switch s.DurationUnit {
	case Ticks, Seconds, Minutes, Hours, Days:
	default:
		return errInvalid("duration unit must be one of t,s,m,h,d")
	}
	return nil
}

type validationError string

func (e validationError) Error() string { return string(e) }

func errInvalid(msg string) error { return validationError(msg) }

// DurationToMillis converts duration+unit to milliseconds, treating a tick
// as 1s per spec.md §8's boundary-behavior decision.
func (s TradeSignal) DurationToMillis() int64 {
	d := int64(s.Duration)
	switch s.DurationUnit {
	case Ticks, Seconds:
		return d * 1000
	case Minutes:
		return d * 60 * 1000
	case Hours:
		return d * 3600 * 1000
	case Days:
		return d * 86400 * 1000
	default:
		return d * 1000
	}
}

// OpenContract is an in-flight position, owned by the Open-Contracts index.
type OpenContract struct {
	ContractID    int64
	AccountID     string
	Symbol        string
	Direction     Direction
	BuyPrice      decimal.Decimal
	Payout        decimal.Decimal
	Stake         decimal.Decimal
	BotRunID      string
	OpenedAt      time.Time
	LastMarkPrice *decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// LedgerState is the execution ledger row's lifecycle state.
type LedgerState string

const (
	Pending LedgerState = "PENDING"
	Settled LedgerState = "SETTLED"
	Failed  LedgerState = "FAILED"
)

// LedgerRecord is the authoritative idempotency record for one settlement,
// per spec.md §3.
type LedgerRecord struct {
	ID            int64
	CorrelationID string
	AccountID     string
	Symbol        string
	ContractID    int64
	GrossPnL      decimal.Decimal
	Fees          decimal.Decimal
	NetPnL        decimal.Decimal
	State         LedgerState
	TradePayload  []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FailureReason string
}

// TradeRiskConfig is the snapshot the Pre-Trade Gate emits downstream, per
// spec.md §4.5.
type TradeRiskConfig struct {
	StopLoss                 *decimal.Decimal
	StrategyRequiresStopLoss bool
	MaxStake                 decimal.Decimal
}

// LatencyTrace carries the execution timestamps reported to the metrics
// sink by a fixed name, per spec.md §4.6.
type LatencyTrace struct {
	DecisionTs     time.Time
	GateEndTs      time.Time
	ProposalSentTs time.Time
	ProposalAckTs  time.Time
	BuySentTs      time.Time
	BuyAckTs       time.Time
	FillTs         *time.Time
	SettleTs       *time.Time
	TickReceivedTs *time.Time
}
