package execution

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/apierr"
	"github.com/44dummies/execution-core/internal/breaker"
	"github.com/44dummies/execution-core/internal/contracts"
	"github.com/44dummies/execution-core/internal/domain"
	"github.com/44dummies/execution-core/internal/gate"
	"github.com/44dummies/execution-core/internal/pnl"
	"github.com/44dummies/execution-core/internal/riskcache"
	"github.com/44dummies/execution-core/pkg/store"
)

// Settler is implemented by the settlement tracker; the Fast-Path Trade
// hands off a newly opened contract to it and returns without waiting.
type Settler interface {
	Track(accountID string, contractID int64, req Request, trace domain.LatencyTrace)
}

// FastPathResult is returned immediately on a successful buy, per
// spec.md §4.7 — settlement happens independently afterward.
type FastPathResult struct {
	ContractID      int64
	BuyPrice        decimal.Decimal
	Payout          decimal.Decimal
	Status          string
	ExecutionTimeMs int64
}

// FastPath composes the gate, the execution engine and the supporting
// containers into the single entry point strategies call to place a trade.
type FastPath struct {
	Gate      *gate.Gate
	Engine    *Engine
	Breakers  *breaker.Breakers
	Cache     *riskcache.Cache
	Contracts *contracts.Index
	PnL       *pnl.Tracker
	Store     *store.Store
	Settler   Settler
}

// NewFastPath builds a FastPath from its dependencies.
func NewFastPath(g *gate.Gate, e *Engine, b *breaker.Breakers, c *riskcache.Cache, idx *contracts.Index, tracker *pnl.Tracker, st *store.Store, settler Settler) *FastPath {
	return &FastPath{Gate: g, Engine: e, Breakers: b, Cache: c, Contracts: idx, PnL: tracker, Store: st, Settler: settler}
}

// Place runs the Fast-Path Trade: gate -> execute -> (success: index, mirror,
// persist, hand off to settlement) or (failure: release exposure, record
// breaker failure, persist failure, re-raise).
func (fp *FastPath) Place(ctx context.Context, accountID, botRunID string, signal domain.TradeSignal) (FastPathResult, error) {
	start := time.Now()

	gateResult, err := fp.Gate.Evaluate(accountID, botRunID, signal)
	if err != nil {
		return FastPathResult{}, err
	}

	correlationID := signal.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	req := Request{
		AccountID:                accountID,
		Signal:                   signal,
		Stake:                    gateResult.Stake,
		Symbol:                   signal.Symbol,
		Duration:                 signal.Duration,
		DurationUnit:             signal.DurationUnit,
		Currency:                 "USD",
		EntryMode:                signal.EntryMode,
		EntryTargetPrice:         signal.EntryTargetPrice,
		EntrySlippagePct:         signal.EntrySlippagePct,
		CorrelationID:            correlationID,
		StopLoss:                 gateResult.RiskCfg.StopLoss,
		StrategyRequiresStopLoss: gateResult.RiskCfg.StrategyRequiresStopLoss,
	}

	fp.persistOrderStatus(accountID, nil, correlationID, "proposal_requested", "")

	outcome, err := fp.Engine.Execute(ctx, req)
	if err != nil {
		fp.onFailure(accountID, correlationID, gateResult.Stake, err)
		return FastPathResult{}, err
	}

	fp.Breakers.RecordSuccess(accountID)

	contract := domain.OpenContract{
		ContractID: outcome.ContractID,
		AccountID:  accountID,
		Symbol:     signal.Symbol,
		Direction:  signal.Direction,
		BuyPrice:   outcome.BuyPrice,
		Payout:     outcome.Payout,
		Stake:      gateResult.Stake,
		BotRunID:   signal.BotRunID,
	}
	fp.Contracts.Create(contract)
	fp.PnL.RegisterOpen(accountID, contract)

	fp.persistOrderStatus(accountID, &outcome.ContractID, correlationID, "buy_confirmed", "")

	if fp.Settler != nil {
		fp.Settler.Track(accountID, outcome.ContractID, req, outcome.Trace)
	}

	return FastPathResult{
		ContractID:      outcome.ContractID,
		BuyPrice:        outcome.BuyPrice,
		Payout:          outcome.Payout,
		Status:          "open",
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func (fp *FastPath) onFailure(accountID, correlationID string, stake decimal.Decimal, err error) {
	fp.Cache.RecordFailedAttempt(accountID, stake)

	if apiErr, ok := err.(*apierr.Error); ok {
		if apiErr.Code != apierr.CodeThrottle {
			fp.Breakers.RecordFailure(accountID)
		}
		if apiErr.Code == apierr.CodeSlippageExceeded {
			fp.persistOrderStatus(accountID, nil, correlationID, "slippage_reject", apiErr.Message)
			return
		}
	} else {
		fp.Breakers.RecordFailure(accountID)
	}

	fp.persistOrderStatus(accountID, nil, correlationID, "error", err.Error())
}

func (fp *FastPath) persistOrderStatus(accountID string, contractID *int64, correlationID, event, detail string) {
	if fp.Store == nil {
		return
	}
	go func() {
		if err := fp.Store.InsertOrderStatus(context.Background(), accountID, contractID, correlationID, event, detail); err != nil {
			log.Printf("order_status persist failed account=%s event=%s: %v", accountID, event, err)
		}
	}()
}
