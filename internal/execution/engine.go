// Package execution implements the Execution Engine of spec.md §4.6: the
// only component that speaks the broker's proposal/buy protocol.
package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/apierr"
	"github.com/44dummies/execution-core/internal/domain"
	"github.com/44dummies/execution-core/pkg/broker"
	"github.com/44dummies/execution-core/pkg/money"
)

// Request bundles everything the Execution Engine needs for one trade,
// per spec.md §4.6.
type Request struct {
	AccountID               string
	Signal                  domain.TradeSignal
	Stake                   decimal.Decimal
	Symbol                  string
	Duration                int
	DurationUnit            domain.DurationUnit
	Currency                string
	EntryMode               domain.EntryMode
	EntryTargetPrice        *decimal.Decimal
	EntrySlippagePct        *decimal.Decimal
	CorrelationID           string
	StopLoss                *decimal.Decimal
	StrategyRequiresStopLoss bool
}

// Outcome is returned on a successful buy.
type Outcome struct {
	ContractID int64
	BuyPrice   decimal.Decimal
	Payout     decimal.Decimal
	Proposal   *broker.Proposal
	Trace      domain.LatencyTrace
}

// Engine drives the proposal -> slippage gate -> buy protocol over a
// broker session.
type Engine struct {
	sessions *broker.Manager
}

// New builds an Engine over the given session manager.
func New(sessions *broker.Manager) *Engine {
	return &Engine{sessions: sessions}
}

// Timeout computes max(30s, durationMs + 15s), per spec.md §4.6.
func Timeout(req Request) time.Duration {
	baseDurationMs := req.Signal.DurationToMillis()
	candidate := time.Duration(baseDurationMs)*time.Millisecond + 15*time.Second
	if candidate < 30*time.Second {
		return 30 * time.Second
	}
	return candidate
}

// Execute runs the proposal -> ack -> slippage gate -> buy -> ack protocol.
func (e *Engine) Execute(ctx context.Context, req Request) (Outcome, error) {
	outerCtx, cancel := context.WithTimeout(ctx, Timeout(req))
	defer cancel()

	trace := domain.LatencyTrace{DecisionTs: time.Now()}

	reqID, err := e.sessions.NextReqID(outerCtx, req.AccountID)
	if err != nil {
		return Outcome{}, err
	}

	stakeFloat, _ := req.Stake.Float64()
	proposalReq := broker.ProposalRequest{
		Proposal:     1,
		Amount:       stakeFloat,
		Basis:        "stake",
		ContractType: string(req.Signal.Direction),
		Currency:     req.Currency,
		Duration:     req.Duration,
		DurationUnit: string(req.DurationUnit),
		Symbol:       req.Symbol,
		ReqID:        reqID,
	}

	trace.ProposalSentTs = time.Now()
	proposalResp, err := e.sessions.Send(outerCtx, req.AccountID, reqID, proposalReq, 15*time.Second)
	if err != nil {
		return Outcome{}, err
	}
	trace.ProposalAckTs = time.Now()

	if proposalResp.Error != nil {
		return Outcome{}, apierr.New(apierr.CodeProposalReject, proposalResp.Error.Message, false)
	}
	if proposalResp.Proposal == nil {
		return Outcome{}, apierr.New(apierr.CodeProposalReject, "missing proposal in response", false)
	}
	proposal := proposalResp.Proposal

	if req.EntryMode == domain.HybridLimitMarket && req.EntryTargetPrice != nil && req.EntrySlippagePct != nil && proposal.Spot != 0 {
		spot := decimal.NewFromFloat(proposal.Spot)
		slippagePct := money.SlippagePct(spot, *req.EntryTargetPrice)
		if slippagePct.GreaterThan(*req.EntrySlippagePct) {
			return Outcome{}, apierr.New(apierr.CodeSlippageExceeded, "slippage exceeded tolerance", false).
				WithContext(map[string]any{
					"spot":            proposal.Spot,
					"entryTargetPrice": req.EntryTargetPrice.String(),
					"slippagePct":     slippagePct.String(),
					"tolerancePct":    req.EntrySlippagePct.String(),
					"askPrice":        proposal.AskPrice,
				})
		}
	}

	buyReqID, err := e.sessions.NextReqID(outerCtx, req.AccountID)
	if err != nil {
		return Outcome{}, err
	}
	buyReq := broker.BuyRequest{
		Buy:   proposal.ID,
		Price: proposal.AskPrice,
		ReqID: buyReqID,
	}

	trace.BuySentTs = time.Now()
	buyResp, err := e.sessions.Send(outerCtx, req.AccountID, buyReqID, buyReq, 15*time.Second)
	if err != nil {
		return Outcome{}, err
	}
	trace.BuyAckTs = time.Now()

	if buyResp.Error != nil {
		return Outcome{}, apierr.New(apierr.CodeBuyReject, buyResp.Error.Message, false)
	}
	if buyResp.Buy == nil {
		return Outcome{}, apierr.New(apierr.CodeBuyReject, "missing buy result in response", false)
	}

	return Outcome{
		ContractID: buyResp.Buy.ContractID,
		BuyPrice:   decimal.NewFromFloat(buyResp.Buy.BuyPrice),
		Payout:     decimal.NewFromFloat(buyResp.Buy.Payout),
		Proposal:   proposal,
		Trace:      trace,
	}, nil
}
