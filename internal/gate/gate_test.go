package gate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/apierr"
	"github.com/44dummies/execution-core/internal/breaker"
	"github.com/44dummies/execution-core/internal/domain"
	"github.com/44dummies/execution-core/internal/risk"
	"github.com/44dummies/execution-core/internal/riskcache"
)

func lookupFor(params riskcache.EvaluateParams, cfg domain.TradeRiskConfig) PolicyLookup {
	return func(accountID, botRunID string) (riskcache.EvaluateParams, domain.TradeRiskConfig, error) {
		return params, cfg, nil
	}
}

func newTestGate(lookup PolicyLookup) (*Gate, *riskcache.Cache, *risk.Sidecar) {
	cache := riskcache.New()
	cache.Initialize("acct1", decimal.NewFromInt(1000))
	breakers := breaker.New(5, time.Minute)
	sidecar := risk.NewSidecar(risk.Limits{})
	return New(breakers, sidecar, cache, lookup), cache, sidecar
}

func validSignal() domain.TradeSignal {
	return domain.TradeSignal{
		Direction:    domain.Call,
		Symbol:       "R_100",
		Stake:        decimal.NewFromInt(1),
		Duration:     5,
		DurationUnit: domain.Ticks,
	}
}

func TestGateAllowsValidTrade(t *testing.T) {
	g, cache, _ := newTestGate(lookupFor(riskcache.EvaluateParams{}, domain.TradeRiskConfig{}))

	res, err := g.Evaluate("acct1", "", validSignal())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !res.Stake.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("Stake=%v, want 1", res.Stake)
	}

	snap := cache.Snapshot("acct1")
	if snap.OpenTradeCount != 1 {
		t.Fatalf("OpenTradeCount=%d, want 1 after recordOpened", snap.OpenTradeCount)
	}
}

func TestGateBlocksOnKillSwitch(t *testing.T) {
	g, _, sidecar := newTestGate(lookupFor(riskcache.EvaluateParams{}, domain.TradeRiskConfig{}))
	sidecar.ActivateKillSwitch("acct1")

	_, err := g.Evaluate("acct1", "", validSignal())
	if err == nil {
		t.Fatalf("Evaluate() expected error")
	}
	if e, ok := err.(*apierr.Error); !ok || e.Message != ReasonKillSwitch {
		t.Fatalf("Evaluate() error = %v, want %q", err, ReasonKillSwitch)
	}
}

func TestGateRejectsInvalidSignal(t *testing.T) {
	g, _, _ := newTestGate(lookupFor(riskcache.EvaluateParams{}, domain.TradeRiskConfig{}))

	bad := validSignal()
	bad.Stake = decimal.Zero

	_, err := g.Evaluate("acct1", "", bad)
	if err == nil {
		t.Fatalf("Evaluate() expected error for zero stake")
	}
}

func TestGateReducesStakeWhenAboveMax(t *testing.T) {
	params := riskcache.EvaluateParams{MaxStake: decimal.NewFromInt(1)}
	g, _, _ := newTestGate(lookupFor(params, domain.TradeRiskConfig{}))

	sig := validSignal()
	sig.Stake = decimal.NewFromInt(5)

	res, err := g.Evaluate("acct1", "", sig)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !res.Stake.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("Stake=%v, want clamped to 1", res.Stake)
	}
}

func TestGateHaltsOnDrawdown(t *testing.T) {
	params := riskcache.EvaluateParams{DrawdownLimitPct: 10}
	g, cache, _ := newTestGate(lookupFor(params, domain.TradeRiskConfig{}))
	cache.RecordSettled("acct1", decimal.NewFromInt(10), decimal.NewFromInt(-200), false)

	_, err := g.Evaluate("acct1", "", validSignal())
	if err == nil {
		t.Fatalf("Evaluate() expected HALT error")
	}
	e, ok := err.(*apierr.Error)
	if !ok || e.Message != ReasonDrawdown {
		t.Fatalf("Evaluate() error = %v, want %q", err, ReasonDrawdown)
	}
}
