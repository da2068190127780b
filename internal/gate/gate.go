// Package gate implements the Pre-Trade Gate of spec.md §4.5: the ordered
// composite check every trade passes before the Execution Engine is
// invoked.
package gate

import (
	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/apierr"
	"github.com/44dummies/execution-core/internal/breaker"
	"github.com/44dummies/execution-core/internal/domain"
	"github.com/44dummies/execution-core/internal/risk"
	"github.com/44dummies/execution-core/internal/riskcache"
)

// Hard-coded risk-halt error strings, preserved verbatim per spec.md §7/§9's
// decision to keep the legacy slow path's error strings even though the
// slow path itself is out of scope.
const (
	ReasonDailyLoss      = "Daily loss limit reached"
	ReasonDrawdown       = "Drawdown limit reached"
	ReasonKillSwitch     = "Kill switch active"
	ReasonMaxConcurrent  = "Maximum concurrent trades reached"
	ReasonCooldown       = "Cooldown active"
	ReasonLossCooldown   = "Loss cooldown active"
)

// PolicyLookup fetches the persisted risk policy for an account/bot run.
type PolicyLookup func(accountID, botRunID string) (riskcache.EvaluateParams, domain.TradeRiskConfig, error)

// Gate composes the checks of spec.md §4.5.
type Gate struct {
	breakers *breaker.Breakers
	sidecar  *risk.Sidecar
	cache    *riskcache.Cache
	policy   PolicyLookup
}

// New builds a Gate from its dependencies.
func New(breakers *breaker.Breakers, sidecar *risk.Sidecar, cache *riskcache.Cache, policy PolicyLookup) *Gate {
	return &Gate{breakers: breakers, sidecar: sidecar, cache: cache, policy: policy}
}

// Result is returned on a successful pass through the gate.
type Result struct {
	Stake     decimal.Decimal
	RiskCfg   domain.TradeRiskConfig
}

// Evaluate runs the ordered composite check: kill switch, circuit breaker,
// signal validation, persisted policy lookup, risk cache evaluation, risk
// manager pre-trade check, then recordOpened.
func (g *Gate) Evaluate(accountID, botRunID string, signal domain.TradeSignal) (Result, error) {
	if g.sidecar.IsKillSwitchActive(accountID) {
		return Result{}, apierr.New(apierr.CodeRiskHalt, ReasonKillSwitch, false)
	}

	if chk := g.breakers.Check(accountID); !chk.Allowed {
		return Result{}, apierr.New(apierr.CodeThrottle, chk.Reason, true).
			WithContext(map[string]any{"retryAfterMs": chk.RetryAfterMs, "state": chk.State})
	}

	if err := signal.Validate(); err != nil {
		return Result{}, apierr.Wrap(apierr.CodeDuplicateRejected, "invalid signal", false, err)
	}

	params, riskCfg, err := g.policy(accountID, botRunID)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.CodeWSNetwork, "load risk policy", true, err)
	}
	params.ProposedStake = signal.Stake

	stake := signal.Stake
	decision := g.cache.Evaluate(accountID, params)
	switch decision.Verdict {
	case riskcache.Allow:
		// fall through
	case riskcache.ReduceStake:
		stake = params.MaxStake
	case riskcache.Cooldown:
		return Result{}, apierr.New(apierr.CodeRiskHalt, ReasonCooldown, true).
			WithContext(map[string]any{"waitMs": decision.WaitMs})
	case riskcache.LossCooldown:
		return Result{}, apierr.New(apierr.CodeRiskHalt, ReasonLossCooldown, true).
			WithContext(map[string]any{"waitMs": decision.WaitMs})
	case riskcache.MaxConcurrent:
		return Result{}, apierr.New(apierr.CodeRiskHalt, ReasonMaxConcurrent, false)
	case riskcache.Halt:
		reason := ReasonDailyLoss
		if decision.HaltReason == riskcache.HaltDrawdown {
			reason = ReasonDrawdown
		}
		return Result{}, apierr.New(apierr.CodeRiskHalt, reason, false)
	}

	sidecarDecision := g.sidecar.PreTradeCheck(accountID, stakeToFloat(stake))
	if !sidecarDecision.Allowed {
		return Result{}, apierr.New(apierr.CodeThrottle, sidecarDecision.Reason, true)
	}

	g.cache.RecordOpened(accountID, stake)

	return Result{Stake: stake, RiskCfg: riskCfg}, nil
}

func stakeToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
