package risk

import (
	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/domain"
	"github.com/44dummies/execution-core/internal/riskcache"
)

// strategyKey picks the StrategyRiskConfig row a given account/bot-run pair
// should read. A bot run gets its own row so a strategy instance can carry
// tighter limits than the account default; signals placed without a bot run
// (manual/ad-hoc) fall back to the account-level row.
func strategyKey(accountID, botRunID string) string {
	if botRunID != "" {
		return accountID + ":" + botRunID
	}
	return accountID
}

// Policy maps the persisted account and strategy risk configuration into the
// shapes the Pre-Trade Gate needs: the fast-path cache's EvaluateParams and
// the TradeRiskConfig snapshot passed through to the Execution Engine. It is
// the gate.PolicyLookup this Manager backs.
func (m *Manager) Policy(accountID, botRunID string) (riskcache.EvaluateParams, domain.TradeRiskConfig, error) {
	cfg := m.GetConfig()
	strategyCfg := m.GetStrategyConfig(strategyKey(accountID, botRunID))

	params := riskcache.EvaluateParams{
		MaxStake:          decimal.NewFromFloat(strategyCfg.MaxOrderSize),
		DailyLossLimitPct: dailyLossLimitPct(cfg),
		DrawdownLimitPct:  cfg.MaxDrawdownPct,
	}
	if !cfg.EnableRisk || !strategyCfg.EnableRisk {
		params.DailyLossLimitPct = 0
		params.DrawdownLimitPct = 0
	}

	stopLossPct := cfg.DefaultStopLoss
	if strategyCfg.StopLoss != nil {
		stopLossPct = *strategyCfg.StopLoss
	}

	riskCfg := domain.TradeRiskConfig{
		MaxStake:                 decimal.NewFromFloat(strategyCfg.MaxOrderSize),
		StrategyRequiresStopLoss: cfg.EnableRisk && strategyCfg.EnableRisk && stopLossPct > 0,
	}

	return params, riskCfg, nil
}

// dailyLossLimitPct derives a percentage-of-equity daily loss ceiling from
// the legacy absolute-dollar MaxDailyLoss/MaxTotalExposure pair this package
// was adapted from: the fast-path cache only understands a percentage of the
// account's own start-of-day equity, not a fixed dollar figure.
func dailyLossLimitPct(cfg RiskConfig) float64 {
	if !cfg.UseDailyLossLimit || cfg.MaxTotalExposure <= 0 {
		return 0
	}
	return cfg.MaxDailyLoss / cfg.MaxTotalExposure * 100
}
