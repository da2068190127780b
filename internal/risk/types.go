package risk

import (
	"time"
)

// RiskConfig defines the account-wide policy floor persisted in risk_configs.
// Fields are carried over from the legacy spot-trading risk manager this
// package was adapted from; MaxDrawdownPct is new, since that manager had no
// equity-peak-relative limit and the Pre-Trade Gate's fast-path cache needs one.
type RiskConfig struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	// Position Management
	MaxPositionSize  float64 `json:"max_position_size"`
	MaxTotalExposure float64 `json:"max_total_exposure"`
	DefaultLeverage  float64 `json:"default_leverage"`

	// Stop Loss / Take Profit
	DefaultStopLoss   float64 `json:"default_stop_loss"`
	DefaultTakeProfit float64 `json:"default_take_profit"`
	UseTrailingStop   bool    `json:"use_trailing_stop"`
	TrailingPercent   float64 `json:"trailing_percent"`

	// Daily / drawdown limits, read by the fast-path policy lookup.
	MaxDailyLoss   float64 `json:"max_daily_loss"`
	MaxDailyTrades int     `json:"max_daily_trades"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"` // percentage points off equity peak

	// Order Validation
	MinOrderSize float64 `json:"min_order_size"`
	MaxOrderSize float64 `json:"max_order_size"`
	MaxSlippage  float64 `json:"max_slippage"`

	// Feature toggles
	EnableRisk           bool `json:"enable_risk"` // Global risk control switch
	UseDailyTradeLimit   bool `json:"use_daily_trade_limit"`
	UseDailyLossLimit    bool `json:"use_daily_loss_limit"`
	UseOrderSizeLimits   bool `json:"use_order_size_limits"`
	UsePositionSizeLimit bool `json:"use_position_size_limit"`
	UseExposureLimit     bool `json:"use_exposure_limit"` // Total exposure limit

	// Metadata
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultConfig returns default risk configuration.
func DefaultConfig() RiskConfig {
	return RiskConfig{
		Name:                 "default",
		MaxPositionSize:      1000.0,
		MaxTotalExposure:     5000.0,
		DefaultLeverage:      1.0,
		DefaultStopLoss:      0.02,
		DefaultTakeProfit:    0.05,
		UseTrailingStop:      false,
		TrailingPercent:      0.015,
		MaxDailyLoss:         2000.0,
		MaxDailyTrades:       20,
		MaxDrawdownPct:       20.0,
		MinOrderSize:         10.0,
		MaxOrderSize:         10000.0,
		MaxSlippage:          0.005,
		EnableRisk:           true,
		UseDailyTradeLimit:   true,
		UseDailyLossLimit:    true,
		UseOrderSizeLimits:   true,
		UsePositionSizeLimit: true,
		UseExposureLimit:     true,
		IsActive:             true,
	}
}

// StrategyRiskConfig defines per-strategy (here: per account/bot-run) risk
// settings layered on top of RiskConfig.
type StrategyRiskConfig struct {
	StrategyInstanceID string `json:"strategy_instance_id"`

	// Position & Order limits
	MaxPositionSize float64 `json:"max_position_size"`
	MinOrderSize    float64 `json:"min_order_size"`
	MaxOrderSize    float64 `json:"max_order_size"`

	// Stop Loss / Take Profit (nil means use global default)
	StopLoss        *float64 `json:"stop_loss"`
	TakeProfit      *float64 `json:"take_profit"`
	UseTrailingStop bool     `json:"use_trailing_stop"`
	TrailingPercent float64  `json:"trailing_percent"`

	// Enable switch
	EnableRisk bool `json:"enable_risk"`

	// Feature toggles
	UsePositionSizeLimit bool `json:"use_position_size_limit"`
	UseOrderSizeLimits   bool `json:"use_order_size_limits"`

	// Metadata
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultStrategyConfig returns default per-strategy risk config.
func DefaultStrategyConfig(strategyID string) StrategyRiskConfig {
	return StrategyRiskConfig{
		StrategyInstanceID:   strategyID,
		MaxPositionSize:      1000.0,
		MinOrderSize:         10.0,
		MaxOrderSize:         10000.0,
		StopLoss:             nil, // Use global default
		TakeProfit:           nil, // Use global default
		UseTrailingStop:      false,
		TrailingPercent:      0.015,
		EnableRisk:           true,
		UsePositionSizeLimit: true,
		UseOrderSizeLimits:   true,
	}
}
