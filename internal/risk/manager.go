package risk

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
)

// Manager persists the account-wide and per-strategy risk policy that backs
// the Pre-Trade Gate's DB-backed policy lookup (spec.md §4.5 step 4). It
// holds no evaluation logic of its own: the fast-path risk cache
// (internal/riskcache) owns the actual per-trade decision, using the
// EvaluateParams this Manager produces from persisted config.
type Manager struct {
	db              *sql.DB
	config          *RiskConfig
	strategyConfigs map[string]*StrategyRiskConfig // Per-strategy config cache
	mu              sync.RWMutex
}

// NewManager creates a new risk manager backed by the DB.
// If no active config exists it inserts DefaultConfig.
func NewManager(db *sql.DB) (*Manager, error) {
	mgr := &Manager{
		db:              db,
		strategyConfigs: make(map[string]*StrategyRiskConfig),
	}

	if err := mgr.LoadConfig(); err != nil {
		if err == sql.ErrNoRows {
			def := DefaultConfig()
			if err := mgr.insertDefaultConfig(def); err != nil {
				return nil, fmt.Errorf("insert default risk config: %w", err)
			}
			mgr.config = &def
		} else {
			return nil, fmt.Errorf("load risk config: %w", err)
		}
	}

	cfg := mgr.GetConfig()
	log.Printf("risk manager initialized: daily_loss_limit=%.2f drawdown_limit=%.1f%%",
		cfg.MaxDailyLoss, cfg.MaxDrawdownPct)

	return mgr, nil
}

// NewInMemory creates a risk manager without DB persistence.
func NewInMemory(cfg RiskConfig) *Manager {
	return &Manager{
		db:              nil,
		config:          &cfg,
		strategyConfigs: make(map[string]*StrategyRiskConfig),
	}
}

// LoadConfig loads active risk configuration from DB or falls back to default.
func (m *Manager) LoadConfig() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		cfg := DefaultConfig()
		m.config = &cfg
		return nil
	}

	cfg := &RiskConfig{}
	query := `
		SELECT id, name, max_position_size, max_total_exposure, default_leverage,
		       default_stop_loss, default_take_profit, use_trailing_stop, trailing_percent,
		       max_daily_loss, max_daily_trades, max_drawdown_pct, min_order_size, max_order_size, max_slippage,
		       use_daily_trade_limit, use_daily_loss_limit, use_order_size_limits, use_position_size_limit,
		       is_active, created_at, updated_at
		FROM risk_configs
		WHERE is_active = 1
		LIMIT 1
	`

	var (
		useTrailing                                          int
		useDailyTrades, useDailyLoss, useOrderSize, usePosSz int
		isActive                                             int
	)

	err := m.db.QueryRow(query).Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.MaxPositionSize,
		&cfg.MaxTotalExposure,
		&cfg.DefaultLeverage,
		&cfg.DefaultStopLoss,
		&cfg.DefaultTakeProfit,
		&useTrailing,
		&cfg.TrailingPercent,
		&cfg.MaxDailyLoss,
		&cfg.MaxDailyTrades,
		&cfg.MaxDrawdownPct,
		&cfg.MinOrderSize,
		&cfg.MaxOrderSize,
		&cfg.MaxSlippage,
		&useDailyTrades,
		&useDailyLoss,
		&useOrderSize,
		&usePosSz,
		&isActive,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return err
	}

	cfg.UseTrailingStop = useTrailing == 1
	cfg.UseDailyTradeLimit = useDailyTrades == 1
	cfg.UseDailyLossLimit = useDailyLoss == 1
	cfg.UseOrderSizeLimits = useOrderSize == 1
	cfg.UsePositionSizeLimit = usePosSz == 1
	cfg.IsActive = isActive == 1

	m.config = cfg
	return nil
}

func (m *Manager) insertDefaultConfig(cfg RiskConfig) error {
	if m.db == nil {
		m.config = &cfg
		return nil
	}
	_, err := m.db.Exec(`
		INSERT INTO risk_configs (
			name, max_position_size, max_total_exposure, default_leverage,
			default_stop_loss, default_take_profit, use_trailing_stop, trailing_percent,
			max_daily_loss, max_daily_trades, max_drawdown_pct, min_order_size, max_order_size, max_slippage,
			use_daily_trade_limit, use_daily_loss_limit, use_order_size_limits, use_position_size_limit,
			is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`,
		cfg.Name,
		cfg.MaxPositionSize,
		cfg.MaxTotalExposure,
		cfg.DefaultLeverage,
		cfg.DefaultStopLoss,
		cfg.DefaultTakeProfit,
		boolToInt(cfg.UseTrailingStop),
		cfg.TrailingPercent,
		cfg.MaxDailyLoss,
		cfg.MaxDailyTrades,
		cfg.MaxDrawdownPct,
		cfg.MinOrderSize,
		cfg.MaxOrderSize,
		cfg.MaxSlippage,
		boolToInt(cfg.UseDailyTradeLimit),
		boolToInt(cfg.UseDailyLossLimit),
		boolToInt(cfg.UseOrderSizeLimits),
		boolToInt(cfg.UsePositionSizeLimit),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetConfig returns a copy of current config.
func (m *Manager) GetConfig() RiskConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// UpdateConfig updates the active risk configuration row.
func (m *Manager) UpdateConfig(ctx context.Context, cfg RiskConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		m.config = &cfg
		return nil
	}

	query := `
		UPDATE risk_configs
		SET max_position_size = ?, max_total_exposure = ?, default_leverage = ?,
		    default_stop_loss = ?, default_take_profit = ?, use_trailing_stop = ?,
		    trailing_percent = ?, max_daily_loss = ?, max_daily_trades = ?, max_drawdown_pct = ?,
		    min_order_size = ?, max_order_size = ?, max_slippage = ?,
		    use_daily_trade_limit = ?, use_daily_loss_limit = ?,
		    use_order_size_limits = ?, use_position_size_limit = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND is_active = 1
	`

	useTrailing := boolToInt(cfg.UseTrailingStop)
	useDailyTrades := boolToInt(cfg.UseDailyTradeLimit)
	useDailyLoss := boolToInt(cfg.UseDailyLossLimit)
	useOrderSize := boolToInt(cfg.UseOrderSizeLimits)
	usePosSize := boolToInt(cfg.UsePositionSizeLimit)

	_, err := m.db.ExecContext(ctx, query,
		cfg.MaxPositionSize,
		cfg.MaxTotalExposure,
		cfg.DefaultLeverage,
		cfg.DefaultStopLoss,
		cfg.DefaultTakeProfit,
		useTrailing,
		cfg.TrailingPercent,
		cfg.MaxDailyLoss,
		cfg.MaxDailyTrades,
		cfg.MaxDrawdownPct,
		cfg.MinOrderSize,
		cfg.MaxOrderSize,
		cfg.MaxSlippage,
		useDailyTrades,
		useDailyLoss,
		useOrderSize,
		usePosSize,
		m.config.ID,
	)
	if err != nil {
		return fmt.Errorf("update risk config: %w", err)
	}
	return m.LoadConfig()
}

// GetStrategyConfig returns risk config for a specific strategy instance key
// (see Policy for the account/bot-run key this package uses).
// Returns default config if not found.
func (m *Manager) GetStrategyConfig(strategyID string) StrategyRiskConfig {
	m.mu.RLock()
	if cfg, exists := m.strategyConfigs[strategyID]; exists && cfg != nil {
		m.mu.RUnlock()
		return *cfg
	}
	m.mu.RUnlock()

	// Try to load from DB
	if m.db != nil {
		cfg, err := m.loadStrategyConfigFromDB(strategyID)
		if err == nil {
			m.mu.Lock()
			m.strategyConfigs[strategyID] = &cfg
			m.mu.Unlock()
			return cfg
		}
	}

	// Return default
	return DefaultStrategyConfig(strategyID)
}

// loadStrategyConfigFromDB loads strategy config from database.
func (m *Manager) loadStrategyConfigFromDB(strategyID string) (StrategyRiskConfig, error) {
	cfg := StrategyRiskConfig{StrategyInstanceID: strategyID}
	var stopLoss, takeProfit sql.NullFloat64
	var useTrailing, enableRisk, usePosSize, useOrderSize int

	err := m.db.QueryRow(`
		SELECT max_position_size, min_order_size, max_order_size,
		       stop_loss, take_profit, use_trailing_stop, trailing_percent,
		       enable_risk, use_position_size_limit, use_order_size_limits, updated_at
		FROM strategy_risk_configs WHERE strategy_instance_id = ?
	`, strategyID).Scan(
		&cfg.MaxPositionSize, &cfg.MinOrderSize, &cfg.MaxOrderSize,
		&stopLoss, &takeProfit, &useTrailing, &cfg.TrailingPercent,
		&enableRisk, &usePosSize, &useOrderSize, &cfg.UpdatedAt,
	)
	if err != nil {
		return cfg, err
	}

	if stopLoss.Valid {
		cfg.StopLoss = &stopLoss.Float64
	}
	if takeProfit.Valid {
		cfg.TakeProfit = &takeProfit.Float64
	}
	cfg.UseTrailingStop = useTrailing == 1
	cfg.EnableRisk = enableRisk == 1
	cfg.UsePositionSizeLimit = usePosSize == 1
	cfg.UseOrderSizeLimits = useOrderSize == 1

	return cfg, nil
}

// SetStrategyConfig saves strategy-specific risk config.
func (m *Manager) SetStrategyConfig(cfg StrategyRiskConfig) error {
	m.mu.Lock()
	m.strategyConfigs[cfg.StrategyInstanceID] = &cfg
	m.mu.Unlock()

	if m.db == nil {
		return nil
	}

	var stopLoss, takeProfit interface{}
	if cfg.StopLoss != nil {
		stopLoss = *cfg.StopLoss
	}
	if cfg.TakeProfit != nil {
		takeProfit = *cfg.TakeProfit
	}

	_, err := m.db.Exec(`
		INSERT INTO strategy_risk_configs (
			strategy_instance_id, max_position_size, min_order_size, max_order_size,
			stop_loss, take_profit, use_trailing_stop, trailing_percent,
			enable_risk, use_position_size_limit, use_order_size_limits, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_instance_id) DO UPDATE SET
			max_position_size = excluded.max_position_size,
			min_order_size = excluded.min_order_size,
			max_order_size = excluded.max_order_size,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			use_trailing_stop = excluded.use_trailing_stop,
			trailing_percent = excluded.trailing_percent,
			enable_risk = excluded.enable_risk,
			use_position_size_limit = excluded.use_position_size_limit,
			use_order_size_limits = excluded.use_order_size_limits,
			updated_at = CURRENT_TIMESTAMP
	`,
		cfg.StrategyInstanceID, cfg.MaxPositionSize, cfg.MinOrderSize, cfg.MaxOrderSize,
		stopLoss, takeProfit, boolToInt(cfg.UseTrailingStop), cfg.TrailingPercent,
		boolToInt(cfg.EnableRisk), boolToInt(cfg.UsePositionSizeLimit), boolToInt(cfg.UseOrderSizeLimits),
	)
	return err
}
