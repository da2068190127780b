package store

import (
	"database/sql"
	"fmt"
)

// schema creates the tables spec.md §6 names plus the risk-policy tables
// internal/risk persists to, following the flat SQL-constant-plus-
// ensureColumn migration convention the teacher repo used.
const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	contract_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	stake TEXT NOT NULL,
	buy_price TEXT NOT NULL,
	payout TEXT NOT NULL,
	gross_pnl TEXT NOT NULL DEFAULT '0',
	fees TEXT NOT NULL DEFAULT '0',
	net_pnl TEXT NOT NULL DEFAULT '0',
	bot_id TEXT,
	bot_run_id TEXT,
	correlation_id TEXT,
	opened_at DATETIME NOT NULL,
	settled_at DATETIME,
	UNIQUE(account_id, contract_id)
);

CREATE TABLE IF NOT EXISTS order_status (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	contract_id INTEGER,
	correlation_id TEXT,
	event TEXT NOT NULL,
	detail TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_ledger (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	contract_id INTEGER,
	gross_pnl TEXT NOT NULL DEFAULT '0',
	fees TEXT NOT NULL DEFAULT '0',
	net_pnl TEXT NOT NULL DEFAULT '0',
	state TEXT NOT NULL,
	trade_payload BLOB,
	failure_reason TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	account_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (account_id, key)
);

CREATE TABLE IF NOT EXISTS bot_runs (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	bot_id TEXT NOT NULL,
	run_status TEXT NOT NULL,
	config TEXT,
	started_at DATETIME NOT NULL,
	stopped_at DATETIME
);

CREATE TABLE IF NOT EXISTS neural_weights (
	account_id TEXT PRIMARY KEY,
	weights BLOB NOT NULL,
	iterations INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_configs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	max_position_size REAL NOT NULL,
	max_total_exposure REAL NOT NULL,
	default_leverage REAL NOT NULL,
	default_stop_loss REAL NOT NULL,
	default_take_profit REAL NOT NULL,
	use_trailing_stop INTEGER NOT NULL DEFAULT 0,
	trailing_percent REAL NOT NULL DEFAULT 0,
	max_daily_loss REAL NOT NULL,
	max_daily_trades INTEGER NOT NULL,
	max_drawdown_pct REAL NOT NULL DEFAULT 0,
	min_order_size REAL NOT NULL,
	max_order_size REAL NOT NULL,
	max_slippage REAL NOT NULL DEFAULT 0,
	use_daily_trade_limit INTEGER NOT NULL DEFAULT 0,
	use_daily_loss_limit INTEGER NOT NULL DEFAULT 0,
	use_order_size_limits INTEGER NOT NULL DEFAULT 0,
	use_position_size_limit INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS strategy_risk_configs (
	strategy_instance_id TEXT PRIMARY KEY,
	max_position_size REAL NOT NULL,
	min_order_size REAL NOT NULL,
	max_order_size REAL NOT NULL,
	stop_loss REAL,
	take_profit REAL,
	use_trailing_stop INTEGER NOT NULL DEFAULT 0,
	trailing_percent REAL NOT NULL DEFAULT 0,
	enable_risk INTEGER NOT NULL DEFAULT 1,
	use_position_size_limit INTEGER NOT NULL DEFAULT 0,
	use_order_size_limits INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_status_account ON order_status(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_notifications_account ON notifications(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_execution_ledger_state ON execution_ledger(state);
CREATE INDEX IF NOT EXISTS idx_bot_runs_account_status ON bot_runs(account_id, run_status);
CREATE INDEX IF NOT EXISTS idx_risk_configs_active ON risk_configs(is_active);
`

func (s *Store) applyMigrations() error {
	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// ensureColumn adds column to table if it does not already exist, mirroring
// pkg/db/schema.go's idempotent migration helper.
func ensureColumn(db *sql.DB, table, column, ddl string) error {
	ok, err := columnExists(db, table, column)
	if err != nil {
		return fmt.Errorf("check column %s.%s: %w", table, column, err)
	}
	if ok {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, ddl))
	if err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}
