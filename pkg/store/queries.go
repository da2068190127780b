package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/domain"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// TradeRecord is a persisted row of the trades table.
type TradeRecord struct {
	AccountID     string
	ContractID    int64
	Symbol        string
	Direction     string
	Stake         decimal.Decimal
	BuyPrice      decimal.Decimal
	Payout        decimal.Decimal
	GrossPnL      decimal.Decimal
	Fees          decimal.Decimal
	NetPnL        decimal.Decimal
	BotID         string
	BotRunID      string
	CorrelationID string
	OpenedAt      time.Time
	SettledAt     *time.Time
}

// UpsertTrade inserts or updates the trades row keyed by (account_id,
// contract_id), following pkg/db/queries.go's ON CONFLICT DO UPDATE idiom.
func (s *Store) UpsertTrade(ctx context.Context, t TradeRecord) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO trades (
			account_id, contract_id, symbol, direction, stake, buy_price,
			payout, gross_pnl, fees, net_pnl, bot_id, bot_run_id,
			correlation_id, opened_at, settled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, contract_id) DO UPDATE SET
			gross_pnl = excluded.gross_pnl,
			fees = excluded.fees,
			net_pnl = excluded.net_pnl,
			settled_at = excluded.settled_at
	`,
		t.AccountID, t.ContractID, t.Symbol, t.Direction, t.Stake.String(),
		t.BuyPrice.String(), t.Payout.String(), t.GrossPnL.String(), t.Fees.String(),
		t.NetPnL.String(), t.BotID, t.BotRunID, t.CorrelationID, t.OpenedAt, t.SettledAt,
	)
	return err
}

// TradeExists reports whether a trades row exists for (accountID,
// contractID), used by the ledger replay's idempotency check.
func (s *Store) TradeExists(ctx context.Context, accountID string, contractID int64) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM trades WHERE account_id = ? AND contract_id = ?`,
		accountID, contractID,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertOrderStatus appends an order-status event row.
func (s *Store) InsertOrderStatus(ctx context.Context, accountID string, contractID *int64, correlationID, event, detail string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO order_status (account_id, contract_id, correlation_id, event, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, accountID, contractID, correlationID, event, detail, time.Now())
	return err
}

// InsertNotification appends a notification row.
func (s *Store) InsertNotification(ctx context.Context, accountID, notifType string, payload any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO notifications (account_id, type, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, accountID, notifType, string(buf), time.Now())
	return err
}

// LedgerUpsertPending inserts a PENDING ledger row keyed by correlationID,
// or is a no-op if the correlationID already has a row (idempotent retry).
func (s *Store) LedgerUpsertPending(ctx context.Context, rec domain.LedgerRecord) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO execution_ledger (
			correlation_id, account_id, symbol, contract_id, gross_pnl, fees,
			net_pnl, state, trade_payload, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(correlation_id) DO NOTHING
	`,
		rec.CorrelationID, rec.AccountID, rec.Symbol, rec.ContractID,
		rec.GrossPnL.String(), rec.Fees.String(), rec.NetPnL.String(),
		string(domain.Pending), rec.TradePayload, time.Now(), time.Now(),
	)
	return err
}

// LedgerMarkSettled transitions a ledger row to SETTLED.
func (s *Store) LedgerMarkSettled(ctx context.Context, correlationID string, grossPnL, fees, netPnL decimal.Decimal) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE execution_ledger
		SET state = ?, gross_pnl = ?, fees = ?, net_pnl = ?, updated_at = ?
		WHERE correlation_id = ?
	`, string(domain.Settled), grossPnL.String(), fees.String(), netPnL.String(), time.Now(), correlationID)
	return err
}

// LedgerMarkFailed transitions a ledger row to FAILED with a reason.
func (s *Store) LedgerMarkFailed(ctx context.Context, correlationID, reason string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE execution_ledger
		SET state = ?, failure_reason = ?, updated_at = ?
		WHERE correlation_id = ?
	`, string(domain.Failed), reason, time.Now(), correlationID)
	return err
}

// LedgerPendingRows returns every ledger row whose state is not SETTLED
// (PENDING and FAILED rows), for replay at startup.
func (s *Store) LedgerPendingRows(ctx context.Context) ([]domain.LedgerRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT correlation_id, account_id, symbol, contract_id, gross_pnl,
		       fees, net_pnl, state, trade_payload, created_at, updated_at
		FROM execution_ledger
		WHERE state != ?
	`, string(domain.Settled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerRecord
	for rows.Next() {
		var (
			rec                        domain.LedgerRecord
			gross, fees, net           string
			state                      string
			contractID                 sql.NullInt64
		)
		if err := rows.Scan(&rec.CorrelationID, &rec.AccountID, &rec.Symbol, &contractID,
			&gross, &fees, &net, &state, &rec.TradePayload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.State = domain.LedgerState(state)
		rec.GrossPnL, _ = decimal.NewFromString(gross)
		rec.Fees, _ = decimal.NewFromString(fees)
		rec.NetPnL, _ = decimal.NewFromString(net)
		if contractID.Valid {
			rec.ContractID = contractID.Int64
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetSetting upserts a (account_id, key) -> value setting, e.g. risk_state
// or balance_snapshot per spec.md §6.
func (s *Store) SetSetting(ctx context.Context, accountID, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO settings (account_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, accountID, key, value, time.Now())
	return err
}

// GetSetting returns the value for (accountID, key), or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, accountID, key string) (string, error) {
	var value string
	err := s.DB.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE account_id = ? AND key = ?`,
		accountID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// BotRunStatus enumerates bot_runs.run_status values.
type BotRunStatus string

const (
	BotRunRunning BotRunStatus = "running"
	BotRunPaused  BotRunStatus = "paused"
	BotRunStopped BotRunStatus = "stopped"
)

// StartBotRun inserts a new running bot_runs row, refusing to create a
// second concurrent running row for the same account.
func (s *Store) StartBotRun(ctx context.Context, id, accountID, botID, config string) error {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM bot_runs WHERE account_id = ? AND run_status = ?`,
		accountID, string(BotRunRunning),
	).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return errors.New("store: a bot run is already running for this account")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO bot_runs (id, account_id, bot_id, run_status, config, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, accountID, botID, string(BotRunRunning), config, time.Now())
	return err
}

// StopBotRun marks a bot run stopped.
func (s *Store) StopBotRun(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE bot_runs SET run_status = ?, stopped_at = ? WHERE id = ?
	`, string(BotRunStopped), time.Now(), id)
	return err
}

// UpsertNeuralWeights persists a serialized weight blob for accountID.
func (s *Store) UpsertNeuralWeights(ctx context.Context, accountID string, weights []byte, iterations int) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO neural_weights (account_id, weights, iterations, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			weights = excluded.weights,
			iterations = excluded.iterations,
			updated_at = excluded.updated_at
	`, accountID, weights, iterations, time.Now())
	return err
}

// GetNeuralWeights returns the persisted weight blob and iteration count for
// accountID, or ErrNotFound.
func (s *Store) GetNeuralWeights(ctx context.Context, accountID string) ([]byte, int, error) {
	var (
		weights    []byte
		iterations int
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT weights, iterations FROM neural_weights WHERE account_id = ?`,
		accountID,
	).Scan(&weights, &iterations)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	return weights, iterations, err
}
