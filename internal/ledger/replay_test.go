package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/domain"
	"github.com/44dummies/execution-core/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func insertPendingLedgerRow(t *testing.T, st *store.Store, correlationID string, contractID int64) {
	t.Helper()
	payload := TradePayload{
		AccountID:     "acct1",
		ContractID:    contractID,
		Symbol:        "R_100",
		Direction:     "CALL",
		Stake:         "10",
		BuyPrice:      "10",
		Payout:        "19",
		GrossPnL:      "9",
		Fees:          "0",
		NetPnL:        "9",
		CorrelationID: correlationID,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload error = %v", err)
	}

	rec := domain.LedgerRecord{
		CorrelationID: correlationID,
		AccountID:     "acct1",
		Symbol:        "R_100",
		ContractID:    contractID,
		GrossPnL:      decimal.NewFromInt(9),
		Fees:          decimal.Zero,
		NetPnL:        decimal.NewFromInt(9),
		TradePayload:  buf,
	}
	if err := st.LedgerUpsertPending(context.Background(), rec); err != nil {
		t.Fatalf("LedgerUpsertPending() error = %v", err)
	}
}

func TestReplayPersistsMissingTradeRow(t *testing.T) {
	st := newTestStore(t)
	insertPendingLedgerRow(t, st, "corr-1", 7)

	r := New(st, nil)
	processed, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	exists, err := st.TradeExists(context.Background(), "acct1", 7)
	if err != nil {
		t.Fatalf("TradeExists() error = %v", err)
	}
	if !exists {
		t.Fatalf("TradeExists() = false, want true after replay")
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	insertPendingLedgerRow(t, st, "corr-1", 7)

	r := New(st, nil)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	processed, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if processed != 0 {
		t.Fatalf("second Run() processed = %d, want 0 (already settled)", processed)
	}
}

func TestReplaySkipsRowsWithExistingTrade(t *testing.T) {
	st := newTestStore(t)
	insertPendingLedgerRow(t, st, "corr-1", 7)

	if err := st.UpsertTrade(context.Background(), store.TradeRecord{
		AccountID:  "acct1",
		ContractID: 7,
		Symbol:     "R_100",
		Direction:  "CALL",
		Stake:      decimal.NewFromInt(10),
		BuyPrice:   decimal.NewFromInt(10),
		Payout:     decimal.NewFromInt(19),
	}); err != nil {
		t.Fatalf("UpsertTrade() error = %v", err)
	}

	r := New(st, nil)
	processed, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if processed != 0 {
		t.Fatalf("processed = %d, want 0 when trades row already exists", processed)
	}
}
