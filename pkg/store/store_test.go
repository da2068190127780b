package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertTradeIsIdempotentPerContract(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := TradeRecord{
		AccountID:  "acct1",
		ContractID: 42,
		Symbol:     "R_100",
		Direction:  "CALL",
		Stake:      decimal.NewFromInt(10),
		BuyPrice:   decimal.NewFromInt(10),
		Payout:     decimal.NewFromInt(19),
		OpenedAt:   time.Now(),
	}
	if err := s.UpsertTrade(ctx, rec); err != nil {
		t.Fatalf("UpsertTrade() error = %v", err)
	}

	rec.NetPnL = decimal.NewFromInt(9)
	rec.GrossPnL = decimal.NewFromInt(9)
	if err := s.UpsertTrade(ctx, rec); err != nil {
		t.Fatalf("UpsertTrade() second call error = %v", err)
	}

	exists, err := s.TradeExists(ctx, "acct1", 42)
	if err != nil {
		t.Fatalf("TradeExists() error = %v", err)
	}
	if !exists {
		t.Fatalf("TradeExists() = false, want true")
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM trades WHERE account_id = ? AND contract_id = ?`, "acct1", 42).Scan(&count); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if count != 1 {
		t.Fatalf("row count = %d, want 1 (upsert must not duplicate)", count)
	}
}

func TestLedgerUpsertPendingThenMarkSettled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := domain.LedgerRecord{
		CorrelationID: "corr-1",
		AccountID:     "acct1",
		Symbol:        "R_100",
		ContractID:    7,
		GrossPnL:      decimal.Zero,
		Fees:          decimal.Zero,
		NetPnL:        decimal.Zero,
	}
	if err := s.LedgerUpsertPending(ctx, rec); err != nil {
		t.Fatalf("LedgerUpsertPending() error = %v", err)
	}
	// Re-inserting with the same correlationId must be a no-op, not a new row.
	if err := s.LedgerUpsertPending(ctx, rec); err != nil {
		t.Fatalf("LedgerUpsertPending() second call error = %v", err)
	}

	pending, err := s.LedgerPendingRows(ctx)
	if err != nil {
		t.Fatalf("LedgerPendingRows() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending rows = %d, want 1", len(pending))
	}

	if err := s.LedgerMarkSettled(ctx, "corr-1", decimal.NewFromInt(9), decimal.NewFromInt(1), decimal.NewFromInt(8)); err != nil {
		t.Fatalf("LedgerMarkSettled() error = %v", err)
	}

	pending, err = s.LedgerPendingRows(ctx)
	if err != nil {
		t.Fatalf("LedgerPendingRows() error = %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending rows after settle = %d, want 0", len(pending))
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "acct1", "risk_state"); err != ErrNotFound {
		t.Fatalf("GetSetting() before write error = %v, want ErrNotFound", err)
	}

	if err := s.SetSetting(ctx, "acct1", "risk_state", `{"equity":"1000"}`); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if err := s.SetSetting(ctx, "acct1", "risk_state", `{"equity":"900"}`); err != nil {
		t.Fatalf("SetSetting() overwrite error = %v", err)
	}

	v, err := s.GetSetting(ctx, "acct1", "risk_state")
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if v != `{"equity":"900"}` {
		t.Fatalf("GetSetting() = %q, want latest value", v)
	}
}

func TestStartBotRunRejectsSecondConcurrentRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.StartBotRun(ctx, "run-1", "acct1", "bot-a", "{}"); err != nil {
		t.Fatalf("StartBotRun() error = %v", err)
	}
	if err := s.StartBotRun(ctx, "run-2", "acct1", "bot-b", "{}"); err == nil {
		t.Fatalf("StartBotRun() expected error for second concurrent run")
	}

	if err := s.StopBotRun(ctx, "run-1"); err != nil {
		t.Fatalf("StopBotRun() error = %v", err)
	}
	if err := s.StartBotRun(ctx, "run-2", "acct1", "bot-b", "{}"); err != nil {
		t.Fatalf("StartBotRun() after stop error = %v", err)
	}
}

func TestNeuralWeightsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.GetNeuralWeights(ctx, "acct1"); err != ErrNotFound {
		t.Fatalf("GetNeuralWeights() before write error = %v, want ErrNotFound", err)
	}

	blob := []byte{1, 2, 3, 4}
	if err := s.UpsertNeuralWeights(ctx, "acct1", blob, 5); err != nil {
		t.Fatalf("UpsertNeuralWeights() error = %v", err)
	}

	got, iterations, err := s.GetNeuralWeights(ctx, "acct1")
	if err != nil {
		t.Fatalf("GetNeuralWeights() error = %v", err)
	}
	if iterations != 5 {
		t.Fatalf("iterations = %d, want 5", iterations)
	}
	if string(got) != string(blob) {
		t.Fatalf("weights = %v, want %v", got, blob)
	}
}
