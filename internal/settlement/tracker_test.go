package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/contracts"
	"github.com/44dummies/execution-core/internal/domain"
	"github.com/44dummies/execution-core/internal/execution"
	"github.com/44dummies/execution-core/internal/monitor"
	"github.com/44dummies/execution-core/internal/pnl"
	"github.com/44dummies/execution-core/internal/riskcache"
	"github.com/44dummies/execution-core/pkg/broker"
	"github.com/44dummies/execution-core/pkg/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.Store, *riskcache.Cache, *contracts.Index) {
	t.Helper()

	cache := riskcache.New()
	cache.Initialize("acct1", decimal.NewFromInt(1000))
	idx := contracts.New()
	idx.Create(domain.OpenContract{ContractID: 7, AccountID: "acct1", Symbol: "R_100", Stake: decimal.NewFromInt(10)})
	cache.RecordOpened("acct1", decimal.NewFromInt(10))

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := DefaultConfig()
	cfg.LockWaiterTimeout = 200 * time.Millisecond
	tr := New(nil, idx, pnl.New(), cache, st, monitor.NewSystemMetrics(), cfg)
	return tr, st, cache, idx
}

func testRequest() execution.Request {
	return execution.Request{
		AccountID:     "acct1",
		Symbol:        "R_100",
		Stake:         decimal.NewFromInt(10),
		CorrelationID: "",
		Signal: domain.TradeSignal{
			Direction:    domain.Call,
			Symbol:       "R_100",
			Stake:        decimal.NewFromInt(10),
			Duration:     5,
			DurationUnit: domain.Ticks,
		},
	}
}

func TestTrackerFinalizeIsIdempotentAcrossRetries(t *testing.T) {
	tr, st, cache, idx := newTestTracker(t)
	req := testRequest()
	update := &broker.OpenContractUpdate{ContractID: 7, IsSold: true, Profit: 5}

	tr.finalize("acct1", 7, req, update)
	tr.finalize("acct1", 7, req, update) // must not double-apply P&L

	if _, ok := idx.Get(7); ok {
		t.Fatalf("contract 7 should have been removed from the index after settlement")
	}

	snap := cache.Snapshot("acct1")
	if snap.OpenTradeCount != 0 {
		t.Fatalf("OpenTradeCount = %d, want 0", snap.OpenTradeCount)
	}
	wantEquity := decimal.NewFromInt(1000).Add(decimal.NewFromInt(5))
	if !snap.Equity.Equal(wantEquity) {
		t.Fatalf("Equity = %v, want %v (settled exactly once)", snap.Equity, wantEquity)
	}

	exists, err := st.TradeExists(context.Background(), "acct1", 7)
	if err != nil {
		t.Fatalf("TradeExists() error = %v", err)
	}
	if !exists {
		t.Fatalf("TradeExists() = false, want true")
	}

	var tradeRows int
	if err := st.DB.QueryRow(`SELECT COUNT(1) FROM trades WHERE account_id = ? AND contract_id = ?`, "acct1", 7).Scan(&tradeRows); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if tradeRows != 1 {
		t.Fatalf("trade rows = %d, want exactly 1 despite two finalize calls", tradeRows)
	}
}

func TestTrackerOnTimeoutReleasesExposureAndRecordsStuckOrder(t *testing.T) {
	tr, _, cache, _ := newTestTracker(t)
	req := testRequest()

	tr.onTimeout("acct1", 7, req)

	snap := cache.Snapshot("acct1")
	if snap.OpenTradeCount != 0 {
		t.Fatalf("OpenTradeCount = %d, want 0 after stuck-order recovery", snap.OpenTradeCount)
	}
	if !snap.OpenExposure.IsZero() {
		t.Fatalf("OpenExposure = %v, want 0 after stuck-order recovery", snap.OpenExposure)
	}
}
