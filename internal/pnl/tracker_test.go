package pnl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/domain"
)

func TestRegisterOpenAddsPositionAndExposure(t *testing.T) {
	tr := New()
	tr.RegisterOpen("A", domain.OpenContract{ContractID: 1, Symbol: "R_100", Stake: decimal.NewFromInt(10), BuyPrice: decimal.NewFromInt(10)})

	snap := tr.Snapshot("A")
	if snap.OpenPositionCount != 1 {
		t.Fatalf("OpenPositionCount = %d, want 1", snap.OpenPositionCount)
	}
	if !snap.OpenExposure.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("OpenExposure = %v, want 10", snap.OpenExposure)
	}
}

func TestMarkPositionUpdatesUnrealizedPnL(t *testing.T) {
	tr := New()
	tr.RegisterOpen("A", domain.OpenContract{ContractID: 1, Symbol: "R_100", Stake: decimal.NewFromInt(10), BuyPrice: decimal.NewFromInt(10)})
	tr.MarkPosition("A", 1, decimal.NewFromInt(3))

	snap := tr.Snapshot("A")
	if !snap.UnrealizedPnL.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("UnrealizedPnL = %v, want 3", snap.UnrealizedPnL)
	}
}

func TestSettleRemovesPositionAndUpdatesStats(t *testing.T) {
	tr := New()
	tr.RegisterOpen("A", domain.OpenContract{ContractID: 1, Symbol: "R_100", Stake: decimal.NewFromInt(10), BuyPrice: decimal.NewFromInt(10)})
	tr.MarkPosition("A", 1, decimal.NewFromInt(5))
	tr.Settle("A", 1, decimal.NewFromInt(10), decimal.NewFromInt(9))

	snap := tr.Snapshot("A")
	if snap.OpenPositionCount != 0 {
		t.Fatalf("OpenPositionCount = %d, want 0", snap.OpenPositionCount)
	}
	if !snap.OpenExposure.IsZero() {
		t.Fatalf("OpenExposure = %v, want 0", snap.OpenExposure)
	}
	if !snap.RealizedPnL.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("RealizedPnL = %v, want 9", snap.RealizedPnL)
	}
	if snap.WinCount != 1 {
		t.Fatalf("WinCount = %d, want 1", snap.WinCount)
	}
	if !snap.AvgWin.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("AvgWin = %v, want 9", snap.AvgWin)
	}
}

func TestSettleWithLossIncrementsLossStats(t *testing.T) {
	tr := New()
	tr.RegisterOpen("A", domain.OpenContract{ContractID: 1, Symbol: "R_100", Stake: decimal.NewFromInt(10), BuyPrice: decimal.NewFromInt(10)})
	tr.Settle("A", 1, decimal.NewFromInt(10), decimal.NewFromInt(-10))

	snap := tr.Snapshot("A")
	if snap.LossCount != 1 {
		t.Fatalf("LossCount = %d, want 1", snap.LossCount)
	}
	if !snap.AvgLoss.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("AvgLoss = %v, want 10", snap.AvgLoss)
	}
}

func TestOpenExposureNeverGoesNegative(t *testing.T) {
	tr := New()
	tr.RegisterOpen("A", domain.OpenContract{ContractID: 1, Symbol: "R_100", Stake: decimal.NewFromInt(5), BuyPrice: decimal.NewFromInt(5)})
	// Settle with a stake larger than what was registered (defensive case).
	tr.Settle("A", 1, decimal.NewFromInt(50), decimal.NewFromInt(1))

	snap := tr.Snapshot("A")
	if snap.OpenExposure.IsNegative() {
		t.Fatalf("OpenExposure = %v, want clamped at 0, not negative", snap.OpenExposure)
	}
}

func TestSubscribeReceivesSnapshotOnEveryChangeAndStopsAfterCancel(t *testing.T) {
	tr := New()
	ch, cancel := tr.Subscribe("A")

	tr.RegisterOpen("A", domain.OpenContract{ContractID: 1, Symbol: "R_100", Stake: decimal.NewFromInt(10), BuyPrice: decimal.NewFromInt(10)})

	select {
	case snap := <-ch:
		if snap.OpenPositionCount != 1 {
			t.Fatalf("OpenPositionCount = %d, want 1", snap.OpenPositionCount)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a published snapshot")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after cancel()")
	}
}

func TestSnapshotCarriesLastUpdatedTimestamp(t *testing.T) {
	tr := New()
	before := time.Now()
	tr.RegisterOpen("A", domain.OpenContract{ContractID: 1, Symbol: "R_100", Stake: decimal.NewFromInt(10), BuyPrice: decimal.NewFromInt(10)})
	snap := tr.Snapshot("A")
	if snap.LastUpdated.Before(before) {
		t.Fatalf("LastUpdated = %v, want >= %v", snap.LastUpdated, before)
	}
}
