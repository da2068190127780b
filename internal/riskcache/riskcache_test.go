package riskcache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestEvaluateHaltsOnDrawdown(t *testing.T) {
	c := New()
	c.Initialize("acct1", decimal.NewFromInt(1000))

	c.RecordSettled("acct1", decimal.NewFromInt(10), decimal.NewFromInt(-400), false)

	d := c.Evaluate("acct1", EvaluateParams{
		ProposedStake:    decimal.NewFromInt(10),
		DrawdownLimitPct: 30,
	})

	if d.Verdict != Halt || d.HaltReason != HaltDrawdown {
		t.Fatalf("Evaluate() = %+v, want HALT/DRAWDOWN", d)
	}
}

func TestEvaluateMaxConcurrent(t *testing.T) {
	c := New()
	c.Initialize("acct1", decimal.NewFromInt(1000))
	c.RecordOpened("acct1", decimal.NewFromInt(5))
	c.RecordOpened("acct1", decimal.NewFromInt(5))

	d := c.Evaluate("acct1", EvaluateParams{
		ProposedStake:       decimal.NewFromInt(5),
		MaxConcurrentTrades: 2,
	})

	if d.Verdict != MaxConcurrent {
		t.Fatalf("Evaluate() = %+v, want MAX_CONCURRENT", d)
	}
}

func TestEvaluateReduceStake(t *testing.T) {
	c := New()
	c.Initialize("acct1", decimal.NewFromInt(1000))

	d := c.Evaluate("acct1", EvaluateParams{
		ProposedStake: decimal.NewFromInt(20),
		MaxStake:      decimal.NewFromInt(10),
	})

	if d.Verdict != ReduceStake {
		t.Fatalf("Evaluate() = %+v, want REDUCE_STAKE", d)
	}
}

func TestExposureInvariant(t *testing.T) {
	c := New()
	c.Initialize("acct1", decimal.NewFromInt(1000))

	c.RecordOpened("acct1", decimal.NewFromInt(10))
	c.RecordOpened("acct1", decimal.NewFromInt(20))

	snap := c.Snapshot("acct1")
	if !snap.OpenExposure.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("OpenExposure=%v, want 30", snap.OpenExposure)
	}
	if snap.OpenTradeCount != 2 {
		t.Fatalf("OpenTradeCount=%v, want 2", snap.OpenTradeCount)
	}

	c.RecordSettled("acct1", decimal.NewFromInt(10), decimal.NewFromInt(5), false)
	snap = c.Snapshot("acct1")
	if !snap.OpenExposure.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("OpenExposure after settle=%v, want 20", snap.OpenExposure)
	}
	if snap.OpenTradeCount != 1 {
		t.Fatalf("OpenTradeCount after settle=%v, want 1", snap.OpenTradeCount)
	}
	if snap.ConsecutiveWins != 1 || snap.LossStreak != 0 {
		t.Fatalf("streak mismatch: wins=%d losses=%d", snap.ConsecutiveWins, snap.LossStreak)
	}
}

func TestStreaksAreMutuallyExclusive(t *testing.T) {
	c := New()
	c.Initialize("acct1", decimal.NewFromInt(1000))
	c.RecordOpened("acct1", decimal.NewFromInt(10))

	c.RecordSettled("acct1", decimal.NewFromInt(10), decimal.NewFromInt(-5), false)
	snap := c.Snapshot("acct1")
	if snap.LossStreak != 1 || snap.ConsecutiveWins != 0 {
		t.Fatalf("after loss: losses=%d wins=%d, want 1/0", snap.LossStreak, snap.ConsecutiveWins)
	}

	c.RecordOpened("acct1", decimal.NewFromInt(10))
	c.RecordSettled("acct1", decimal.NewFromInt(10), decimal.NewFromInt(5), false)
	snap = c.Snapshot("acct1")
	if snap.ConsecutiveWins != 1 || snap.LossStreak != 0 {
		t.Fatalf("after win: wins=%d losses=%d, want 1/0", snap.ConsecutiveWins, snap.LossStreak)
	}
}

func TestRecordFailedAttemptDoesNotTouchStreaks(t *testing.T) {
	c := New()
	c.Initialize("acct1", decimal.NewFromInt(1000))
	c.RecordOpened("acct1", decimal.NewFromInt(10))
	c.RecordSettled("acct1", decimal.NewFromInt(10), decimal.NewFromInt(-5), false)

	c.RecordOpened("acct1", decimal.NewFromInt(10))
	c.RecordFailedAttempt("acct1", decimal.NewFromInt(10))

	snap := c.Snapshot("acct1")
	if snap.LossStreak != 1 {
		t.Fatalf("LossStreak=%d, want unchanged at 1", snap.LossStreak)
	}
	if !snap.OpenExposure.IsZero() {
		t.Fatalf("OpenExposure=%v, want 0", snap.OpenExposure)
	}
}

func TestCooldownVerdict(t *testing.T) {
	c := New()
	c.Initialize("acct1", decimal.NewFromInt(1000))
	c.RecordOpened("acct1", decimal.NewFromInt(10))
	c.RecordSettled("acct1", decimal.NewFromInt(10), decimal.NewFromInt(5), false)

	d := c.Evaluate("acct1", EvaluateParams{
		ProposedStake: decimal.NewFromInt(10),
		CooldownMs:    time.Hour,
	})

	if d.Verdict != Cooldown {
		t.Fatalf("Evaluate() = %+v, want COOLDOWN", d)
	}
	if d.WaitMs <= 0 {
		t.Fatalf("WaitMs=%d, want > 0", d.WaitMs)
	}
}
