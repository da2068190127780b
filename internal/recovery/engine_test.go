package recovery

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRecoveryTrades = 3
	cfg.MaxDeficitPct = 0.5
	cfg.MinEquityForRecovery = decimal.NewFromInt(10)
	cfg.FailedRecoveryCooldown = 50 * time.Millisecond
	return cfg
}

func testContext(equity int64) Context {
	return Context{Equity: decimal.NewFromInt(equity), WinRate: 0.4}
}

func TestIdleLossStartsRecoveringWithOriginalDeficit(t *testing.T) {
	e := New(nil, nil, testConfig())
	e.OnTradeResult("A", decimal.NewFromInt(-10), testContext(1000))

	if got := e.Mode("A"); got != Recovering {
		t.Fatalf("Mode() = %v, want RECOVERING", got)
	}
	if got := e.states["A"].originalDeficit; !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("originalDeficit = %v, want 10", got)
	}
}

func TestRecoveringWinThatClearsDeficitGraduates(t *testing.T) {
	e := New(nil, nil, testConfig())
	e.OnTradeResult("A", decimal.NewFromInt(-10), testContext(1000))
	e.OnTradeResult("A", decimal.NewFromInt(12), testContext(1000))

	if got := e.Mode("A"); got != Graduated {
		t.Fatalf("Mode() = %v, want GRADUATED", got)
	}
	history := e.History("A")
	if len(history) != 1 || !history[0].Success {
		t.Fatalf("History() = %+v, want one successful episode", history)
	}
}

func TestRecoveringLossBeyondMaxTradesFails(t *testing.T) {
	e := New(nil, nil, testConfig()) // MaxRecoveryTrades = 3
	e.OnTradeResult("A", decimal.NewFromInt(-10), testContext(1000)) // trade 1: enters RECOVERING
	e.OnTradeResult("A", decimal.NewFromInt(-1), testContext(1000))  // trade 2: still recovering
	e.OnTradeResult("A", decimal.NewFromInt(-1), testContext(1000))  // trade 3: hits MaxRecoveryTrades

	if got := e.Mode("A"); got != Cooldown {
		t.Fatalf("Mode() = %v, want COOLDOWN after exceeding MaxRecoveryTrades", got)
	}
	history := e.History("A")
	if len(history) != 1 || history[0].Success {
		t.Fatalf("History() = %+v, want one failed episode", history)
	}
}

func TestRecoveringLossBeyondMaxDeficitPctFails(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDeficitPct = 0.02
	cfg.MaxRecoveryTrades = 100
	e := New(nil, nil, cfg)

	e.OnTradeResult("A", decimal.NewFromInt(-10), testContext(1000))
	e.OnTradeResult("A", decimal.NewFromInt(-50), testContext(1000))

	if got := e.Mode("A"); got != Cooldown {
		t.Fatalf("Mode() = %v, want COOLDOWN after exceeding MaxDeficitPct", got)
	}
}

func TestCooldownBlocksNewEpisodeUntilElapsed(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRecoveryTrades = 2
	e := New(nil, nil, cfg)

	e.OnTradeResult("A", decimal.NewFromInt(-10), testContext(1000)) // trade 1: enters RECOVERING
	e.OnTradeResult("A", decimal.NewFromInt(-5), testContext(1000))  // trade 2: hits MaxRecoveryTrades -> fails
	if got := e.Mode("A"); got != Cooldown {
		t.Fatalf("Mode() = %v, want COOLDOWN", got)
	}

	e.OnTradeResult("A", decimal.NewFromInt(-5), testContext(1000)) // still in cooldown window
	if got := e.Mode("A"); got != Cooldown {
		t.Fatalf("Mode() = %v, want to remain COOLDOWN before cooldownUntil elapses", got)
	}

	time.Sleep(cfg.FailedRecoveryCooldown + 20*time.Millisecond)
	e.OnTradeResult("A", decimal.NewFromInt(-5), testContext(1000)) // cooldown elapsed: fresh episode
	if got := e.Mode("A"); got != Recovering {
		t.Fatalf("Mode() = %v, want RECOVERING after cooldown elapses", got)
	}
}

func TestCircuitBreakerBlocksEntryAfterMaxFailedEpisodes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRecoveryTrades = 2
	cfg.MaxFailedEpisodes = 1
	cfg.FailedRecoveryCooldown = time.Millisecond
	e := New(nil, nil, cfg)

	e.OnTradeResult("A", decimal.NewFromInt(-10), testContext(1000)) // trade 1: enters RECOVERING
	e.OnTradeResult("A", decimal.NewFromInt(-5), testContext(1000))  // trade 2: fails, failedEpisodes=1
	time.Sleep(5 * time.Millisecond)
	e.OnTradeResult("A", decimal.NewFromInt(-5), testContext(1000)) // cooldown elapsed -> IDLE, but breaker blocks entry

	if got := e.Mode("A"); got != Idle {
		t.Fatalf("Mode() = %v, want IDLE (breaker blocks a new RECOVERING entry)", got)
	}
}

func TestMinEquityGuardBlocksEntry(t *testing.T) {
	e := New(nil, nil, testConfig())
	e.OnTradeResult("A", decimal.NewFromInt(-10), testContext(5)) // below MinEquityForRecovery

	if got := e.Mode("A"); got != Idle {
		t.Fatalf("Mode() = %v, want IDLE when equity is below the recovery floor", got)
	}
}

func TestGetRecoveryOverridesOnlyAvailableWhileRecovering(t *testing.T) {
	e := New(nil, nil, testConfig())
	if _, ok := e.GetRecoveryOverrides("A", testContext(1000)); ok {
		t.Fatalf("GetRecoveryOverrides() ok = true outside RECOVERING")
	}

	e.OnTradeResult("A", decimal.NewFromInt(-10), testContext(1000))
	overrides, ok := e.GetRecoveryOverrides("A", testContext(1000))
	if !ok {
		t.Fatalf("GetRecoveryOverrides() ok = false while RECOVERING")
	}
	if overrides.StakeMultiplier.LessThan(decimal.NewFromFloat(0.4)) || overrides.StakeMultiplier.GreaterThan(decimal.NewFromFloat(2.0)) {
		t.Fatalf("StakeMultiplier = %v, want within [0.4, 2.0]", overrides.StakeMultiplier)
	}
}

func TestAntiMartingaleScalesUpOnWinStreakAndDownOnLossStreak(t *testing.T) {
	e := New(nil, nil, testConfig())
	e.OnTradeResult("A", decimal.NewFromInt(-10), testContext(1000))

	winCtx := testContext(1000)
	winCtx.WinStreak = 3
	winOverrides, _ := e.GetRecoveryOverrides("A", winCtx)

	lossCtx := testContext(1000)
	lossCtx.LossStreak = 3
	lossOverrides, _ := e.GetRecoveryOverrides("A", lossCtx)

	if !winOverrides.StakeMultiplier.GreaterThan(lossOverrides.StakeMultiplier) {
		t.Fatalf("win-streak stake %v should exceed loss-streak stake %v", winOverrides.StakeMultiplier, lossOverrides.StakeMultiplier)
	}
}
