// Package recovery implements the loss-recovery state machine of
// spec.md §4.11: per account, IDLE/RECOVERING/GRADUATED/COOLDOWN driven by
// trade outcomes, with a neural net (internal/neural) supplying calibration
// overrides while in RECOVERING, trained on graduation/failure reward.
package recovery

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/monitor"
	"github.com/44dummies/execution-core/internal/neural"
	"github.com/44dummies/execution-core/pkg/store"
)

// Mode is the recovery state machine's current mode, per spec.md §3.
type Mode string

const (
	Idle       Mode = "IDLE"
	Recovering Mode = "RECOVERING"
	Graduated  Mode = "GRADUATED"
	Cooldown   Mode = "COOLDOWN"
)

// Context is the trade-outcome context spec.md §4.11 feeds each
// transition, beyond the profit/loss amount itself.
type Context struct {
	Equity           decimal.Decimal
	LossStreak       int
	WinStreak        int
	WinRate          float64
	RegimeConfidence float64
	Volatility       float64
	LastWinTimeMs    int64
	DrawdownPct      float64
}

// Overrides is the anti-martingale-adjusted calibration returned while in
// RECOVERING, per spec.md §4.11.
type Overrides struct {
	StakeMultiplier    decimal.Decimal
	PrecisionThreshold float64
	ConfidenceBoost    float64
	Aggressiveness     float64
}

// Episode is one completed recovery attempt, kept in a bounded history.
type Episode struct {
	EndedAt         time.Time
	Success         bool
	OriginalDeficit decimal.Decimal
	Recovered       decimal.Decimal
	Trades          int
	Reward          float64
}

const maxEpisodeHistory = 100

type accountState struct {
	mode            Mode
	originalDeficit decimal.Decimal
	deficit         decimal.Decimal
	tradesInRecovery int
	failedEpisodes  int
	cooldownUntil   time.Time
	history         []Episode
}

// Config tunes the state machine's fixed thresholds, per spec.md §4.11.
// The spec names these knobs without fixing numeric defaults ("rules are
// fixed... see implementation"); DefaultConfig documents the chosen values.
type Config struct {
	MaxDeficitPct          float64
	MaxRecoveryTrades      int
	MaxFailedEpisodes      int
	MinEquityForRecovery   decimal.Decimal
	FailedRecoveryCooldown time.Duration
}

// DefaultConfig returns the fixed defaults used when none are supplied.
func DefaultConfig() Config {
	return Config{
		MaxDeficitPct:          0.25,
		MaxRecoveryTrades:      10,
		MaxFailedEpisodes:      5,
		MinEquityForRecovery:   decimal.NewFromInt(10),
		FailedRecoveryCooldown: 30 * time.Minute,
	}
}

// Engine owns per-account recovery state and a per-account neural net,
// persisted best-effort after every training step.
type Engine struct {
	mu     sync.Mutex
	states map[string]*accountState
	nets   map[string]*neural.Net

	store   *store.Store
	metrics *monitor.SystemMetrics
	cfg     Config
}

// New builds an Engine.
func New(st *store.Store, metrics *monitor.SystemMetrics, cfg Config) *Engine {
	return &Engine{
		states:  make(map[string]*accountState),
		nets:    make(map[string]*neural.Net),
		store:   st,
		metrics: metrics,
		cfg:     cfg,
	}
}

func (e *Engine) stateFor(accountID string) *accountState {
	st, ok := e.states[accountID]
	if !ok {
		st = &accountState{mode: Idle}
		e.states[accountID] = st
	}
	return st
}

func (e *Engine) netFor(accountID string) *neural.Net {
	n, ok := e.nets[accountID]
	if !ok {
		n = neural.New(neural.DefaultTrainConfig())
		if e.store != nil {
			if blob, iterations, err := e.store.GetNeuralWeights(context.Background(), accountID); err == nil {
				if derr := n.Deserialize(blob); derr != nil {
					log.Printf("recovery: deserialize neural weights for %s failed, using fresh network: %v", accountID, derr)
				}
				_ = iterations // reconstructed from the blob itself
			}
		}
		e.nets[accountID] = n
	}
	return n
}

// Mode returns the account's current recovery mode.
func (e *Engine) Mode(accountID string) Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateFor(accountID).mode
}

// OnTradeResult advances the state machine for accountID given a completed
// trade's profit (negative for a loss) and context.
func (e *Engine) OnTradeResult(accountID string, profit decimal.Decimal, ctx Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(accountID)

	if st.mode == Cooldown && !time.Now().Before(st.cooldownUntil) {
		st.mode = Idle
	}

	isLoss := profit.IsNegative()

	switch st.mode {
	case Idle, Graduated:
		if !isLoss {
			return
		}
		if st.failedEpisodes >= e.cfg.MaxFailedEpisodes {
			return // circuit breaker: entry blocked
		}
		if ctx.Equity.LessThan(e.cfg.MinEquityForRecovery) {
			return // guard: insufficient equity to attempt recovery
		}
		st.mode = Recovering
		st.originalDeficit = profit.Abs()
		st.deficit = profit.Abs()
		st.tradesInRecovery = 1

	case Recovering:
		st.tradesInRecovery++
		if isLoss {
			st.deficit = st.deficit.Add(profit.Abs())
			deficitPct := 0.0
			if ctx.Equity.IsPositive() {
				deficitPct, _ = st.deficit.Div(ctx.Equity).Float64()
			}
			if deficitPct > e.cfg.MaxDeficitPct || st.tradesInRecovery >= e.cfg.MaxRecoveryTrades {
				e.failRecovery(accountID, st, ctx)
			}
			return
		}

		st.deficit = st.deficit.Sub(profit)
		if !st.deficit.IsPositive() {
			recovered := st.originalDeficit.Sub(st.deficit)
			e.graduateRecovery(accountID, st, ctx, recovered)
		}

	case Cooldown:
		// Fresh losses during cooldown do not start a new episode until
		// cooldownUntil elapses (handled above on entry to this call).
	}
}

func reward(recovered, originalDeficit decimal.Decimal, trades int, success bool, winRate float64) float64 {
	ratio := 0.0
	if originalDeficit.IsPositive() {
		ratio, _ = recovered.Div(originalDeficit).Float64()
	}
	if trades < 1 {
		trades = 1
	}
	r := ratio*(1/math.Sqrt(float64(trades))) + winRate*0.3
	if success {
		r += 0.2
	}
	return clamp01(r)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func inputVector(ctx Context, deficitPct float64) [8]float64 {
	return [8]float64{
		deficitPct,
		float64(ctx.LossStreak),
		float64(ctx.WinStreak),
		ctx.WinRate,
		ctx.RegimeConfidence,
		ctx.Volatility,
		ctx.DrawdownPct,
		clamp01(float64(ctx.LastWinTimeMs) / 60000.0),
	}
}

func (e *Engine) graduateRecovery(accountID string, st *accountState, ctx Context, recovered decimal.Decimal) {
	r := reward(recovered, st.originalDeficit, st.tradesInRecovery, true, ctx.WinRate)
	e.trainAndPersist(accountID, st, ctx, r)

	st.history = appendBounded(st.history, Episode{
		EndedAt:         time.Now(),
		Success:         true,
		OriginalDeficit: st.originalDeficit,
		Recovered:       recovered,
		Trades:          st.tradesInRecovery,
		Reward:          r,
	})
	st.mode = Graduated
	if e.metrics != nil {
		e.metrics.IncrementTradesSettled()
	}
}

func (e *Engine) failRecovery(accountID string, st *accountState, ctx Context) {
	r := reward(decimal.Zero, st.originalDeficit, st.tradesInRecovery, false, ctx.WinRate)
	e.trainAndPersist(accountID, st, ctx, r)

	st.history = appendBounded(st.history, Episode{
		EndedAt:         time.Now(),
		Success:         false,
		OriginalDeficit: st.originalDeficit,
		Recovered:       st.originalDeficit.Sub(st.deficit),
		Trades:          st.tradesInRecovery,
		Reward:          r,
	})
	st.failedEpisodes++
	st.mode = Cooldown
	st.cooldownUntil = time.Now().Add(e.cfg.FailedRecoveryCooldown)
}

func appendBounded(history []Episode, ep Episode) []Episode {
	history = append(history, ep)
	if len(history) > maxEpisodeHistory {
		history = history[len(history)-maxEpisodeHistory:]
	}
	return history
}

func (e *Engine) trainAndPersist(accountID string, st *accountState, ctx Context, r float64) {
	deficitPct := 0.0
	if ctx.Equity.IsPositive() {
		deficitPct, _ = st.originalDeficit.Div(ctx.Equity).Float64()
	}
	input := inputVector(ctx, deficitPct)
	n := e.netFor(accountID)
	n.Train(input, input4From8(input), r)

	if e.store == nil {
		return
	}
	blob, err := n.Serialize()
	if err != nil {
		log.Printf("recovery: serialize neural weights for %s failed: %v", accountID, err)
		return
	}
	go func() {
		if err := e.store.UpsertNeuralWeights(context.Background(), accountID, blob, n.Iterations()); err != nil {
			log.Printf("recovery: persist neural weights for %s failed: %v", accountID, err)
		}
	}()
}

// input4From8 derives the 4-dim "actual" target vector Train expects from
// components 0 (deficit pct), 1 (loss streak, divided by 10), 3 (win rate)
// and 5 (volatility) of the 8-dim feature input, each clamped to [0,1].
// This keeps Train's reward-interpolated target
// anchored to the episode's own observed conditions rather than a second,
// independently-maintained vector.
func input4From8(input [8]float64) [4]float64 {
	return [4]float64{
		clamp01(input[0]),
		clamp01(input[1] / 10.0),
		clamp01(input[3]),
		clamp01(input[5]),
	}
}

// GetRecoveryOverrides returns the neural net's prediction for accountID,
// post-processed by the anti-martingale rule, when in RECOVERING mode.
// The second return value is false outside RECOVERING.
func (e *Engine) GetRecoveryOverrides(accountID string, ctx Context) (Overrides, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(accountID)
	if st.mode != Recovering {
		return Overrides{}, false
	}

	deficitPct := 0.0
	if ctx.Equity.IsPositive() {
		deficitPct, _ = st.deficit.Div(ctx.Equity).Float64()
	}
	pred := e.netFor(accountID).Predict(inputVector(ctx, deficitPct))

	stakeMultiplier := pred.StakeMultiplier
	precision := pred.PrecisionThreshold
	confidenceBoost := pred.ConfidenceBoost
	aggressiveness := pred.Aggressiveness

	switch {
	case ctx.WinStreak >= 2:
		stakeMultiplier = math.Min(stakeMultiplier*(1+0.2*float64(ctx.WinStreak-1)), 2.0)
		precision *= 0.95
	case ctx.LossStreak >= 2:
		precision = math.Min(precision*(1+0.05*float64(ctx.LossStreak-1)), 1.3)
		confidenceBoost += 0.03 * float64(ctx.LossStreak-1)
		stakeMultiplier = math.Max(stakeMultiplier*(1-0.15*float64(ctx.LossStreak-1)), 0.4)
	}

	return Overrides{
		StakeMultiplier:    decimal.NewFromFloat(clampRange(stakeMultiplier, 0.4, 2.0)),
		PrecisionThreshold: clampRange(precision, 0.6, 1.3),
		ConfidenceBoost:    clampRange(confidenceBoost, 0.0, 0.35),
		Aggressiveness:     clampRange(aggressiveness, 0, 1),
	}, true
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// History returns the bounded episode history for accountID.
func (e *Engine) History(accountID string) []Episode {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stateFor(accountID)
	out := make([]Episode, len(st.history))
	copy(out, st.history)
	return out
}
