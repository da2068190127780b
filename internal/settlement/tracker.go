package settlement

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/apierr"
	"github.com/44dummies/execution-core/internal/contracts"
	"github.com/44dummies/execution-core/internal/domain"
	"github.com/44dummies/execution-core/internal/execution"
	"github.com/44dummies/execution-core/internal/monitor"
	"github.com/44dummies/execution-core/internal/pnl"
	"github.com/44dummies/execution-core/internal/regime"
	"github.com/44dummies/execution-core/internal/riskcache"
	"github.com/44dummies/execution-core/pkg/broker"
	"github.com/44dummies/execution-core/pkg/money"
	"github.com/44dummies/execution-core/pkg/store"
)

// Config bundles the timeout/backoff/fee tunables of spec.md §4.8.
type Config struct {
	MinTimeout           time.Duration
	MaxTimeout           time.Duration
	Buffer               time.Duration
	MaxSubscribeAttempts int
	SubscribeBackoff     broker.ReconnectConfig
	FeeFlat              decimal.Decimal
	FeeBps               decimal.Decimal
	LockWaiterTimeout    time.Duration
	FinalizationTTL      time.Duration
	FinalizationMaxSize  int
}

// DefaultConfig returns spec.md §4.8's stated defaults.
func DefaultConfig() Config {
	return Config{
		MinTimeout:           30 * time.Second,
		MaxTimeout:           10 * time.Minute,
		Buffer:               30 * time.Second,
		MaxSubscribeAttempts: 3,
		SubscribeBackoff:     broker.DefaultReconnectConfig(),
		FeeFlat:              decimal.Zero,
		FeeBps:               decimal.Zero,
		LockWaiterTimeout:    5 * time.Second,
		FinalizationTTL:      6 * time.Hour,
		FinalizationMaxSize:  10000,
	}
}

// Timeout computes clamp(min, max, durationMs + buffer), per spec.md §4.8.
func (c Config) Timeout(durationMs int64) time.Duration {
	d := time.Duration(durationMs)*time.Millisecond + c.Buffer
	if d < c.MinTimeout {
		return c.MinTimeout
	}
	if d > c.MaxTimeout {
		return c.MaxTimeout
	}
	return d
}

// Tracker is the Settlement Tracker. It satisfies execution.Settler.
type Tracker struct {
	sessions     *broker.Manager
	contracts    *contracts.Index
	pnl          *pnl.Tracker
	cache        *riskcache.Cache
	store        *store.Store
	lock         *Lock
	finalization *FinalizationState
	metrics      *monitor.SystemMetrics
	cfg          Config

	// regimeDetector and features turn the mark-to-market tick stream this
	// Tracker already receives into the Regime Detector's input, per
	// spec.md §4.10 — there is no separate market-data pipeline in this
	// system to feed it from. Both are optional; a nil regimeDetector
	// leaves markToMarket a no-op on regime classification.
	regimeDetector *regime.Detector
	features       *regime.FeatureBuilder

	// onSettled, when set, is called after every successful finalization
	// with the account's net profit so callers (recovery calibration,
	// regime feedback) learn trade outcomes without the tracker knowing
	// about them.
	onSettled func(accountID string, netProfit decimal.Decimal)
}

// OnSettled registers a callback invoked after each trade finalizes.
func (t *Tracker) OnSettled(fn func(accountID string, netProfit decimal.Decimal)) {
	t.onSettled = fn
}

// New builds a Tracker from its dependencies.
func New(sessions *broker.Manager, idx *contracts.Index, pnlTracker *pnl.Tracker, cache *riskcache.Cache, st *store.Store, metrics *monitor.SystemMetrics, cfg Config) *Tracker {
	return &Tracker{
		sessions:     sessions,
		contracts:    idx,
		pnl:          pnlTracker,
		cache:        cache,
		store:        st,
		lock:         NewLock(cfg.LockWaiterTimeout, metrics),
		finalization: NewFinalizationState(cfg.FinalizationTTL, cfg.FinalizationMaxSize),
		metrics:      metrics,
		cfg:          cfg,
	}
}

// WithRegimeDetector attaches the Regime Detector and its feature builder so
// every mark-to-market tick also feeds spec.md §4.10's classification.
func (t *Tracker) WithRegimeDetector(detector *regime.Detector, features *regime.FeatureBuilder) *Tracker {
	t.regimeDetector = detector
	t.features = features
	return t
}

func finalizationKey(accountID string, contractID int64) string {
	return fmt.Sprintf("%s:%d", accountID, contractID)
}

// Track starts the settlement flow for a newly bought contract and returns
// immediately; the fast path does not wait for this to finish.
func (t *Tracker) Track(accountID string, contractID int64, req execution.Request, trace domain.LatencyTrace) {
	go t.run(accountID, contractID, req)
}

func (t *Tracker) run(accountID string, contractID int64, req execution.Request) {
	timeout := t.cfg.Timeout(req.Signal.DurationToMillis())
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	defer t.forget(accountID, contractID)

	resolved := make(chan *broker.OpenContractUpdate, 1)

	resp, err := t.subscribeWithRetry(ctx, accountID, contractID)
	if err != nil {
		log.Printf("settlement[%s/%d]: subscribe failed: %v", accountID, contractID, err)
		t.onTimeout(accountID, contractID, req)
		return
	}
	if resp.ProposalOpenContract != nil && resp.ProposalOpenContract.IsSold {
		t.finalize(accountID, contractID, req, resp.ProposalOpenContract)
		return
	}

	fn := func(update *broker.OpenContractUpdate) {
		if !update.IsSold {
			t.markToMarket(accountID, contractID, update)
			return
		}
		select {
		case resolved <- update:
		default:
		}
	}
	if err := t.sessions.RegisterStreamingListener(ctx, accountID, contractID, fn); err != nil {
		log.Printf("settlement[%s/%d]: register listener failed: %v", accountID, contractID, err)
		t.onTimeout(accountID, contractID, req)
		return
	}
	defer t.sessions.UnregisterStreamingListener(accountID, contractID)

	select {
	case update := <-resolved:
		t.finalize(accountID, contractID, req, update)
	case <-ctx.Done():
		t.onTimeout(accountID, contractID, req)
	}
}

func (t *Tracker) subscribeWithRetry(ctx context.Context, accountID string, contractID int64) (*broker.Response, error) {
	var lastErr error
	for attempt := 0; attempt < t.cfg.MaxSubscribeAttempts; attempt++ {
		if attempt > 0 {
			wait := backoffDelay(t.cfg.SubscribeBackoff, attempt)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		reqID, err := t.sessions.NextReqID(ctx, accountID)
		if err != nil {
			lastErr = err
			if !apierr.IsRetryable(err) {
				return nil, err
			}
			continue
		}

		resp, err := t.sessions.Send(ctx, accountID, reqID, broker.SubscribeContractRequest{
			ProposalOpenContract: 1,
			ContractID:           contractID,
			Subscribe:            1,
			ReqID:                reqID,
		}, 10*time.Second)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !apierr.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func backoffDelay(cfg broker.ReconnectConfig, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

func (t *Tracker) markToMarket(accountID string, contractID int64, update *broker.OpenContractUpdate) {
	profit := decimal.NewFromFloat(update.Profit)
	spot := decimal.NewFromFloat(update.CurrentSpot)
	t.contracts.MarkToMarket(contractID, spot, profit)
	t.pnl.MarkPosition(accountID, contractID, profit)
	t.observeRegime(accountID, contractID, update.CurrentSpot)
}

// observeRegime feeds the tick into the Regime Detector keyed by
// (accountID, symbol), so the next signal placed for this account/symbol
// can read back a live classification via regimeDetector.Get.
func (t *Tracker) observeRegime(accountID string, contractID int64, spot float64) {
	if t.regimeDetector == nil || t.features == nil {
		return
	}
	c, ok := t.contracts.Get(contractID)
	if !ok {
		return
	}
	key := regime.Key(accountID, c.Symbol)
	snapshot := t.features.Observe(key, spot, time.Now())
	t.regimeDetector.Evaluate(accountID, c.Symbol, snapshot)
}

func (t *Tracker) forget(accountID string, contractID int64) {
	reqID, err := t.sessions.NextReqID(context.Background(), accountID)
	if err != nil {
		return
	}
	_, _ = t.sessions.Send(context.Background(), accountID, reqID, broker.ForgetRequest{Forget: fmt.Sprintf("%d", contractID)}, 5*time.Second)
}

func (t *Tracker) onTimeout(accountID string, contractID int64, req execution.Request) {
	if t.metrics != nil {
		t.metrics.IncrementStuckOrders()
	}
	t.cache.RecordFailedAttempt(accountID, req.Stake)
	if t.store != nil {
		go func() {
			_ = t.store.InsertOrderStatus(context.Background(), accountID, &contractID, req.CorrelationID, "error", "settlement timeout: stuck order")
		}()
	}
}

// finalize implements spec.md §4.8's withSettlementLock(...) flow.
func (t *Tracker) finalize(accountID string, contractID int64, req execution.Request, update *broker.OpenContractUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := finalizationKey(accountID, contractID)
	release, err := t.lock.Acquire(ctx, key)
	if err != nil {
		log.Printf("settlement[%s]: failed to acquire settlement lock: %v", key, err)
		return
	}
	defer release()

	grossProfit := decimal.NewFromFloat(update.Profit)
	fees := money.Fees(req.Stake, t.cfg.FeeFlat, t.cfg.FeeBps)
	netProfit := money.Net(grossProfit, fees)

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = fmt.Sprintf("settlement:%s:%d", accountID, contractID)
	}

	if err := t.store.LedgerUpsertPending(ctx, domain.LedgerRecord{
		CorrelationID: correlationID,
		AccountID:     accountID,
		Symbol:        req.Symbol,
		ContractID:    contractID,
		GrossPnL:      grossProfit,
		Fees:          fees,
		NetPnL:        netProfit,
	}); err != nil {
		log.Printf("settlement[%s]: write pending ledger row failed: %v", key, err)
		return
	}

	if alreadyApplied := t.finalization.RecordTradeSettledOnce(key); alreadyApplied {
		if err := t.store.LedgerMarkSettled(ctx, correlationID, grossProfit, fees, netProfit); err != nil {
			log.Printf("settlement[%s]: mark settled (idempotent replay) failed: %v", key, err)
		}
		return
	}

	if err := t.applySettlement(ctx, accountID, contractID, req, grossProfit, fees, netProfit, correlationID); err != nil {
		if markErr := t.store.LedgerMarkFailed(ctx, correlationID, err.Error()); markErr != nil {
			log.Printf("settlement[%s]: mark failed ledger row failed: %v", key, markErr)
		}
		log.Printf("settlement[%s]: finalize failed: %v", key, err)
		return
	}

	if t.metrics != nil {
		t.metrics.IncrementTradesSettled()
	}

	if t.onSettled != nil {
		t.onSettled(accountID, netProfit)
	}
}

func (t *Tracker) applySettlement(ctx context.Context, accountID string, contractID int64, req execution.Request, grossProfit, fees, netProfit decimal.Decimal, correlationID string) error {
	t.contracts.Remove(contractID)
	t.cache.RecordSettled(accountID, req.Stake, netProfit, false)
	t.pnl.Settle(accountID, contractID, req.Stake, netProfit)

	if err := t.store.UpsertTrade(ctx, store.TradeRecord{
		AccountID:     accountID,
		ContractID:    contractID,
		Symbol:        req.Symbol,
		Direction:     string(req.Signal.Direction),
		Stake:         req.Stake,
		BuyPrice:      req.Stake,
		Payout:        req.Stake.Add(grossProfit),
		GrossPnL:      grossProfit,
		Fees:          fees,
		NetPnL:        netProfit,
		BotID:         req.Signal.BotID,
		BotRunID:      req.Signal.BotRunID,
		CorrelationID: correlationID,
		OpenedAt:      time.Now(),
	}); err != nil {
		return fmt.Errorf("persist trade row: %w", err)
	}

	if err := t.store.LedgerMarkSettled(ctx, correlationID, grossProfit, fees, netProfit); err != nil {
		return fmt.Errorf("mark ledger settled: %w", err)
	}

	go func() {
		bg := context.Background()
		if err := t.store.InsertOrderStatus(bg, accountID, &contractID, correlationID, "contract_settled", ""); err != nil {
			log.Printf("settlement[%s/%d]: persist contract_settled status failed: %v", accountID, contractID, err)
		}
		if err := t.store.InsertNotification(bg, accountID, "trade_result", map[string]any{
			"contractId": contractID,
			"netPnl":     netProfit.String(),
			"symbol":     req.Symbol,
		}); err != nil {
			log.Printf("settlement[%s/%d]: persist notification failed: %v", accountID, contractID, err)
		}
	}()

	return nil
}
