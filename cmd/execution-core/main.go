// Command execution-core is the server-side automated-trading execution
// core of spec.md: it bridges strategy signals to a broker's WebSocket
// API through the Pre-Trade Gate and Fast-Path Trade, tracks settlement
// and P&L independently of the caller, and drives regime/recovery
// calibration from a small neural net.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/breaker"
	"github.com/44dummies/execution-core/internal/contracts"
	"github.com/44dummies/execution-core/internal/edge"
	"github.com/44dummies/execution-core/internal/events"
	"github.com/44dummies/execution-core/internal/execution"
	"github.com/44dummies/execution-core/internal/gate"
	"github.com/44dummies/execution-core/internal/ledger"
	"github.com/44dummies/execution-core/internal/monitor"
	"github.com/44dummies/execution-core/internal/pnl"
	"github.com/44dummies/execution-core/internal/recovery"
	"github.com/44dummies/execution-core/internal/regime"
	"github.com/44dummies/execution-core/internal/risk"
	"github.com/44dummies/execution-core/internal/riskcache"
	"github.com/44dummies/execution-core/internal/settlement"
	"github.com/44dummies/execution-core/pkg/broker"
	"github.com/44dummies/execution-core/pkg/config"
	"github.com/44dummies/execution-core/pkg/store"
)

var errNoBrokerToken = errors.New("execution-core: no broker token configured for account")

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("execution-core starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	defer st.Close()
	log.Printf("store opened at %s", cfg.DBPath)

	metrics := monitor.NewSystemMetrics()

	tokenLookup := newEnvTokenLookup(st)
	sessions := broker.NewManager(cfg.BrokerURL, tokenLookup, broker.DefaultReconnectConfig())
	defer sessions.CloseAll()

	cache := riskcache.New()
	sidecar := risk.NewSidecar(risk.Limits{})
	breakers := breaker.New(uint32(cfg.CircuitBreakerFailureThreshold), cfg.CircuitBreakerCooloff)
	riskManager, err := risk.NewManager(st.DB)
	if err != nil {
		log.Fatalf("risk manager init failed: %v", err)
	}
	preTradeGate := gate.New(breakers, sidecar, cache, riskManager.Policy)

	engine := execution.New(sessions)

	contractIndex := contracts.New()
	pnlTracker := pnl.New()
	bus := events.NewBus()

	settlementCfg := settlement.DefaultConfig()
	settlementCfg.MinTimeout = cfg.SettlementMinTimeout
	settlementCfg.MaxTimeout = cfg.SettlementMaxTimeout
	settlementCfg.Buffer = cfg.SettlementBuffer
	settlementCfg.LockWaiterTimeout = cfg.SettlementLockTimeout
	settlementCfg.MaxSubscribeAttempts = cfg.SettlementSubscribeMaxAttempts
	settlementCfg.SubscribeBackoff.InitialDelay = cfg.SettlementSubscribeBaseDelay
	settlementCfg.SubscribeBackoff.MaxDelay = cfg.SettlementSubscribeMaxDelay
	settlementCfg.FeeFlat = decimal.NewFromFloat(cfg.LiveCommissionFlat)
	settlementCfg.FeeBps = decimal.NewFromFloat(cfg.LiveCommissionBps)

	regimeDetector := regime.New(cfg.RegimeHysteresisCycles)
	features := regime.NewFeatureBuilder()

	tracker := settlement.New(sessions, contractIndex, pnlTracker, cache, st, metrics, settlementCfg).
		WithRegimeDetector(regimeDetector, features)
	fastPath := execution.NewFastPath(preTradeGate, engine, breakers, cache, contractIndex, pnlTracker, st, tracker)

	recoveryCfg := recovery.DefaultConfig()
	recoveryEngine := recovery.New(st, metrics, recoveryCfg)

	tracker.OnSettled(func(accountID string, netProfit decimal.Decimal) {
		entry := cache.Snapshot(accountID)
		winRate := 0.0
		if entry.OpenTradeCount+entry.ConsecutiveWins+entry.LossStreak > 0 {
			winRate = float64(entry.ConsecutiveWins) / float64(entry.ConsecutiveWins+entry.LossStreak+1)
		}
		recoveryEngine.OnTradeResult(accountID, netProfit, recovery.Context{
			Equity:     entry.Equity,
			LossStreak: entry.LossStreak,
			WinStreak:  entry.ConsecutiveWins,
			WinRate:    winRate,
		})
	})

	replayer := ledger.New(st, metrics)
	replayed, err := replayer.Run(ctx)
	if err != nil {
		log.Printf("ledger replay failed: %v", err)
	} else if replayed > 0 {
		log.Printf("ledger replay recovered %d trades", replayed)
	}

	edgeServer := edge.NewServer(pnlTracker, bus).WithExecution(fastPath, recoveryEngine, regimeDetector)
	go func() {
		if err := edgeServer.Start(":" + cfg.EdgePort); err != nil {
			log.Fatalf("edge server error: %v", err)
		}
	}()

	log.Println("execution-core ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}

// newEnvTokenLookup resolves an account's broker API token from an
// account-scoped environment variable (BROKER_TOKEN_<ACCOUNTID>), falling
// back to the generic BROKER_TOKEN for single-account deployments.
func newEnvTokenLookup(st *store.Store) broker.TokenLookup {
	return func(accountID string) (string, error) {
		if tok := os.Getenv("BROKER_TOKEN_" + accountID); tok != "" {
			return tok, nil
		}
		if tok := os.Getenv("BROKER_TOKEN"); tok != "" {
			return tok, nil
		}
		if tok, err := st.GetSetting(context.Background(), accountID, "broker_token"); err == nil {
			return tok, nil
		}
		return "", errNoBrokerToken
	}
}
