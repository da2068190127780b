// Package ledger implements the Execution Ledger Replay of spec.md §4.9:
// on startup (and on demand), reconcile every non-SETTLED ledger row
// against the trades table so a crash between buy and settlement never
// silently drops a trade.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/44dummies/execution-core/internal/domain"
	"github.com/44dummies/execution-core/internal/monitor"
	"github.com/44dummies/execution-core/pkg/store"
)

// TradePayload is the JSON shape stored in execution_ledger.trade_payload,
// sufficient to re-invoke the trade-persistence path.
type TradePayload struct {
	AccountID     string `json:"accountId"`
	ContractID    int64  `json:"contractId"`
	Symbol        string `json:"symbol"`
	Direction     string `json:"direction"`
	Stake         string `json:"stake"`
	BuyPrice      string `json:"buyPrice"`
	Payout        string `json:"payout"`
	GrossPnL      string `json:"grossPnl"`
	Fees          string `json:"fees"`
	NetPnL        string `json:"netPnl"`
	BotID         string `json:"botId"`
	BotRunID      string `json:"botRunId"`
	CorrelationID string `json:"correlationId"`
}

// Replayer reconciles the execution ledger against the trades table.
type Replayer struct {
	store   *store.Store
	metrics *monitor.SystemMetrics
}

// New builds a Replayer over store.
func New(st *store.Store, metrics *monitor.SystemMetrics) *Replayer {
	return &Replayer{store: st, metrics: metrics}
}

// Run scans every non-SETTLED ledger row; for each, skips it if a trades
// row already exists for (accountId, contractId), otherwise re-invokes the
// trade-persistence path from the stored payload. Returns the count
// processed (re-persisted), not the count scanned.
func (r *Replayer) Run(ctx context.Context) (int, error) {
	rows, err := r.store.LedgerPendingRows(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan pending ledger rows: %w", err)
	}

	processed := 0
	for _, rec := range rows {
		exists, err := r.store.TradeExists(ctx, rec.AccountID, rec.ContractID)
		if err != nil {
			log.Printf("ledger replay: check trade existence for %s/%d failed: %v", rec.AccountID, rec.ContractID, err)
			continue
		}
		if exists {
			if err := r.store.LedgerMarkSettled(ctx, rec.CorrelationID, rec.GrossPnL, rec.Fees, rec.NetPnL); err != nil {
				log.Printf("ledger replay: mark %s settled failed: %v", rec.CorrelationID, err)
			}
			continue
		}

		if err := r.replayOne(ctx, rec); err != nil {
			log.Printf("ledger replay: replay %s failed: %v", rec.CorrelationID, err)
			continue
		}
		processed++
		if r.metrics != nil {
			r.metrics.IncrementLedgerReplayed()
		}
	}
	return processed, nil
}

func (r *Replayer) replayOne(ctx context.Context, rec domain.LedgerRecord) error {
	if len(rec.TradePayload) == 0 {
		return fmt.Errorf("ledger row %s has no stored trade payload to replay", rec.CorrelationID)
	}

	var payload TradePayload
	if err := json.Unmarshal(rec.TradePayload, &payload); err != nil {
		return fmt.Errorf("decode trade payload: %w", err)
	}

	trade := tradeRecordFromPayload(payload)
	if err := r.store.UpsertTrade(ctx, trade); err != nil {
		return fmt.Errorf("persist trade row: %w", err)
	}

	return r.store.LedgerMarkSettled(ctx, rec.CorrelationID, rec.GrossPnL, rec.Fees, rec.NetPnL)
}
