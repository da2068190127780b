package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/pkg/store"
)

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func tradeRecordFromPayload(p TradePayload) store.TradeRecord {
	return store.TradeRecord{
		AccountID:     p.AccountID,
		ContractID:    p.ContractID,
		Symbol:        p.Symbol,
		Direction:     p.Direction,
		Stake:         parseDecimal(p.Stake),
		BuyPrice:      parseDecimal(p.BuyPrice),
		Payout:        parseDecimal(p.Payout),
		GrossPnL:      parseDecimal(p.GrossPnL),
		Fees:          parseDecimal(p.Fees),
		NetPnL:        parseDecimal(p.NetPnL),
		BotID:         p.BotID,
		BotRunID:      p.BotRunID,
		CorrelationID: p.CorrelationID,
		OpenedAt:      time.Now(),
	}
}
