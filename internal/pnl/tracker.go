// Package pnl implements the P&L Tracker of spec.md §4.13: per-account
// open-position mirror, win/loss stats, and a subscription API the edge
// layer uses to drive SSE.
package pnl

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/domain"
)

// Position mirrors an open contract for display purposes.
type Position struct {
	ContractID    int64           `json:"contractId"`
	Symbol        string          `json:"symbol"`
	Stake         decimal.Decimal `json:"stake"`
	BuyPrice      decimal.Decimal `json:"buyPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnL"`
}

// Snapshot is the payload delivered over SSE, per spec.md §6.
type Snapshot struct {
	RealizedPnL       decimal.Decimal  `json:"realizedPnL"`
	UnrealizedPnL     decimal.Decimal  `json:"unrealizedPnL"`
	NetPnL            decimal.Decimal  `json:"netPnL"`
	OpenPositionCount int              `json:"openPositionCount"`
	OpenExposure      decimal.Decimal  `json:"openExposure"`
	WinCount          int              `json:"winCount"`
	LossCount         int              `json:"lossCount"`
	AvgWin            decimal.Decimal  `json:"avgWin"`
	AvgLoss           decimal.Decimal  `json:"avgLoss"`
	BalanceDrift      *decimal.Decimal `json:"balanceDrift,omitempty"`
	LastKnownBalance  *decimal.Decimal `json:"lastKnownBalance,omitempty"`
	Positions         []Position       `json:"positions"`
	LastUpdated       time.Time        `json:"lastUpdated"`
}

type accountState struct {
	positions    map[int64]Position
	winCount     int
	lossCount    int
	sumWins      decimal.Decimal
	sumLosses    decimal.Decimal
	realized     decimal.Decimal
	openExposure decimal.Decimal
	lastBalance  *decimal.Decimal
	subscribers  []chan Snapshot
}

// Tracker is guarded by a single mutex per account-keyed map, consistent
// with the riskcache/contracts container convention.
type Tracker struct {
	mu       sync.Mutex
	accounts map[string]*accountState
}

// New creates an empty P&L Tracker.
func New() *Tracker {
	return &Tracker{accounts: make(map[string]*accountState)}
}

func (t *Tracker) getOrCreate(accountID string) *accountState {
	s, ok := t.accounts[accountID]
	if !ok {
		s = &accountState{positions: make(map[int64]Position)}
		t.accounts[accountID] = s
	}
	return s
}

// RegisterOpen mirrors a newly opened contract as a position.
func (t *Tracker) RegisterOpen(accountID string, c domain.OpenContract) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreate(accountID)
	s.positions[c.ContractID] = Position{
		ContractID: c.ContractID,
		Symbol:     c.Symbol,
		Stake:      c.Stake,
		BuyPrice:   c.BuyPrice,
	}
	s.openExposure = s.openExposure.Add(c.Stake)
	t.publish(accountID, s)
}

// MarkPosition recomputes unrealizedPnL for a position on a mark-to-market
// update.
func (t *Tracker) MarkPosition(accountID string, contractID int64, markedProfit decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreate(accountID)
	p, ok := s.positions[contractID]
	if !ok {
		return
	}
	p.UnrealizedPnL = markedProfit
	s.positions[contractID] = p
	t.publish(accountID, s)
}

// Settle removes a position, decrements exposure, records realized P&L and
// win/loss stats.
func (t *Tracker) Settle(accountID string, contractID int64, stake, netProfit decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreate(accountID)
	delete(s.positions, contractID)
	s.openExposure = s.openExposure.Sub(stake)
	if s.openExposure.IsNegative() {
		s.openExposure = decimal.Zero
	}
	s.realized = s.realized.Add(netProfit)

	if netProfit.IsNegative() {
		s.lossCount++
		s.sumLosses = s.sumLosses.Add(netProfit.Abs())
	} else {
		s.winCount++
		s.sumWins = s.sumWins.Add(netProfit)
	}
	t.publish(accountID, s)
}

// UpdateBalance records the broker-reported balance for balance-drift
// detection by the edge layer.
func (t *Tracker) UpdateBalance(accountID string, balance decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.getOrCreate(accountID)
	s.lastBalance = &balance
	t.publish(accountID, s)
}

// Snapshot returns the current aggregate view for accountID.
func (t *Tracker) Snapshot(accountID string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.getOrCreate(accountID)
	return snapshotLocked(s)
}

func snapshotLocked(s *accountState) Snapshot {
	unrealized := decimal.Zero
	positions := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		unrealized = unrealized.Add(p.UnrealizedPnL)
		positions = append(positions, p)
	}

	avgWin := decimal.Zero
	if s.winCount > 0 {
		avgWin = s.sumWins.Div(decimal.NewFromInt(int64(s.winCount)))
	}
	avgLoss := decimal.Zero
	if s.lossCount > 0 {
		avgLoss = s.sumLosses.Div(decimal.NewFromInt(int64(s.lossCount)))
	}

	return Snapshot{
		RealizedPnL:       s.realized,
		UnrealizedPnL:     unrealized,
		NetPnL:            s.realized.Add(unrealized),
		OpenPositionCount: len(s.positions),
		OpenExposure:      s.openExposure,
		WinCount:          s.winCount,
		LossCount:         s.lossCount,
		AvgWin:            avgWin,
		AvgLoss:           avgLoss,
		LastKnownBalance:  s.lastBalance,
		Positions:         positions,
		LastUpdated:       time.Now(),
	}
}

// Subscribe returns a channel that receives a snapshot on every change.
// Callers must drain it; the tracker drops updates to slow subscribers
// rather than block, per spec.md §4.1's non-blocking-listener rule.
func (t *Tracker) Subscribe(accountID string) (<-chan Snapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreate(accountID)
	ch := make(chan Snapshot, 8)
	s.subscribers = append(s.subscribers, ch)

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, c := range s.subscribers {
			if c == ch {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel
}

func (t *Tracker) publish(accountID string, s *accountState) {
	snap := snapshotLocked(s)
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}
