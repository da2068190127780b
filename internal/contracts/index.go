// Package contracts implements the Open-Contracts Index of spec.md §3/§4.7:
// the authoritative in-memory set of contracts currently open per account,
// created on buy ack and destroyed on settlement or expiry.
package contracts

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/domain"
)

// Index is guarded by a single mutex per spec.md §5's "one mutex per
// logical container" rule.
type Index struct {
	mu        sync.Mutex
	contracts map[int64]*domain.OpenContract
}

// New creates an empty Open-Contracts Index.
func New() *Index {
	return &Index{contracts: make(map[int64]*domain.OpenContract)}
}

// Create registers a newly bought contract.
func (idx *Index) Create(c domain.OpenContract) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if c.OpenedAt.IsZero() {
		c.OpenedAt = time.Now()
	}
	cc := c
	idx.contracts[c.ContractID] = &cc
}

// Get returns a copy of the open contract, if present.
func (idx *Index) Get(contractID int64) (domain.OpenContract, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	c, ok := idx.contracts[contractID]
	if !ok {
		return domain.OpenContract{}, false
	}
	return *c, true
}

// MarkToMarket updates a contract's last mark price and unrealized P&L.
func (idx *Index) MarkToMarket(contractID int64, markPrice, unrealizedPnL decimal.Decimal) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	c, ok := idx.contracts[contractID]
	if !ok {
		return
	}
	c.LastMarkPrice = &markPrice
	c.UnrealizedPnL = unrealizedPnL
}

// Remove destroys a contract entry on settlement or expiry.
func (idx *Index) Remove(contractID int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.contracts, contractID)
}

// ForAccount returns a snapshot of every open contract for accountID.
func (idx *Index) ForAccount(accountID string) []domain.OpenContract {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var out []domain.OpenContract
	for _, c := range idx.contracts {
		if c.AccountID == accountID {
			out = append(out, *c)
		}
	}
	return out
}

// Count returns the number of currently open contracts across all accounts.
func (idx *Index) Count() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.contracts)
}
