package settlement

import (
	"sync"
	"time"
)

// FinalizationEntry guards against double-accounting for one
// accountId:contractId, per spec.md §4.8.
type FinalizationEntry struct {
	Timestamp      time.Time
	ExposureClosed bool
	PnLApplied     bool
	Finalized      bool
}

// FinalizationState unifies the source's two separate "settled contracts"
// histories into the single map spec.md §9 calls for, pruned by TTL and by
// oldest-first overflow.
type FinalizationState struct {
	mu         sync.Mutex
	entries    map[string]*FinalizationEntry
	order      []string
	ttl        time.Duration
	maxEntries int
}

// NewFinalizationState builds a state store with the given TTL and max
// entry count (spec.md §4.8 defaults: ttl=6h, maxEntries=10000).
func NewFinalizationState(ttl time.Duration, maxEntries int) *FinalizationState {
	return &FinalizationState{
		entries:    make(map[string]*FinalizationEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

func (f *FinalizationState) getOrCreate(key string) *FinalizationEntry {
	e, ok := f.entries[key]
	if !ok {
		e = &FinalizationEntry{Timestamp: time.Now()}
		f.entries[key] = e
		f.order = append(f.order, key)
	}
	return e
}

// Get returns a copy of the entry for key, if present.
func (f *FinalizationState) Get(key string) (FinalizationEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return FinalizationEntry{}, false
	}
	return *e, true
}

// RecordTradeSettledOnce applies the idempotency check of spec.md §4.8
// step 3: returns true if P&L was already applied for key (caller should
// mark the ledger SETTLED and exit without reapplying), false if this call
// is the one that should apply P&L.
func (f *FinalizationState) RecordTradeSettledOnce(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := f.getOrCreate(key)
	if e.PnLApplied {
		f.prune()
		return true
	}
	e.PnLApplied = true
	e.ExposureClosed = true
	e.Finalized = true
	f.prune()
	return false
}

// prune must be called with mu held.
func (f *FinalizationState) prune() {
	if f.ttl > 0 {
		cutoff := time.Now().Add(-f.ttl)
		kept := f.order[:0]
		for _, k := range f.order {
			e, ok := f.entries[k]
			if !ok {
				continue
			}
			if e.Timestamp.Before(cutoff) {
				delete(f.entries, k)
				continue
			}
			kept = append(kept, k)
		}
		f.order = kept
	}

	if f.maxEntries > 0 {
		for len(f.order) > f.maxEntries {
			oldest := f.order[0]
			f.order = f.order[1:]
			delete(f.entries, oldest)
		}
	}
}
