// Package monitor provides the sliding-window latency histograms and
// counters the execution core reports through, per spec.md §4.8's
// settlement-lock histogram/counter requirement and §4.6's latency trace.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks execution-core latency and throughput.
type SystemMetrics struct {
	mu sync.RWMutex

	ProposalLatency    *LatencyHistogram
	BuyLatency         *LatencyHistogram
	SettlementLatency  *LatencyHistogram
	LockWaitLatency    *LatencyHistogram
	DBLatency          *LatencyHistogram

	tradesExecuted   uint64
	tradesSettled    uint64
	stuckOrders      uint64
	ledgerReplayed   uint64
	lockContention   uint64
	lockTimeouts     uint64
	errorsCount      uint64

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with a sliding window, grounded on
// the teacher's lazily-recomputed percentile histogram.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ProposalLatency:   NewLatencyHistogram(1000),
		BuyLatency:        NewLatencyHistogram(1000),
		SettlementLatency: NewLatencyHistogram(1000),
		LockWaitLatency:   NewLatencyHistogram(1000),
		DBLatency:         NewLatencyHistogram(1000),
		lastUpdate:        time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementTradesExecuted increments the trades-executed counter.
func (m *SystemMetrics) IncrementTradesExecuted() {
	atomic.AddUint64(&m.tradesExecuted, 1)
}

// IncrementTradesSettled increments the trades-settled counter.
func (m *SystemMetrics) IncrementTradesSettled() {
	atomic.AddUint64(&m.tradesSettled, 1)
}

// IncrementStuckOrders increments the stuck-order counter, recorded on
// settlement timeout.
func (m *SystemMetrics) IncrementStuckOrders() {
	atomic.AddUint64(&m.stuckOrders, 1)
}

// IncrementLedgerReplayed increments the ledger-replay counter.
func (m *SystemMetrics) IncrementLedgerReplayed() {
	atomic.AddUint64(&m.ledgerReplayed, 1)
}

// IncrementLockContention increments the settlement-lock contention counter.
func (m *SystemMetrics) IncrementLockContention() {
	atomic.AddUint64(&m.lockContention, 1)
}

// IncrementLockTimeouts increments the settlement-lock acquisition-timeout
// counter.
func (m *SystemMetrics) IncrementLockTimeouts() {
	atomic.AddUint64(&m.lockTimeouts, 1)
}

// IncrementErrors increments the error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// MetricsSnapshot is a point-in-time view of SystemMetrics.
type MetricsSnapshot struct {
	ProposalLatency   LatencyStats `json:"proposal_latency"`
	BuyLatency        LatencyStats `json:"buy_latency"`
	SettlementLatency LatencyStats `json:"settlement_latency"`
	LockWaitLatency   LatencyStats `json:"lock_wait_latency"`
	DBLatency         LatencyStats `json:"db_latency"`
	TradesExecuted    uint64       `json:"trades_executed"`
	TradesSettled     uint64       `json:"trades_settled"`
	StuckOrders       uint64       `json:"stuck_orders"`
	LedgerReplayed    uint64       `json:"ledger_replayed"`
	LockContention    uint64       `json:"lock_contention"`
	LockTimeouts      uint64       `json:"lock_timeouts"`
	ErrorsCount       uint64       `json:"errors_count"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	HeapSys           uint64       `json:"heap_sys_bytes"`
	Timestamp         time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		ProposalLatency:   m.ProposalLatency.Stats(),
		BuyLatency:        m.BuyLatency.Stats(),
		SettlementLatency: m.SettlementLatency.Stats(),
		LockWaitLatency:   m.LockWaitLatency.Stats(),
		DBLatency:         m.DBLatency.Stats(),
		TradesExecuted:    atomic.LoadUint64(&m.tradesExecuted),
		TradesSettled:     atomic.LoadUint64(&m.tradesSettled),
		StuckOrders:       atomic.LoadUint64(&m.stuckOrders),
		LedgerReplayed:    atomic.LoadUint64(&m.ledgerReplayed),
		LockContention:    atomic.LoadUint64(&m.lockContention),
		LockTimeouts:      atomic.LoadUint64(&m.lockTimeouts),
		ErrorsCount:       atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		HeapSys:           memStats.HeapSys,
		Timestamp:         time.Now(),
	}
}

// Timer measures operation duration against a histogram.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
