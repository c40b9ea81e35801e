package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight engine counters and latency stats.
type Metrics struct {
	generated         uint64
	skippedQueueFull  uint64
	skippedNoAccounts uint64
	queueClosed       uint64

	limitFills      uint64
	marketFills     uint64
	closeFallbacks  uint64
	stopLossCloses  uint64
	batchRetries    uint64
	nativeStopFails uint64

	workers []WorkerCounters

	taskLatency LatencyStats
	openLatency LatencyStats
}

// WorkerCounters are per-worker task counters.
type WorkerCounters struct {
	processed uint64
	success   uint64
	failed    uint64
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// WorkerSnapshot is a point-in-time view of one worker.
type WorkerSnapshot struct {
	ID        int
	Processed uint64
	Success   uint64
	Failed    uint64
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Generated         uint64
	SkippedQueueFull  uint64
	SkippedNoAccounts uint64
	QueueClosed       uint64
	LimitFills        uint64
	MarketFills       uint64
	CloseFallbacks    uint64
	StopLossCloses    uint64
	BatchRetries      uint64
	NativeStopFails   uint64
	Workers           []WorkerSnapshot
	TaskLatency       LatencySnapshot
	OpenLatency       LatencySnapshot
}

// NewMetrics allocates a metrics container for the given worker count.
func NewMetrics(workers int) *Metrics {
	if workers < 0 {
		workers = 0
	}
	return &Metrics{workers: make([]WorkerCounters, workers)}
}

func (m *Metrics) IncGenerated() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.generated, 1)
}

// IncSkipQueueFull records a generator tick skipped for backpressure.
func (m *Metrics) IncSkipQueueFull() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.skippedQueueFull, 1)
}

// IncSkipNoAccounts records a generator tick without enough accounts.
func (m *Metrics) IncSkipNoAccounts() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.skippedNoAccounts, 1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// IncFill records a confirmed open by mode.
func (m *Metrics) IncFill(market bool) {
	if m == nil {
		return
	}
	if market {
		atomic.AddUint64(&m.marketFills, 1)
		return
	}
	atomic.AddUint64(&m.limitFills, 1)
}

func (m *Metrics) IncCloseFallback() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.closeFallbacks, 1)
}

func (m *Metrics) IncStopLossClose() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.stopLossCloses, 1)
}

func (m *Metrics) IncBatchRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.batchRetries, 1)
}

func (m *Metrics) IncNativeStopFail() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.nativeStopFails, 1)
}

// ObserveTask records one finished task of worker id.
func (m *Metrics) ObserveTask(id int, success bool, d time.Duration) {
	if m == nil {
		return
	}
	if id >= 0 && id < len(m.workers) {
		w := &m.workers[id]
		atomic.AddUint64(&w.processed, 1)
		if success {
			atomic.AddUint64(&w.success, 1)
		} else {
			atomic.AddUint64(&w.failed, 1)
		}
	}
	m.taskLatency.Observe(d)
}

// ObserveOpen measures how long a batch open took.
func (m *Metrics) ObserveOpen(d time.Duration) {
	if m == nil {
		return
	}
	m.openLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	workers := make([]WorkerSnapshot, len(m.workers))
	for i := range m.workers {
		w := &m.workers[i]
		workers[i] = WorkerSnapshot{
			ID:        i,
			Processed: atomic.LoadUint64(&w.processed),
			Success:   atomic.LoadUint64(&w.success),
			Failed:    atomic.LoadUint64(&w.failed),
		}
	}
	return Snapshot{
		Generated:         atomic.LoadUint64(&m.generated),
		SkippedQueueFull:  atomic.LoadUint64(&m.skippedQueueFull),
		SkippedNoAccounts: atomic.LoadUint64(&m.skippedNoAccounts),
		QueueClosed:       atomic.LoadUint64(&m.queueClosed),
		LimitFills:        atomic.LoadUint64(&m.limitFills),
		MarketFills:       atomic.LoadUint64(&m.marketFills),
		CloseFallbacks:    atomic.LoadUint64(&m.closeFallbacks),
		StopLossCloses:    atomic.LoadUint64(&m.stopLossCloses),
		BatchRetries:      atomic.LoadUint64(&m.batchRetries),
		NativeStopFails:   atomic.LoadUint64(&m.nativeStopFails),
		Workers:           workers,
		TaskLatency:       m.taskLatency.Snapshot(),
		OpenLatency:       m.openLatency.Snapshot(),
	}
}

// Totals sums worker counters.
func (s Snapshot) Totals() (processed, success, failed uint64) {
	for _, w := range s.Workers {
		processed += w.Processed
		success += w.Success
		failed += w.Failed
	}
	return processed, success, failed
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
