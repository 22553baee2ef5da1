// Package metrics is the in-process counter/gauge set behind
// cache_stats(): per-request latency, cache hit ratio, upstream call
// counts and errors by class, bars stored/served, coverage growth, plus
// a periodic process resource sample (CPU/RAM) taken with
// shirou/gopsutil/v3 the same way the surrounding ecosystem reports
// system health — this is metrics about the cache process itself, not
// a business calculation.
package metrics

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/errs"
	"github.com/aristath/quantdb/internal/gapresolver"
)

// Snapshot is the read-only view returned by cache_stats().
type Snapshot struct {
	Hits                int64
	Misses              int64
	UpstreamCalls       int64
	UpstreamErrors      int64
	UpstreamRetryable   int64
	InflightDedup       int64
	Degraded            int64
	BarsStored          int64
	UpstreamLatencyTot  time.Duration
	Goroutines          int
	CPUPercent          float64
	RAMPercent          float64
	SampledAt           time.Time
}

// Metrics is the Metrics implementation: atomic counters updated from
// any goroutine, plus a mutex-guarded resource sample refreshed by a
// background scheduler job rather than on every read (gopsutil's CPU
// sample blocks for its sampling window, so it must not run inline with
// a request path).
type Metrics struct {
	hits               int64
	misses             int64
	upstreamCalls      int64
	upstreamErrors     int64
	upstreamRetryable  int64
	inflightDedup      int64
	degraded           int64
	barsStored         int64
	upstreamLatencyNs  int64

	mu         sync.RWMutex
	cpuPercent float64
	ramPercent float64
	sampledAt  time.Time

	log zerolog.Logger
}

func New(log zerolog.Logger) *Metrics {
	return &Metrics{log: log.With().Str("component", "metrics").Logger()}
}

// RecordUpstreamCall implements historical.MetricsRecorder.
func (m *Metrics) RecordUpstreamCall(_ gapresolver.Window, latency time.Duration, err error) {
	atomic.AddInt64(&m.upstreamCalls, 1)
	atomic.AddInt64(&m.upstreamLatencyNs, int64(latency))
	if err != nil {
		atomic.AddInt64(&m.upstreamErrors, 1)
		if qerr, ok := err.(*errs.Error); ok && qerr.Retryable {
			atomic.AddInt64(&m.upstreamRetryable, 1)
		}
	}
}

func (m *Metrics) RecordCacheHit(n int) {
	if n > 0 {
		atomic.AddInt64(&m.hits, int64(n))
	} else if n < 0 {
		atomic.AddInt64(&m.misses, int64(-n))
	}
}

func (m *Metrics) RecordInflightDedup() { atomic.AddInt64(&m.inflightDedup, 1) }
func (m *Metrics) RecordDegraded()      { atomic.AddInt64(&m.degraded, 1) }

// RecordBarsStored is called by callers of BarStore.Upsert to track
// total bars written, since BarStore itself has no metrics dependency.
func (m *Metrics) RecordBarsStored(n int) { atomic.AddInt64(&m.barsStored, int64(n)) }

// SampleResources takes a blocking CPU/RAM sample; call this from the
// scheduler's periodic job, never from a request path.
func (m *Metrics) SampleResources() {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		cpuPercent = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	ramPercent := 0.0
	if err == nil {
		ramPercent = memStat.UsedPercent
	}

	m.mu.Lock()
	m.cpuPercent = cpuPercent[0]
	m.ramPercent = ramPercent
	m.sampledAt = time.Now()
	m.mu.Unlock()
}

// Snapshot returns a read-only view of every counter and the last
// resource sample; individual counter reads may interleave across
// goroutines (eventually consistent per §5), which is acceptable for a
// diagnostics surface.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	cpuPercent, ramPercent, sampledAt := m.cpuPercent, m.ramPercent, m.sampledAt
	m.mu.RUnlock()

	return Snapshot{
		Hits:               atomic.LoadInt64(&m.hits),
		Misses:             atomic.LoadInt64(&m.misses),
		UpstreamCalls:      atomic.LoadInt64(&m.upstreamCalls),
		UpstreamErrors:     atomic.LoadInt64(&m.upstreamErrors),
		UpstreamRetryable:  atomic.LoadInt64(&m.upstreamRetryable),
		InflightDedup:      atomic.LoadInt64(&m.inflightDedup),
		Degraded:           atomic.LoadInt64(&m.degraded),
		BarsStored:         atomic.LoadInt64(&m.barsStored),
		UpstreamLatencyTot: time.Duration(atomic.LoadInt64(&m.upstreamLatencyNs)),
		Goroutines:         runtime.NumGoroutine(),
		CPUPercent:         cpuPercent,
		RAMPercent:         ramPercent,
		SampledAt:          sampledAt,
	}
}

// HitRatio returns hits / (hits + misses), or 0 if nothing has been
// recorded yet.
func (s Snapshot) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
