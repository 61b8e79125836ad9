package collector

import (
	"sync/atomic"
	"time"
)

// Stats summarises page traffic for a run, or across all runs of a Fetcher.
type Stats struct {
	Pages      int64         `json:"pages"`
	Rows       int64         `json:"rows"`
	Attempts   int64         `json:"attempts"`
	Retries    int64         `json:"retries"`
	Failures   int64         `json:"failures"`
	SourceTime time.Duration `json:"source_time"`
}

// metricsCollector tracks page statistics. Counters are atomic so a Fetcher
// shared between goroutines reports consistent totals.
type metricsCollector struct {
	pages      int64
	rows       int64
	attempts   int64
	retries    int64
	failures   int64
	sourceTime int64 // nanoseconds
}

func (m *metricsCollector) recordPage(rows, attempts int, elapsed time.Duration) {
	atomic.AddInt64(&m.pages, 1)
	atomic.AddInt64(&m.rows, int64(rows))
	m.recordAttempts(attempts, elapsed)
}

func (m *metricsCollector) recordFailure(attempts int, elapsed time.Duration) {
	atomic.AddInt64(&m.failures, 1)
	m.recordAttempts(attempts, elapsed)
}

func (m *metricsCollector) recordAttempts(attempts int, elapsed time.Duration) {
	atomic.AddInt64(&m.attempts, int64(attempts))
	if attempts > 1 {
		atomic.AddInt64(&m.retries, int64(attempts-1))
	}
	atomic.AddInt64(&m.sourceTime, elapsed.Nanoseconds())
}

func (m *metricsCollector) snapshot() Stats {
	return Stats{
		Pages:      atomic.LoadInt64(&m.pages),
		Rows:       atomic.LoadInt64(&m.rows),
		Attempts:   atomic.LoadInt64(&m.attempts),
		Retries:    atomic.LoadInt64(&m.retries),
		Failures:   atomic.LoadInt64(&m.failures),
		SourceTime: time.Duration(atomic.LoadInt64(&m.sourceTime)),
	}
}
