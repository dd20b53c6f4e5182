package gateway

import (
	"sync/atomic"
)

// Metrics tracks gateway-level counters using atomic operations for
// lock-free concurrency. The /metrics endpoint additionally exposes the
// process-wide Prometheus registry.
type Metrics struct {
	joins    atomic.Int64
	messages atomic.Int64
	reports  atomic.Int64
	errors   atomic.Int64
}

// RecordJoin records a join request.
func (m *Metrics) RecordJoin() {
	m.joins.Add(1)
}

// RecordMessage records an applied room message.
func (m *Metrics) RecordMessage() {
	m.messages.Add(1)
}

// RecordReport records a submitted exercise report.
func (m *Metrics) RecordReport() {
	m.reports.Add(1)
}

// RecordError records a request that failed.
func (m *Metrics) RecordError() {
	m.errors.Add(1)
}

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Joins:    m.joins.Load(),
		Messages: m.messages.Load(),
		Reports:  m.reports.Load(),
		Errors:   m.errors.Load(),
	}
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Joins    int64 `json:"joins"`
	Messages int64 `json:"messages"`
	Reports  int64 `json:"reports"`
	Errors   int64 `json:"errors"`
}
