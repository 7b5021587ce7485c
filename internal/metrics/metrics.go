// Package metrics defines the Prometheus collectors exported by reposync.
//
// All methods are safe to call on a nil *Metrics, which lets components run
// without a registry in tests and one-shot CLI invocations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reposync"

// Metrics groups the pipeline collectors
type Metrics struct {
	syncRuns       *prometheus.CounterVec
	fetchAttempts  *prometheus.CounterVec
	batches        *prometheus.CounterVec
	vectorsWritten prometheus.Counter
	vectorsDeleted prometheus.Counter
	syncDuration   prometheus.Histogram
}

// New creates the collectors and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by outcome (ok, partial, unchanged, failed, canceled).",
		}, []string{"outcome"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Clone or update attempts by result (ok, retry, failed, cached).",
		}, []string{"result"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Indexing batches by status (completed, skipped, failed).",
		}, []string{"status"}),
		vectorsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vectors_written_total",
			Help:      "Vectors inserted into the vector store.",
		}),
		vectorsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vectors_deleted_total",
			Help:      "Vectors deleted from the vector store.",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
	}
	reg.MustRegister(m.syncRuns, m.fetchAttempts, m.batches, m.vectorsWritten, m.vectorsDeleted, m.syncDuration)
	return m
}

// SyncRun records a finished run
func (m *Metrics) SyncRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(outcome).Inc()
	m.syncDuration.Observe(d.Seconds())
}

// FetchAttempt records one clone/update attempt
func (m *Metrics) FetchAttempt(result string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(result).Inc()
}

// Batch records one indexing batch
func (m *Metrics) Batch(status string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(status).Inc()
}

// VectorsWritten adds n inserted vectors
func (m *Metrics) VectorsWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.vectorsWritten.Add(float64(n))
}

// VectorsDeleted adds n deleted vectors
func (m *Metrics) VectorsDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.vectorsDeleted.Add(float64(n))
}
