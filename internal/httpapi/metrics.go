package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the sync layer's counters onto one registry. It
// implements ledger.FailureNotifier so a remote write failure for a
// financial record both increments the counter and is visible to the
// operator surface scraping /metrics.
type Metrics struct {
	registry       *prometheus.Registry
	snapshotMerges *prometheus.CounterVec
	writeFailures  *prometheus.CounterVec
	outboxDepth    prometheus.GaugeFunc
}

func NewMetrics(outboxDepth func() int) *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		snapshotMerges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgersync_snapshot_merges_total",
			Help: "Remote snapshots merged into the local store, per collection.",
		}, []string{"collection"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgersync_remote_write_failures_total",
			Help: "Remote writes that exhausted their attempts, per collection.",
		}, []string{"collection"}),
	}
	if outboxDepth != nil {
		m.outboxDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ledgersync_outbox_depth",
			Help: "Remote writes currently queued.",
		}, func() float64 { return float64(outboxDepth()) })
		registry.MustRegister(m.outboxDepth)
	}
	registry.MustRegister(m.snapshotMerges, m.writeFailures)
	return m
}

// SnapshotMerged is wired as ledger.SyncOptions.OnMerge.
func (m *Metrics) SnapshotMerged(collection string) {
	if m == nil {
		return
	}
	m.snapshotMerges.WithLabelValues(collection).Inc()
}

// RemoteWriteFailed implements ledger.FailureNotifier.
func (m *Metrics) RemoteWriteFailed(collection, key string, err error) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(collection).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
