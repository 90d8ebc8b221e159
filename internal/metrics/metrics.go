// Package metrics declares the Prometheus collectors internal/engine polls
// and increments, following cuemby-warren/pkg/metrics's pattern of
// package-level prometheus.*Vec variables registered once on the default
// registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// OpsTotal counts accepted mutations per Operation kind.
	OpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synap_ops_total",
		Help: "Accepted mutating operations, by kind.",
	}, []string{"kind"})

	// WALFsyncSeconds observes the latency of each WAL fsync/flush.
	WALFsyncSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "synap_wal_fsync_seconds",
		Help:    "WAL fsync/flush latency.",
		Buckets: prometheus.DefBuckets,
	})

	// QueueDepth reports the current ready-set depth per queue.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "synap_queue_depth",
		Help: "Current ready-message count, by queue.",
	}, []string{"queue"})

	// ReplicationLagOps reports how many operations this replica is behind
	// its master's last observed offset.
	ReplicationLagOps = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "synap_replication_lag_ops",
		Help: "Operations this replica is behind its master.",
	})

	// SnapshotsTotal counts snapshots taken, by outcome.
	SnapshotsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synap_snapshots_total",
		Help: "Snapshots taken, by outcome.",
	}, []string{"outcome"})
)

// MustRegister registers every collector on reg. Called once from
// cmd/synapd at startup; tests that construct an Engine directly never call
// this, so repeated Engine construction in the same test binary doesn't
// panic on double-registration.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(OpsTotal, WALFsyncSeconds, QueueDepth, ReplicationLagOps, SnapshotsTotal)
}
