// Package metrics registers the process-wide Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RunsTotal counts materialization runs by feature and terminal status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "feature_store", Subsystem: "materialize", Name: "runs_total", Help: "Materialization runs by feature and status."},
		[]string{"feature", "status"},
	)

	// FactsAppended counts offline facts appended by feature.
	FactsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "feature_store", Subsystem: "offline", Name: "facts_appended_total", Help: "Facts appended to the offline store by feature."},
		[]string{"feature"},
	)

	// FeedLag tracks how far the stream consumer trails the feed head.
	FeedLag = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "feature_store", Subsystem: "stream", Name: "feed_lag", Help: "Uncommitted change-feed entries behind the head."},
	)

	// SyncApplied counts online vector updates by feature.
	SyncApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "feature_store", Subsystem: "online", Name: "sync_applied_total", Help: "Facts folded into online vectors by feature."},
		[]string{"feature"},
	)

	// SyncStale counts facts skipped by the online syncer as already superseded.
	SyncStale = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "feature_store", Subsystem: "online", Name: "sync_stale_total", Help: "Stale facts skipped during online sync by feature."},
		[]string{"feature"},
	)

	// DriftAlerts counts emitted drift alerts by feature and severity.
	DriftAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "feature_store", Subsystem: "drift", Name: "alerts_total", Help: "Drift alerts emitted by feature and severity."},
		[]string{"feature", "severity"},
	)
)

func init() {
	for _, c := range []prometheus.Collector{
		RunsTotal, FactsAppended, FeedLag, SyncApplied, SyncStale, DriftAlerts,
	} {
		_ = prometheus.Register(c)
	}
}
