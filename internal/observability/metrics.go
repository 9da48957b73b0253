package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the sync
// and query paths.
type Metrics struct {
	SyncRuns     *prometheus.CounterVec // labels: feed, outcome={updated,noop,error}
	SyncDuration *prometheus.HistogramVec
	FetchErrors  *prometheus.CounterVec // labels: feed, kind={transient,malformed}

	RowsMerged    *prometheus.CounterVec // labels: feed, mode={insert_if_absent,replace}
	MergeDuration *prometheus.HistogramVec
	WatermarkEnd  *prometheus.GaugeVec // labels: feed; unix seconds of the feed's trailing watermark

	BucketsRecomputed prometheus.Counter

	CacheLookups *prometheus.CounterVec // labels: key_kind, result={hit,miss}
	QueryErrors  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.SyncRuns,
		m.SyncDuration,
		m.FetchErrors,
		m.RowsMerged,
		m.MergeDuration,
		m.WatermarkEnd,
		m.BucketsRecomputed,
		m.CacheLookups,
		m.QueryErrors,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridfeed",
			Name:      "sync_runs_total",
			Help:      "Sync cycles per feed by outcome.",
		}, []string{"feed", "outcome"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gridfeed",
			Name:      "sync_duration_seconds",
			Help:      "Duration of one feed's full sync run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}, []string{"feed"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridfeed",
			Name:      "fetch_errors_total",
			Help:      "Skipped fetch candidates by feed and error kind.",
		}, []string{"feed", "kind"}),
		RowsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridfeed",
			Name:      "rows_merged_total",
			Help:      "Rows written into the fact tables by feed and merge mode.",
		}, []string{"feed", "mode"}),
		MergeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gridfeed",
			Name:      "merge_duration_seconds",
			Help:      "Duration of one merge batch transaction.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"feed"}),
		WatermarkEnd: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gridfeed",
			Name:      "watermark_end_timestamp_seconds",
			Help:      "Trailing watermark end per feed as unix seconds.",
		}, []string{"feed"}),
		BucketsRecomputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridfeed",
			Name:      "aggregate_buckets_recomputed_total",
			Help:      "Hourly buckets re-aggregated by the maintainer.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridfeed",
			Name:      "cache_lookups_total",
			Help:      "Read cache lookups by key kind and result.",
		}, []string{"key_kind", "result"}),
		QueryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridfeed",
			Name:      "query_errors_total",
			Help:      "Range queries rejected as invalid.",
		}),
	}
}
