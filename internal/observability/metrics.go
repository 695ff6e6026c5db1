package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for FillLedger.
type Metrics struct {
	// --- Ingestion ---
	RecordsAccepted  prometheus.Counter
	RecordsDuplicate prometheus.Counter
	RecordsMalformed *prometheus.CounterVec
	IngestBatchDur   prometheus.Histogram
	IngestBatchSize  prometheus.Histogram

	// --- Deduplication ledger ---
	DedupHits     *prometheus.CounterVec // tier: lru | redis
	DedupErrors   prometheus.Counter
	DedupLRUSize  prometheus.Gauge
	DedupCheckDur prometheus.Histogram

	// --- Rebuild ---
	RebuildsTotal          *prometheus.CounterVec // result: ok | conflict | error
	RebuildDuration        prometheus.Histogram
	RebuildPositions       prometheus.Histogram
	RebuildScopeKeys       prometheus.Histogram
	CacheInvalidations     prometheus.Counter
	RebuiltEventsPublished prometheus.Counter
	RebuiltEventsDropped   prometheus.Counter

	// --- Integrity ---
	IssuesDetected *prometheus.CounterVec // kind
	IssuesOpen     prometheus.Gauge
	ValidationDur  prometheus.Histogram
	RepairsTotal   *prometheus.CounterVec // mode: dry_run | applied
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	durBuckets := []float64{
		0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
	}

	return &Metrics{
		RecordsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fillledger_records_accepted_total",
			Help: "Execution records accepted into the store",
		}),
		RecordsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fillledger_records_duplicate_total",
			Help: "Execution records skipped as known duplicates",
		}),
		RecordsMalformed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fillledger_records_malformed_total",
			Help: "Execution records rejected before dedup",
		}, []string{"reason"}),
		IngestBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fillledger_ingest_batch_duration_seconds",
			Help:    "End-to-end ingestion batch duration",
			Buckets: durBuckets,
		}),
		IngestBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fillledger_ingest_batch_size",
			Help:    "Records per ingestion batch",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),

		DedupHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fillledger_dedup_hits_total",
			Help: "Duplicate identifiers caught, by tier",
		}, []string{"tier"}),
		DedupErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fillledger_dedup_errors_total",
			Help: "Dedup ledger failures (each fails its batch closed)",
		}),
		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fillledger_dedup_lru_size",
			Help: "Entries in the in-process dedup LRU tier",
		}),
		DedupCheckDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fillledger_dedup_check_duration_seconds",
			Help:    "Dedup ledger lookup duration",
			Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		RebuildsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fillledger_rebuilds_total",
			Help: "Per-key rebuilds by result",
		}, []string{"result"}),
		RebuildDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fillledger_rebuild_duration_seconds",
			Help:    "Single-key rebuild duration",
			Buckets: durBuckets,
		}),
		RebuildPositions: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fillledger_rebuild_positions",
			Help:    "Positions produced per key rebuild",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 500},
		}),
		RebuildScopeKeys: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fillledger_rebuild_scope_keys",
			Help:    "Distinct position keys per rebuild batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		CacheInvalidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fillledger_cache_invalidations_total",
			Help: "Read-model cache invalidations issued",
		}),
		RebuiltEventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fillledger_rebuilt_events_published_total",
			Help: "Rebuilt-key events published",
		}),
		RebuiltEventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fillledger_rebuilt_events_dropped_total",
			Help: "Rebuilt-key events that failed to publish",
		}),

		IssuesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fillledger_integrity_issues_detected_total",
			Help: "Integrity issues detected, by kind",
		}, []string{"kind"}),
		IssuesOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fillledger_integrity_issues_open",
			Help: "Currently open integrity issues",
		}),
		ValidationDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fillledger_validation_duration_seconds",
			Help:    "Single-key validation pass duration",
			Buckets: durBuckets,
		}),
		RepairsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fillledger_repairs_total",
			Help: "Repair invocations by mode",
		}, []string{"mode"}),
	}
}
