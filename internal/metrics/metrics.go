// Package metrics exposes the aggregate counters named in the error
// handling design (received, deduplicated, ingested, retried, failed,
// dead-lettered, plus decode and transform errors) as Prometheus metrics,
// plus the gauges the controller's health model reads (batch queue depth,
// dedup hits). There is no counter of successfully transformed findings.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "guardduty_ingest"

var (
	// FindingsReceivedTotal counts findings yielded by the decoder, before
	// dedup or transform.
	FindingsReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "findings_received_total",
		Help:      "Total findings decoded from source objects.",
	})

	// FindingsDeduplicatedTotal counts findings suppressed by C3.
	FindingsDeduplicatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "findings_deduplicated_total",
		Help:      "Total findings suppressed as duplicates.",
	})

	// DecodeErrorsTotal counts malformed JSONL lines skipped by C2.
	DecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Total malformed lines skipped during decode.",
	})

	// TransformErrorsTotal counts findings that failed transformation.
	TransformErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transform_errors_total",
		Help:      "Total findings that failed transformation.",
	})

	// RecordsIngestedTotal counts TargetRecords accepted by the sink across
	// completed batches.
	RecordsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_ingested_total",
		Help:      "Total records accepted by the sink.",
	})

	// BatchesCompletedTotal, BatchesFailedTotal, and BatchesDeadLetteredTotal
	// track the per-batch terminal state machine (§4.10).
	BatchesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_completed_total",
		Help:      "Total batches that reached the completed terminal state.",
	})
	BatchesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_failed_total",
		Help:      "Total batches whose ingest attempts ended in the failed state, including those later dead-lettered.",
	})
	BatchesDeadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_dead_lettered_total",
		Help:      "Total batches written to the dead-letter sink.",
	})

	// RetriesTotal counts individual retry attempts made by C6.
	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Total retry attempts made against the sink.",
	})

	// TokenRefreshesTotal counts C7 refreshes (cache miss, expiry, or 401).
	TokenRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "Total OAuth2 token refreshes performed.",
	})

	// DeadLetterFailuresTotal counts failures to write to the dead-letter
	// destination itself (the batch is then considered lost).
	DeadLetterFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dead_letter_failures_total",
		Help:      "Total failures writing to the dead-letter destination.",
	})

	// IngestDuration observes end-to-end latency of a single sink POST.
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_duration_seconds",
		Help:      "Latency of sink ingest requests.",
		Buckets:   prometheus.DefBuckets,
	})

	// BatchQueueDepth is the gauge the controller's health model compares
	// against HealthConfig.BatchQueueDegradedAbove.
	BatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "batch_queue_depth",
		Help:      "Current number of batches waiting for an ingest worker.",
	})

	// DedupHitRate is informational only per the health model: it never by
	// itself marks the pipeline degraded. It holds the running count of
	// suppressed duplicates (Deduplicator.Hits), not a ratio.
	DedupHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dedup_hit_rate",
		Help:      "Running count of findings suppressed as duplicates since process start (a count, not a fraction).",
	})
)

// RecordIngest records the outcome of one sink POST: duration and accepted
// record count.
func RecordIngest(duration time.Duration, accepted int) {
	IngestDuration.Observe(duration.Seconds())
	RecordsIngestedTotal.Add(float64(accepted))
}
