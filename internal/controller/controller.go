// Package controller implements the Pipeline Controller (C10): it owns
// component lifecycle, wires C1-C9 into the DAG described in the system
// overview, enforces bounded concurrency via two worker pools, and
// coordinates graceful shutdown.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/batch"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/deadletter"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/decode"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/dedup"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/health"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/metrics"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/retry"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/sink"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/source"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/transform"
	engerrors "github.com/OluOlus/guardduty-sentinel-integration-sub001/pkg/errors"
)

// Ingester is the subset of sink.Client the controller depends on. It exists
// so tests can substitute a fake without standing up a real token.Cache and
// HTTP round tripper.
type Ingester interface {
	Ingest(ctx context.Context, streamName string, records []engine.TargetRecord) (*sink.IngestResult, error)
}

// Config sizes the controller's worker pools and queues. It mirrors
// config.ConcurrencyConfig plus the few cross-cutting knobs (stream name,
// flush cadence, degraded threshold) the controller needs directly.
type Config struct {
	ObjectWorkers           int
	IngestWorkers           int
	InputQueueDepth         int
	ShutdownDeadline        time.Duration
	FlushCheckInterval      time.Duration
	StreamName              string
	BatchQueueDegradedAbove int
}

// Controller wires the Object Source, Deduplicator, Transformer, Batcher,
// Retry Engine, Sink Client, and Dead-Letter Sink into the DAG: C1->C2->C3->
// C4->C5 on a pool of object-workers, (C6 wraps) C8 on a pool of
// ingest-workers, with failures past C6 flowing to C9.
type Controller struct {
	cfg Config

	src         source.Source
	dedup       *dedup.Deduplicator
	xform       *transform.Transformer
	batcher     *batch.Batcher
	retryEngine *retry.Engine
	sinkCli     Ingester
	dlSink      deadletter.Sink
	health      *health.Reporter
	logger      *logrus.Logger

	input chan engine.ObjectRef

	drainOnce sync.Once
	draining  chan struct{}
}

// New builds a Controller. All components are injected (per the design
// notes' guidance against singletons) so the controller owns their
// lifecycle without owning their construction.
func New(
	cfg Config,
	src source.Source,
	dd *dedup.Deduplicator,
	xf *transform.Transformer,
	bat *batch.Batcher,
	re *retry.Engine,
	sc Ingester,
	dl deadletter.Sink,
	reporter *health.Reporter,
	logger *logrus.Logger,
) *Controller {
	if cfg.ObjectWorkers <= 0 {
		cfg.ObjectWorkers = 10
	}
	if cfg.IngestWorkers <= 0 {
		cfg.IngestWorkers = 4
	}
	if cfg.InputQueueDepth <= 0 {
		cfg.InputQueueDepth = 1000
	}
	if cfg.ShutdownDeadline <= 0 {
		cfg.ShutdownDeadline = 30 * time.Second
	}
	if cfg.FlushCheckInterval <= 0 {
		cfg.FlushCheckInterval = time.Second
	}

	c := &Controller{
		cfg:         cfg,
		src:         src,
		dedup:       dd,
		xform:       xf,
		batcher:     bat,
		retryEngine: re,
		sinkCli:     sc,
		dlSink:      dl,
		health:      reporter,
		logger:      logger,
		input:       make(chan engine.ObjectRef, cfg.InputQueueDepth),
		draining:    make(chan struct{}),
	}

	if reporter != nil {
		reporter.Register("batch_queue", c.batchQueueProbe)
		reporter.Register("dedup_hit_rate", c.dedupHitRateProbe)
	}
	return c
}

// Enqueue offers ref to the input queue without blocking. It returns false
// (the controller's busy signal, per §4.10's backpressure contract) when
// the queue is full; an external trigger (S3 event, timer) should back off
// and retry rather than block its own caller.
func (c *Controller) Enqueue(ref engine.ObjectRef) bool {
	select {
	case <-c.draining:
		return false
	default:
	}
	select {
	case c.input <- ref:
		return true
	default:
		return false
	}
}

// Idle reports whether both the input queue and the emitted-batch queue are
// currently empty. It is a best-effort signal for a one-shot invocation
// deciding when to stop waiting: it does not see an object mid-processing
// inside a worker between those two queues, so callers should sample it
// more than once before concluding the pipeline has drained.
func (c *Controller) Idle() bool {
	return len(c.input) == 0 && len(c.batcher.Emitted) == 0
}

// ListAndEnqueue pulls objects from the source and enqueues them, for the
// "pull by listing" entry point (a polling deployment rather than one
// driven by push events or a timer tick per object).
func (c *Controller) ListAndEnqueue(ctx context.Context, bucket, prefix string, limit int) (int, error) {
	refs, err := c.src.List(ctx, bucket, prefix, limit)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, ref := range refs {
		if c.Enqueue(ref) {
			enqueued++
		}
	}
	return enqueued, nil
}

// Run starts the object-worker pool, the ingest-worker pool, and the
// flush-interval ticker, and blocks until ctx is cancelled. On cancellation
// it performs the graceful shutdown sequence from §5: stop accepting new
// ObjectRefs, let in-flight object processing finish or abort at its next
// suspension point, flush the batcher unconditionally, and drain the ingest
// pool up to ShutdownDeadline before returning.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < c.cfg.ObjectWorkers; i++ {
		g.Go(func() error { return c.runObjectWorker(gctx) })
	}
	for i := 0; i < c.cfg.IngestWorkers; i++ {
		g.Go(func() error { return c.runIngestWorker(gctx) })
	}
	g.Go(func() error { return c.runFlushTicker(gctx) })

	<-ctx.Done()
	c.drainOnce.Do(func() { close(c.draining) })
	c.batcher.Drain()

	deadline, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownDeadline)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-deadline.Done():
		c.logger.Warn("shutdown deadline reached, dead-lettering remaining queued batches")
		c.deadLetterRemainingQueue()
		return deadline.Err()
	}
}

// deadLetterRemainingQueue drains whatever is still sitting in the batch
// queue at the shutdown deadline and dead-letters it directly, per §5(e):
// any batch still queued (as opposed to actively in-flight inside an ingest
// worker, which keeps running until it finishes its own attempt) is
// considered undeliverable once the deadline has passed. It races benignly
// against any ingest worker still draining the same channel: a given batch
// value is received by exactly one of them.
func (c *Controller) deadLetterRemainingQueue() {
	for {
		select {
		case b, ok := <-c.batcher.Emitted:
			if !ok {
				return
			}
			c.deadLetterUndelivered(b)
		default:
			return
		}
	}
}

func (c *Controller) deadLetterUndelivered(b *engine.Batch) {
	_ = b.Transition(engine.StatusFailed)
	failure := deadletter.FailureContext{
		Kind:      string(engerrors.KindTransient),
		Message:   "shutdown deadline reached before batch could be ingested",
		Attempt:   0,
		FirstSeen: b.FirstSeen,
	}
	ctx, cancel := c.deadLetterCtx()
	defer cancel()
	if err := c.dlSink.DeadLetter(ctx, b, failure); err != nil {
		metrics.DeadLetterFailuresTotal.Inc()
		c.logger.WithFields(logrus.Fields{"batch_id": b.ID, "error": err}).Error("dead-letter write failed for undelivered batch at shutdown")
		return
	}
	metrics.BatchesDeadLetteredTotal.Inc()
	_ = b.Transition(engine.StatusDeadLettered)
}

// deadLetterCtx detaches a dead-letter write from whatever context drove the
// failure it is recording. A dead-letter write triggered by a
// shutdown-cancelled retry must not itself be cancelled by the same
// cancellation, or "dead-lettered" silently becomes "failed, lost".
func (c *Controller) deadLetterCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.cfg.ShutdownDeadline)
}

func (c *Controller) runObjectWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ref, ok := <-c.input:
			if !ok {
				return nil
			}
			c.processObject(ctx, ref)
		}
	}
}

func (c *Controller) processObject(ctx context.Context, ref engine.ObjectRef) {
	stream, err := c.src.Fetch(ctx, ref)
	if err != nil {
		if errors.Is(err, source.ErrObjectNotFound) {
			return
		}
		c.handleObjectFailure(ref, err)
		return
	}
	defer stream.Close()

	dec, err := decode.New(stream)
	if err != nil {
		c.handleObjectFailure(ref, engerrors.Wrap(engerrors.KindSourceAccess, "open decode stream", err))
		return
	}
	defer dec.Close()

	var findings []*engine.Finding
	for {
		f, ok, decErr := dec.Next()
		if decErr != nil {
			c.logger.WithFields(logrus.Fields{"bucket": ref.Bucket, "key": ref.Key, "error": decErr}).Warn("decode stream aborted early")
			break
		}
		if !ok {
			break
		}
		findings = append(findings, f)
	}

	parsed, malformed := dec.Stats()
	metrics.FindingsReceivedTotal.Add(float64(parsed))
	metrics.DecodeErrorsTotal.Add(float64(malformed))

	if len(findings) == 0 {
		return
	}

	kept, err := c.dedup.Filter(ctx, findings)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"bucket": ref.Bucket, "key": ref.Key, "error": err}).Error("dedup filter failed, dropping object")
		return
	}
	metrics.FindingsDeduplicatedTotal.Add(float64(len(findings) - len(kept)))

	for _, f := range kept {
		rec, err := c.xform.Transform(f)
		if err != nil {
			metrics.TransformErrorsTotal.Inc()
			c.logger.WithFields(logrus.Fields{"finding_id": f.ID, "error": err}).Warn("transform failed, dropping finding")
			continue
		}

		if err := c.batcher.Submit(rec); err != nil {
			var tooLarge *batch.ErrRecordTooLarge
			if errors.As(err, &tooLarge) {
				c.deadLetterOversizedRecord(rec, err)
				continue
			}
			c.logger.WithFields(logrus.Fields{"finding_id": f.ID, "error": err}).Warn("submit rejected, dropping record")
		}
	}
}

// handleObjectFailure dead-letters a SourceAccess or Decryption failure by
// wrapping the ObjectRef in a single-record batch, so it flows through the
// same C9 contract as a sink-side batch failure.
func (c *Controller) handleObjectFailure(ref engine.ObjectRef, cause error) {
	c.logger.WithFields(logrus.Fields{"bucket": ref.Bucket, "key": ref.Key, "error": cause}).Error("object processing failed")

	b := engine.NewObjectFailureBatch(ref)
	failure := deadletter.FailureContext{
		Kind:      string(engerrors.KindOf(cause)),
		Message:   cause.Error(),
		Attempt:   1,
		FirstSeen: b.FirstSeen,
	}
	dlCtx, cancel := c.deadLetterCtx()
	defer cancel()
	if err := c.dlSink.DeadLetter(dlCtx, b, failure); err != nil {
		metrics.DeadLetterFailuresTotal.Inc()
		c.logger.WithFields(logrus.Fields{"bucket": ref.Bucket, "key": ref.Key, "error": err}).Error("dead-letter write failed for object failure")
	}
}

func (c *Controller) deadLetterOversizedRecord(rec engine.TargetRecord, cause error) {
	b := engine.NewBatch([]engine.TargetRecord{rec}, batch.HardLimitBytes+1)
	failure := deadletter.FailureContext{
		Kind:      string(engerrors.KindSchema),
		Message:   cause.Error(),
		Attempt:   0,
		FirstSeen: b.FirstSeen,
	}
	dlCtx, cancel := c.deadLetterCtx()
	defer cancel()
	if err := c.dlSink.DeadLetter(dlCtx, b, failure); err != nil {
		metrics.DeadLetterFailuresTotal.Inc()
		c.logger.WithFields(logrus.Fields{"finding_id": rec.FindingId, "error": err}).Error("dead-letter write failed for oversized record")
	}
}

// runIngestWorker drains Emitted until the Batcher closes it (on Drain,
// during shutdown) rather than also racing ctx.Done() in its select: select
// picks pseudo-randomly among ready cases, so a worker racing both could
// abandon queued batches still sitting in the channel the instant shutdown
// begins. The worker's own in-flight ingest attempt still observes ctx via
// processBatch -> ExecuteWithRetry, so cancellation still aborts work, it
// just does not cause queued-but-unstarted batches to be skipped.
func (c *Controller) runIngestWorker(ctx context.Context) error {
	for b := range c.batcher.Emitted {
		c.processBatch(ctx, b)
	}
	return nil
}

func (c *Controller) processBatch(ctx context.Context, b *engine.Batch) {
	if err := b.Transition(engine.StatusInFlight); err != nil {
		c.logger.WithFields(logrus.Fields{"batch_id": b.ID, "error": err}).Error("illegal batch transition, dropping batch")
		return
	}

	var result *sink.IngestResult
	start := time.Now()
	attempts := 0
	err := c.retryEngine.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		attempts++
		var ingestErr error
		result, ingestErr = c.sinkCli.Ingest(ctx, c.cfg.StreamName, b.Records)
		return ingestErr
	}, retry.DefaultClassifier)

	if attempts > 1 {
		metrics.RetriesTotal.Add(float64(attempts - 1))
	}

	if err == nil {
		_ = b.Transition(engine.StatusCompleted)
		metrics.BatchesCompletedTotal.Inc()
		metrics.RecordIngest(time.Since(start), result.AcceptedRecords)
		return
	}

	_ = b.Transition(engine.StatusFailed)
	metrics.BatchesFailedTotal.Inc()

	failure := deadletter.FailureContext{
		Kind:      string(engerrors.KindOf(err)),
		Message:   err.Error(),
		Attempt:   attempts,
		FirstSeen: b.FirstSeen,
	}
	dlCtx, cancel := c.deadLetterCtx()
	defer cancel()
	if dlErr := c.dlSink.DeadLetter(dlCtx, b, failure); dlErr != nil {
		metrics.DeadLetterFailuresTotal.Inc()
		_ = b.Transition(engine.StatusFailed)
		c.logger.WithFields(logrus.Fields{"batch_id": b.ID, "error": dlErr}).Error("dead-letter write failed, batch lost")
		return
	}
	_ = b.Transition(engine.StatusDeadLettered)
	metrics.BatchesDeadLetteredTotal.Inc()
}

func (c *Controller) runFlushTicker(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.FlushCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.batcher.CheckFlushInterval()
		}
	}
}

func (c *Controller) batchQueueProbe(_ context.Context) (health.Status, string) {
	depth := len(c.batcher.Emitted)
	metrics.BatchQueueDepth.Set(float64(depth))
	if c.cfg.BatchQueueDegradedAbove > 0 && depth > c.cfg.BatchQueueDegradedAbove {
		return health.StatusDegraded, fmt.Sprintf("batch queue depth %d exceeds threshold %d", depth, c.cfg.BatchQueueDegradedAbove)
	}
	return health.StatusHealthy, ""
}

// dedupHitRateProbe is informational only: per the health model, dedup hit
// rate never by itself marks the pipeline degraded.
func (c *Controller) dedupHitRateProbe(_ context.Context) (health.Status, string) {
	hits := c.dedup.Hits()
	metrics.DedupHitRate.Set(float64(hits))
	return health.StatusHealthy, fmt.Sprintf("%d duplicates suppressed", hits)
}
