// Package batch implements the Batcher (C5): accumulating TargetRecords into
// size- and time-bounded batches that respect Azure Monitor's payload limit.
package batch

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
)

const (
	// HardLimitBytes is Azure's per-request ingestion ceiling. A single
	// record exceeding this can never be shipped and is rejected outright.
	HardLimitBytes = 30 * 1024 * 1024
	// DefaultSoftCapBytes triggers an early flush comfortably below the
	// hard limit, leaving headroom for JSON array framing overhead.
	DefaultSoftCapBytes = 25 * 1024 * 1024

	// perRecordOverhead approximates the comma/array-bracket framing added
	// when records are joined into a JSON array, so the running size
	// estimate tracks what the Sink Client will actually serialize.
	perRecordOverhead = 2
)

// ErrRecordTooLarge is returned by Submit when a single record's serialized
// size alone exceeds HardLimitBytes; the caller is expected to dead-letter it.
type ErrRecordTooLarge struct {
	SizeBytes int
}

func (e *ErrRecordTooLarge) Error() string {
	return fmt.Sprintf("batch: record of %d bytes exceeds the %d byte hard limit", e.SizeBytes, HardLimitBytes)
}

// Batcher accumulates records into engine.Batch values and emits them onto
// Emitted when a trigger fires. It is safe for concurrent Submit calls from
// multiple object-workers; emission is atomic (buffer swap under lock).
type Batcher struct {
	mu           sync.Mutex
	batchSize    int
	softCapBytes int
	flushAfter   time.Duration

	buf       []engine.TargetRecord
	sizeBytes int
	firstSeen time.Time

	Emitted chan *engine.Batch

	draining bool
}

// New builds a Batcher with an Emitted channel of depth 1. batchSize and
// flushAfter come from configuration; softCapBytes defaults to
// DefaultSoftCapBytes when zero.
func New(batchSize int, softCapBytes int, flushAfter time.Duration) *Batcher {
	return NewWithQueueDepth(batchSize, softCapBytes, flushAfter, 1)
}

// NewWithQueueDepth is New with a configurable Emitted channel depth.
// internal/app uses this to size the controller's batch queue per
// concurrency.batch_queue_depth: when the queue is full, Submit (and so the
// object-workers upstream of it) blocks, which is how a saturated ingest
// pool applies backpressure all the way back to decoding.
func NewWithQueueDepth(batchSize int, softCapBytes int, flushAfter time.Duration, queueDepth int) *Batcher {
	if softCapBytes <= 0 {
		softCapBytes = DefaultSoftCapBytes
	}
	if queueDepth <= 0 {
		queueDepth = 1
	}
	return &Batcher{
		batchSize:    batchSize,
		softCapBytes: softCapBytes,
		flushAfter:   flushAfter,
		Emitted:      make(chan *engine.Batch, queueDepth),
	}
}

// Submit adds rec to the current buffer, emitting a batch first if adding
// rec would breach the soft size cap, and again immediately after if the
// count trigger now fires. Submit blocks while Emitted is full, which is the
// mechanism by which a saturated ingest pool applies backpressure to
// object-workers.
func (b *Batcher) Submit(rec engine.TargetRecord) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("batch: marshal record %s: %w", rec.FindingId, err)
	}
	size := len(encoded) + perRecordOverhead
	if size > HardLimitBytes {
		return &ErrRecordTooLarge{SizeBytes: size}
	}

	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return fmt.Errorf("batch: submit after drain")
	}
	var softCapEmit, countEmit *engine.Batch
	if len(b.buf) > 0 && b.sizeBytes+size > b.softCapBytes {
		softCapEmit = b.swapLocked()
	}
	if len(b.buf) == 0 {
		b.firstSeen = time.Now()
	}
	b.buf = append(b.buf, rec)
	b.sizeBytes += size
	if len(b.buf) >= b.batchSize {
		countEmit = b.swapLocked()
	}
	b.mu.Unlock()

	// Sending on Emitted is a suspension point (it blocks while the channel
	// is full); it must happen after mu is released, not while held.
	if softCapEmit != nil {
		b.Emitted <- softCapEmit
	}
	if countEmit != nil {
		b.Emitted <- countEmit
	}
	return nil
}

// CheckFlushInterval emits the current buffer if its oldest record has aged
// past the configured flush interval. The controller calls this on a ticker
// so a sparse trickle of records is not held indefinitely.
func (b *Batcher) CheckFlushInterval() {
	b.mu.Lock()
	var toEmit *engine.Batch
	if len(b.buf) > 0 && time.Since(b.firstSeen) >= b.flushAfter {
		toEmit = b.swapLocked()
	}
	b.mu.Unlock()

	if toEmit != nil {
		b.Emitted <- toEmit
	}
}

// Drain flushes any partial buffer unconditionally, for graceful shutdown.
// After Drain, further Submit calls are rejected.
func (b *Batcher) Drain() {
	b.mu.Lock()
	b.draining = true
	toEmit := b.swapLocked()
	b.mu.Unlock()

	if toEmit != nil {
		b.Emitted <- toEmit
	}
	close(b.Emitted)
}

// swapLocked must be called with mu held. It swaps out the buffer so the
// next submitter starts fresh and returns the batch to emit, or nil if the
// buffer was empty. The caller sends the result on Emitted itself, after
// releasing mu: Emitted is a bounded channel, and sending on it must not
// happen while holding the lock readers and other submitters block on.
func (b *Batcher) swapLocked() *engine.Batch {
	if len(b.buf) == 0 {
		return nil
	}
	batch := engine.NewBatch(b.buf, b.sizeBytes)
	b.buf = nil
	b.sizeBytes = 0
	return batch
}
