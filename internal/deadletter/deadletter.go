// Package deadletter implements the Dead-Letter Sink (C9): durably
// recording batches that exhausted retries, with failure context, to a
// configured destination. Per the external interface table, an empty
// destination means "drop with log" rather than an error.
package deadletter

import (
	"context"
	"time"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
)

// FailureContext carries the terminal-error metadata the contract in §4.9
// requires alongside the batch payload: error kind, message, attempt count,
// and first-attempt timestamp.
type FailureContext struct {
	Kind      string
	Message   string
	Attempt   int
	FirstSeen time.Time
}

// Sink durably records a dead-lettered batch. DeadLetter returning an error
// is itself the DeadLetterFailure case in the error taxonomy: the engine
// logs and counts it, and the batch is considered lost, but the pipeline
// continues regardless.
type Sink interface {
	DeadLetter(ctx context.Context, batch *engine.Batch, failure FailureContext) error
}

// NoopSink drops the batch after logging, for deployments that configure no
// dead-letter destination. It never returns an error: a dropped batch was
// the explicit, documented behavior for this configuration, not a failure.
type NoopSink struct {
	OnDrop func(batch *engine.Batch, failure FailureContext)
}

// DeadLetter invokes OnDrop (typically a structured log call) and returns
// nil.
func (s *NoopSink) DeadLetter(_ context.Context, batch *engine.Batch, failure FailureContext) error {
	if s.OnDrop != nil {
		s.OnDrop(batch, failure)
	}
	return nil
}
