package engine

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is a Batch's position in the terminal state machine described in
// the pipeline controller's design (pending -> in-flight -> {completed,
// failed} -> {dead-lettered, failed}).
type Status string

const (
	StatusPending      Status = "pending"
	StatusInFlight     Status = "in-flight"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead-lettered"
)

// final reports whether s can never transition again. completed and
// dead-lettered are always final; failed is not -- the state machine lets a
// failed batch make one further transition to dead-lettered (or back to
// failed, counted, if the dead-letter write itself errors).
func (s Status) final() bool {
	return s == StatusCompleted || s == StatusDeadLettered
}

// Batch is an ordered, size-bounded sequence of TargetRecords emitted by the
// Batcher and carried through the retry engine to the sink client.
type Batch struct {
	ID         string
	Records    []TargetRecord
	Attempt    int
	FirstSeen  time.Time
	SizeBytes  int
	status     Status
}

// NewBatch creates a pending batch with a fresh, time-sortable ID.
func NewBatch(records []TargetRecord, sizeBytes int) *Batch {
	return &Batch{
		ID:        ulid.Make().String(),
		Records:   records,
		FirstSeen: time.Now(),
		SizeBytes: sizeBytes,
		status:    StatusPending,
	}
}

// Status returns the batch's current state.
func (b *Batch) Status() Status { return b.status }

// Transition moves the batch to next, enforcing the state machine in §4.10:
// a final state (completed, dead-lettered) never moves again, and failed
// may only move to dead-lettered (on a successful dead-letter write) or
// back to failed (counted, when the write itself fails) -- never back to
// in-flight. It returns an error describing the illegal transition rather
// than panicking, since a bug here should not take down a worker.
func (b *Batch) Transition(next Status) error {
	if b.status.final() {
		return fmt.Errorf("batch %s: cannot transition out of final state %s", b.ID, b.status)
	}
	if b.status == StatusFailed && next != StatusDeadLettered && next != StatusFailed {
		return fmt.Errorf("batch %s: failed can only transition to dead-lettered or failed, got %s", b.ID, next)
	}
	b.status = next
	return nil
}
