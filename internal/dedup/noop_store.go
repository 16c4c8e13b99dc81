package dedup

import (
	"context"
	"time"
)

// NoopStore never reports a key as seen. It backs the Deduplicator when
// deduplication.enabled is false, so the controller always has a
// Deduplicator to call (no separate disabled-path branch needed) while the
// filter stage becomes a no-op pass-through.
type NoopStore struct{}

// SeenOrMark always returns false: nothing is ever a duplicate.
func (NoopStore) SeenOrMark(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return false, nil
}
