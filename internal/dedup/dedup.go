// Package dedup implements the Deduplicator (C3): a bounded, concurrency-safe
// cache that suppresses previously-seen findings under one of three
// strategies, modeled as a tagged variant rather than a class hierarchy.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
)

// Strategy selects how a finding's dedup key is derived.
type Strategy string

const (
	StrategyByID        Strategy = "by-id"
	StrategyContentHash Strategy = "content-hash"
	StrategyTimeWindow  Strategy = "time-window"
)

// Store is the pluggable backing cache. SeenOrMark must perform the
// check-and-mark atomically with respect to concurrent callers: the
// invariant "no key emitted twice" holds for a single process instance
// regardless of how many goroutines call Filter concurrently.
type Store interface {
	// SeenOrMark returns true if key was already present (a duplicate) and,
	// if not, records it with the given TTL in the same atomic step.
	SeenOrMark(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Deduplicator filters findings against a Store using one fixed Strategy.
type Deduplicator struct {
	store    Store
	strategy Strategy
	window   time.Duration

	hits atomic.Int64 // findings suppressed as duplicates; read concurrently by the health probe
}

// New builds a Deduplicator. window is only consulted by StrategyTimeWindow
// (for bucketing) and as the TTL for all three strategies' Store entries.
func New(store Store, strategy Strategy, window time.Duration) *Deduplicator {
	if window <= 0 {
		window = time.Hour
	}
	return &Deduplicator{store: store, strategy: strategy, window: window}
}

// Filter returns the subset of findings not previously observed within the
// active window, recording newly-seen keys as it goes. Order is preserved
// for the survivors.
func (d *Deduplicator) Filter(ctx context.Context, findings []*engine.Finding) ([]*engine.Finding, error) {
	kept := make([]*engine.Finding, 0, len(findings))
	for _, f := range findings {
		key, err := d.key(f)
		if err != nil {
			return nil, fmt.Errorf("compute dedup key: %w", err)
		}

		duplicate, err := d.store.SeenOrMark(ctx, key, d.window)
		if err != nil {
			return nil, fmt.Errorf("dedup store: %w", err)
		}
		if duplicate {
			d.hits.Add(1)
			continue
		}
		kept = append(kept, f)
	}
	return kept, nil
}

// Hits returns the running count of suppressed duplicates, exposed through
// the controller's aggregate metrics (informational only, per the health
// model: dedup hit rate never by itself marks the pipeline degraded).
func (d *Deduplicator) Hits() int64 { return d.hits.Load() }

func (d *Deduplicator) key(f *engine.Finding) (string, error) {
	switch d.strategy {
	case StrategyByID:
		return f.ID, nil
	case StrategyContentHash:
		canon, err := f.Canonicalize()
		if err != nil {
			return "", err
		}
		sum := sha256.Sum256(canon)
		return hex.EncodeToString(sum[:]), nil
	case StrategyTimeWindow:
		bucket, err := timeBucket(f.UpdatedAt, d.window)
		if err != nil {
			return "", err
		}
		return f.ID + "|" + bucket, nil
	default:
		return "", fmt.Errorf("unknown dedup strategy %q", d.strategy)
	}
}

// timeBucket floors an ISO-8601 timestamp to the given window and returns it
// as a stable string key component.
func timeBucket(updatedAt string, window time.Duration) (string, error) {
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		ts, err = time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return "", fmt.Errorf("parse updatedAt %q: %w", updatedAt, err)
		}
	}
	bucket := ts.Unix() / int64(window.Seconds())
	return strconv.FormatInt(bucket, 10), nil
}
