package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
)

func findingWithRaw(id, updatedAt string) *engine.Finding {
	raw := []byte(fmt.Sprintf(`{"id":%q,"updatedAt":%q}`, id, updatedAt))
	f := &engine.Finding{ID: id, UpdatedAt: updatedAt, Raw: raw}
	return f
}

func TestFilterByIDSuppressesDuplicatesAcrossCalls(t *testing.T) {
	store, err := NewLRUStore(100)
	require.NoError(t, err)
	d := New(store, StrategyByID, time.Hour)

	ctx := context.Background()
	objectA, err := d.Filter(ctx, []*engine.Finding{findingWithRaw("ab-1", "2024-01-01T00:00:00Z")})
	require.NoError(t, err)
	require.Len(t, objectA, 1)

	objectB, err := d.Filter(ctx, []*engine.Finding{
		findingWithRaw("ab-1", "2024-01-01T00:00:00Z"),
		findingWithRaw("ab-1", "2024-01-01T00:00:00Z"),
	})
	require.NoError(t, err)
	require.Len(t, objectB, 0)
	require.Equal(t, int64(2), d.Hits())
}

func TestFilterIdempotentWithinWindow(t *testing.T) {
	store, err := NewLRUStore(100)
	require.NoError(t, err)
	d := New(store, StrategyByID, time.Hour)

	ctx := context.Background()
	findings := []*engine.Finding{findingWithRaw("ab-1", "2024-01-01T00:00:00Z"), findingWithRaw("ab-2", "2024-01-01T00:00:00Z")}

	once, err := d.Filter(ctx, findings)
	require.NoError(t, err)
	require.Len(t, once, 2)

	twice, err := d.Filter(ctx, once)
	require.NoError(t, err)
	require.Len(t, twice, 0, "filter(filter(I)) must equal filter(I) within the window")
}

func TestFilterContentHashStrategyDistinguishesByBody(t *testing.T) {
	store, err := NewLRUStore(100)
	require.NoError(t, err)
	d := New(store, StrategyContentHash, time.Hour)

	ctx := context.Background()
	a := findingWithRaw("ab-1", "2024-01-01T00:00:00Z")
	b := findingWithRaw("ab-1", "2024-01-02T00:00:00Z") // same id, different body

	kept, err := d.Filter(ctx, []*engine.Finding{a, b})
	require.NoError(t, err)
	require.Len(t, kept, 2, "distinct content hashes must not collide")
}

func TestFilterTimeWindowStrategyBucketsByUpdatedAt(t *testing.T) {
	store, err := NewLRUStore(100)
	require.NoError(t, err)
	d := New(store, StrategyTimeWindow, time.Minute)

	ctx := context.Background()
	same := findingWithRaw("ab-1", "2024-01-01T00:00:10Z")
	sameBucket := findingWithRaw("ab-1", "2024-01-01T00:00:20Z")
	nextBucket := findingWithRaw("ab-1", "2024-01-01T00:01:05Z")

	kept, err := d.Filter(ctx, []*engine.Finding{same, sameBucket, nextBucket})
	require.NoError(t, err)
	require.Len(t, kept, 2, "same-bucket recurrence suppressed, new bucket allowed")
}

func TestFilterConcurrentCallsNeverEmitSameKeyTwice(t *testing.T) {
	store, err := NewLRUStore(1000)
	require.NoError(t, err)
	d := New(store, StrategyByID, time.Hour)

	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]int{}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kept, err := d.Filter(ctx, []*engine.Finding{findingWithRaw("shared-id", "2024-01-01T00:00:00Z")})
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, f := range kept {
				seen[f.ID]++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, seen["shared-id"], "exactly one caller should have won the race")
}

func TestRedisStoreSeenOrMark(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "test:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	dup, err := store.SeenOrMark(ctx, "k1", time.Hour)
	require.NoError(t, err)
	require.False(t, dup)

	dup, err = store.SeenOrMark(ctx, "k1", time.Hour)
	require.NoError(t, err)
	require.True(t, dup)
}
