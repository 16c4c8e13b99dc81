package dedup

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUStore is the default, process-local Store. It is lost on restart by
// design: persisting dedup state across restarts requires opting into the
// redis-backed Store, per the open question on duplication after a restart.
type LRUStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
}

// NewLRUStore builds a bounded LRU of the given capacity. On capacity
// breach, the least recently referenced entry is evicted.
func NewLRUStore(capacity int) (*LRUStore, error) {
	if capacity <= 0 {
		capacity = 100_000
	}
	cache, err := lru.New[string, time.Time](capacity)
	if err != nil {
		return nil, err
	}
	return &LRUStore{cache: cache}, nil
}

// SeenOrMark is safe under concurrent callers: the lock makes the
// check-then-insert atomic, and expired entries are evicted lazily here
// rather than by a background sweep.
func (s *LRUStore) SeenOrMark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	firstSeen, ok := s.cache.Get(key)
	if ok {
		if time.Since(firstSeen) > ttl {
			// Expired: treat as not a duplicate, refresh the entry.
			s.cache.Add(key, time.Now())
			return false, nil
		}
		return true, nil
	}

	s.cache.Add(key, time.Now())
	return false, nil
}

// Len reports the current number of tracked entries, for health/metrics.
func (s *LRUStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
