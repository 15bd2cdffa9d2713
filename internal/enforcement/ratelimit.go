package enforcement

import (
	"context"
	"sync"
	"time"
)

// RateLimitWindow is the sliding window over which per-client request
// counts are evaluated.
const RateLimitWindow = time.Minute

// RateLimitStore tracks request timestamps per (client, path) key inside a
// sliding window. Allow reports whether the request is under the limit; a
// rejected request is not recorded.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (bool, error)
}

// MemoryRateLimitStore is the in-process RateLimitStore. Entries older than
// the window are pruned lazily on every access, so memory stays bounded by
// the window duration times the traffic rate.
type MemoryRateLimitStore struct {
	window time.Duration
	mu     sync.Mutex
	hits   map[string][]time.Time
}

// NewMemoryRateLimitStore creates an in-memory sliding-window store.
func NewMemoryRateLimitStore(window time.Duration) *MemoryRateLimitStore {
	if window <= 0 {
		window = RateLimitWindow
	}
	return &MemoryRateLimitStore{
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// Allow implements RateLimitStore.
func (s *MemoryRateLimitStore) Allow(_ context.Context, key string, limit int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.window)
	kept := s.hits[key][:0]
	for _, ts := range s.hits[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		s.hits[key] = kept
		return false, nil
	}

	s.hits[key] = append(kept, now)
	return true, nil
}

// Size returns the number of tracked keys, pruning empty ones.
func (s *MemoryRateLimitStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, hits := range s.hits {
		if len(hits) == 0 {
			delete(s.hits, key)
		}
	}
	return len(s.hits)
}
