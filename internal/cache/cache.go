// Package cache defines the blob byte-cache contract sitting in front of
// the Store reads, and two implementations: a Redis-backed one for
// production and a bounded in-memory LRU for tests and Redis-free runs.
// Correctness never depends on the cache; every method is best-effort.
package cache

import (
	"context"
	"time"
)

// Cache is the external key-value cache keyed by photo_id.
type Cache interface {
	// Get returns the cached bytes and true on a hit, or (nil, false) on a
	// miss or any cache-layer error.
	Get(ctx context.Context, photoID uint64) ([]byte, bool)
	// Put populates the cache. Failures are swallowed by implementations;
	// callers never need to handle an error from Put.
	Put(ctx context.Context, photoID uint64, data []byte, ttl time.Duration)
	// Invalidate removes an entry. Called by the Store on delete and by the
	// Replication Manager when a replica holding the eviction target is
	// removed.
	Invalidate(ctx context.Context, photoID uint64)
}
