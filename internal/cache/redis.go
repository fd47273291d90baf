package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/metrics"
)

// RedisCache stores blob bytes under the cache/<photo_id> key space. It is
// the default external LRU cache: Redis is run externally with
// maxmemory-policy allkeys-lru, which is what actually bounds and evicts
// the cache — this type only knows how to get/set/invalidate individual
// keys.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache wraps an existing client. The caller owns the client's
// lifecycle (construction and Close).
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func cacheKey(photoID uint64) string {
	return fmt.Sprintf("cache/%d", photoID)
}

func (c *RedisCache) Get(ctx context.Context, photoID uint64) ([]byte, bool) {
	data, err := c.rdb.Get(ctx, cacheKey(photoID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.WithComponent("cache").Debug().Err(err).Uint64("photo_id", photoID).Msg("cache get failed")
			metrics.CacheHits.WithLabelValues("error").Inc()
		} else {
			metrics.CacheHits.WithLabelValues("miss").Inc()
		}
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("hit").Inc()
	return data, true
}

func (c *RedisCache) Put(ctx context.Context, photoID uint64, data []byte, ttl time.Duration) {
	if err := c.rdb.Set(ctx, cacheKey(photoID), data, ttl).Err(); err != nil {
		// Cache failures are never fatal to the write path.
		log.WithComponent("cache").Debug().Err(err).Uint64("photo_id", photoID).Msg("cache put failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, photoID uint64) {
	if err := c.rdb.Del(ctx, cacheKey(photoID)).Err(); err != nil {
		log.WithComponent("cache").Debug().Err(err).Uint64("photo_id", photoID).Msg("cache invalidate failed")
	}
}
