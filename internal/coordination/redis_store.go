package coordination

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareAndExtendScript extends key's TTL only when its value still
// matches ARGV[1]; plain Redis has no native compare-and-extend, so this
// is the standard go-redis idiom: a small Lua script run atomically via
// EVAL.
const compareAndExtendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// compareAndDeleteScript deletes key only when its value still matches
// ARGV[1], the same compare-and-delete idiom used to safely release a
// lease without clobbering a different candidate that has since won it.
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisStore implements Store against a real Redis server.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client. The caller owns its lifecycle.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) CompareAndExtend(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := s.rdb.Eval(ctx, compareAndExtendScript, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	res, err := s.rdb.Eval(ctx, compareAndDeleteScript, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
