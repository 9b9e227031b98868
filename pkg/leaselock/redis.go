package leaselock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lock:"

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisBackend keeps locks as expiring string keys holding the token.
type RedisBackend struct {
	rdb redis.UniversalClient
}

func NewRedisBackend(rdb redis.UniversalClient) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func (b *RedisBackend) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	k := redisKeyPrefix + key
	ok, err := b.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil || ok {
		return ok, err
	}
	// Re-entrant for the same token.
	return b.Renew(ctx, key, token, ttl)
}

func (b *RedisBackend) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, b.rdb, []string{redisKeyPrefix + key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *RedisBackend) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, b.rdb, []string{redisKeyPrefix + key}, token).Err()
}
