package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache backed by redis string keys with EX expiry.
type RedisCache struct {
	rdb redis.UniversalClient
}

// NewRedisCacheParams configures a redis connection.
type NewRedisCacheParams struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to redis and checks the connection with PING.
func NewRedisCache(ctx context.Context, params NewRedisCacheParams) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     params.Addr,
		Password: params.Password,
		DB:       params.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", params.Addr, err)
	}
	return &RedisCache{rdb: rdb}, nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(rdb redis.UniversalClient) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// Client exposes the underlying client so other components can share the
// connection pool.
func (r *RedisCache) Client() redis.UniversalClient {
	return r.rdb
}

func (r *RedisCache) get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return v, err
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.rdb.Close()
}
