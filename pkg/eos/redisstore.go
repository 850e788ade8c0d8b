package eos

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisScanCount = 256

// RedisStore is a Store kept in Redis, for a cache shared by several processes.
// Supply it through CachingOptions.Store with FactoryScopedCache.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix sets the key prefix; Clear only deletes keys under it.
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(rs *RedisStore) { rs.prefix = strings.Trim(prefix, ":") }
}

// NewRedisStore creates a store on rdb.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {

	rs := &RedisStore{
		rdb:    rdb,
		prefix: "eos:cache",
	}

	for _, opt := range opts {
		opt(rs)
	}

	return rs
}

// Name returns the key prefix.
func (rs *RedisStore) Name() string {
	return rs.prefix
}

// Get returns the value under key.
func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {

	value, err := rs.rdb.Get(ctx, rs.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return value, true, nil
}

// Set stores value under key.
func (rs *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {

	if ttl < 0 {
		ttl = 0
	}

	return rs.rdb.Set(ctx, rs.key(key), value, ttl).Err()
}

// Touch re-arms the ttl of key.
func (rs *RedisStore) Touch(ctx context.Context, key string, ttl time.Duration) error {

	if ttl <= 0 {
		return rs.rdb.Persist(ctx, rs.key(key)).Err()
	}

	return rs.rdb.PExpire(ctx, rs.key(key), ttl).Err()
}

// Remove deletes key.
func (rs *RedisStore) Remove(ctx context.Context, key string) error {
	return rs.rdb.Del(ctx, rs.key(key)).Err()
}

// Clear deletes every key under the prefix.
func (rs *RedisStore) Clear(ctx context.Context) error {

	var cursor uint64
	for {
		keys, next, err := rs.rdb.Scan(ctx, cursor, rs.prefix+":*", redisScanCount).Result()
		if err != nil {
			return err
		}

		if len(keys) > 0 {
			if err := rs.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}

		if next == 0 {
			return nil
		}

		cursor = next
	}
}

func (rs *RedisStore) key(key string) string {
	return rs.prefix + ":" + key
}
