package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisKeyPrefix = "keeper:cache:"

// RedisCache implements Cache using Redis. Each entry is stored as a JSON
// envelope carrying the payload and its write time, with the Redis TTL set
// to the maximum entry age; freshness against a caller's maxAge is decided
// client-side from the stored write time so Get and GetStale behave exactly
// like the memory cache.
type RedisCache struct {
	client      *redis.Client
	maxEntryAge time.Duration
	now         func() time.Time
}

type redisEnvelope struct {
	Payload  []byte `json:"payload"`
	StoredAt int64  `json:"stored_at_ms"`
}

// NewRedisCache creates a Redis-backed cache on an established client
func NewRedisCache(client *redis.Client, maxEntryAge time.Duration) *RedisCache {
	return &RedisCache{
		client:      client,
		maxEntryAge: maxEntryAge,
		now:         time.Now,
	}
}

// Set stores a value with the current write time
func (r *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	envelope := redisEnvelope{
		Payload:  value,
		StoredAt: r.now().UnixMilli(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := r.client.Set(ctx, redisKeyPrefix+key, data, r.maxEntryAge).Err(); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// Get returns the value if written within maxAge
func (r *RedisCache) Get(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool) {
	return r.getWithin(ctx, key, maxAge)
}

// GetStale returns the value if written within maxStale
func (r *RedisCache) GetStale(ctx context.Context, key string, maxStale time.Duration) ([]byte, bool) {
	return r.getWithin(ctx, key, maxStale)
}

func (r *RedisCache) getWithin(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logrus.WithError(err).Warnf("Redis cache read failed for %s", key)
		}
		return nil, false
	}

	var envelope redisEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		logrus.WithError(err).Warnf("Corrupt cache entry for %s, removing", key)
		r.client.Del(ctx, redisKeyPrefix+key)
		return nil, false
	}

	writtenAt := time.UnixMilli(envelope.StoredAt)
	if r.now().Sub(writtenAt) > maxAge {
		return nil, false
	}

	return envelope.Payload, true
}

// Remove deletes a single entry
func (r *RedisCache) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}

// Clear deletes all entries under the cache prefix
func (r *RedisCache) Clear(ctx context.Context) error {
	keys, err := r.client.Keys(ctx, redisKeyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("failed to list cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// IsConnected returns true if Redis answers a ping
func (r *RedisCache) IsConnected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	err := r.client.Ping(ctx).Err()
	return err == nil
}
