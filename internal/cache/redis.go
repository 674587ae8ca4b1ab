package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	// RecordPrefix is the prefix for cached record keys
	RecordPrefix = "short:record:"
	// MaxTTL is the default cap on how long a record stays cached regardless of its expiry
	MaxTTL = time.Hour
)

// RedisCache caches live URL records as JSON
type RedisCache struct {
	client *redis.Client
	maxTTL time.Duration
}

// NewRedisCache connects to redis and verifies the connection.
// maxTTL caps entry lifetimes; zero means MaxTTL.
func NewRedisCache(addr, password string, db, poolSize int, maxTTL time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheFromClient(client, maxTTL), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, maxTTL time.Duration) *RedisCache {
	if maxTTL <= 0 {
		maxTTL = MaxTTL
	}
	return &RedisCache{client: client, maxTTL: maxTTL}
}

// Get returns the cached record or nil on a miss
func (r *RedisCache) Get(ctx context.Context, shortCode string) (*model.URLRecord, error) {
	val, err := r.client.Get(ctx, RecordPrefix+shortCode).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from Redis: %w", err)
	}

	var rec model.URLRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode cached record %s: %w", shortCode, err)
	}
	return &rec, nil
}

// Set caches rec for ttl, capped at the cache's max TTL. A non-positive ttl deletes the key.
func (r *RedisCache) Set(ctx context.Context, rec *model.URLRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return r.Delete(ctx, rec.ShortCode)
	}
	if ttl > r.maxTTL {
		ttl = r.maxTTL
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ShortCode, err)
	}
	if err := r.client.Set(ctx, RecordPrefix+rec.ShortCode, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in Redis: %w", err)
	}
	return nil
}

// Delete removes a short code from cache
func (r *RedisCache) Delete(ctx context.Context, shortCode string) error {
	if err := r.client.Del(ctx, RecordPrefix+shortCode).Err(); err != nil {
		return fmt.Errorf("failed to delete from Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client, shared with the rate limiter
func (r *RedisCache) Client() *redis.Client {
	return r.client
}
