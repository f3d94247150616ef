package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores values in Redis so several runs or hosts can share results.
type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration // 0 = no expiry
	metrics Metrics
}

// NewRedis connects to the Redis server at url.
// Returns error if connection fails.
func NewRedis(url, prefix string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	if prefix == "" {
		prefix = "tns:result:"
	}

	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// SetMetrics sets the metrics recorder for this cache.
func (r *Redis) SetMetrics(metrics Metrics) {
	r.metrics = metrics
}

// Get fetches the value stored under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		if r.metrics != nil {
			r.metrics.RecordCacheMiss(TypeRedis)
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting cached result: %w", err)
	}

	if r.metrics != nil {
		r.metrics.RecordCacheHit(TypeRedis)
	}
	return value, true, nil
}

// Set stores value under key with the configured TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("caching result: %w", err)
	}
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("deleting cached result: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
