// Package cache stores encoded sampling results by key.
package cache

import (
	"context"
	"fmt"

	"github.com/sptensor/tnsample/internal/config"
)

// Cache types.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeNone   = "none"
)

// Cache is a byte-oriented key/value store. A miss is (nil, false, nil);
// an error means the backend itself failed.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Metrics is the interface for recording cache metrics.
// This allows the cache to be decoupled from the metrics package.
type Metrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	UpdateCacheSize(cacheType string, size int)
}

// New creates the cache selected by cfg. metrics may be nil.
func New(cfg config.CacheConfig, metrics Metrics) (Cache, error) {
	switch cfg.Type {
	case TypeMemory:
		c := NewMemory(cfg.Size)
		c.SetMetrics(metrics)
		return c, nil
	case TypeRedis:
		c, err := NewRedis(cfg.RedisURL, cfg.Prefix, cfg.CacheTTL())
		if err != nil {
			return nil, err
		}
		c.SetMetrics(metrics)
		return c, nil
	case TypeNone, "":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// None never stores anything.
type None struct{}

// Get always misses.
func (None) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set discards value.
func (None) Set(context.Context, string, []byte) error { return nil }

// Close is a no-op.
func (None) Close() error { return nil }
