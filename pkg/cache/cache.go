// Package cache is the lookaside store behind the fleet name resolver:
// small string-keyed values with a TTL, held in process memory or in
// Redis when several patrol services share one robot fleet.
package cache

import (
	"context"
	"errors"
	"time"

	"biopatrol/pkg/config"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ErrKeyNotFound is returned when a requested key does not exist or has
// expired.
var ErrKeyNotFound = errors.New("key not found")

// Cache stores values under string keys with a per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and sizes a backend.
type Options struct {
	Backend    string
	DefaultTTL time.Duration

	// Memory backend
	MaxEntries int

	// Redis backend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// FromConfig maps the cache section of the service config onto Options.
func FromConfig(cfg *config.CacheConfig) *Options {
	return &Options{
		Backend:       cfg.Driver,
		DefaultTTL:    cfg.DefaultTTL,
		MaxEntries:    cfg.MaxEntries,
		RedisAddr:     cfg.Address(),
		RedisPassword: cfg.Password,
		RedisDB:       cfg.DB,
	}
}

// New builds a Cache for the configured backend. An unknown or empty
// backend falls back to memory.
func New(opts *Options) (Cache, error) {
	if opts == nil {
		opts = &Options{Backend: BackendMemory, DefaultTTL: 5 * time.Minute}
	}
	switch opts.Backend {
	case BackendRedis:
		return newRedisCache(opts)
	default:
		return newMemoryCache(opts), nil
	}
}
