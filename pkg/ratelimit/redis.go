package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisLimiter counts events in fixed windows keyed by window index, so
// every instance sharing the Redis sees the same budget. Fixed windows
// admit brief bursts at window edges, which is acceptable for the
// throttles this service applies.
type redisLimiter struct {
	client   *redis.Client
	requests int
	window   time.Duration
}

func newRedisLimiter(cfg *Config) (*redisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: redis ping %s: %w", cfg.RedisAddr, err)
	}

	return &redisLimiter{client: client, requests: cfg.Requests, window: cfg.Window}, nil
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().UnixNano()/int64(l.window))

	count, err := l.client.Incr(ctx, bucket).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		// First event in this window owns setting the expiry.
		if err := l.client.Expire(ctx, bucket, l.window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(l.requests), nil
}

func (l *redisLimiter) Close() error {
	return l.client.Close()
}

var _ Limiter = (*redisLimiter)(nil)
