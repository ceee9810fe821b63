package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements fixed-window rate limiting on Redis counter
// buckets, shared across gateway instances.
//
// Each window maps to the key rl:{clientKey}:{windowId} where
// windowId = floor(now / window). The increment, expiry, and TTL read
// happen in a single pipelined round trip.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(redisURL string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisLimiter{client: client}, nil
}

// NewRedisLimiterWithClient wraps an existing client, sharing its
// connection pool.
func NewRedisLimiterWithClient(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Check(ctx context.Context, clientKey string, max int, window time.Duration) (Result, error) {
	now := time.Now()
	windowID := now.UnixMilli() / window.Milliseconds()
	key := fmt.Sprintf("rl:%s:%d", clientKey, windowID)
	bucketEnd := time.UnixMilli((windowID + 1) * window.Milliseconds())

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	// The bucket's lifetime is fixed at its window boundary, so re-setting
	// the expiry on every hit is idempotent.
	pipe.PExpire(ctx, key, bucketEnd.Sub(now))
	ttl := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count := int(incr.Val())
	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}

	if count > max {
		retryAfter := ttl.Val()
		if retryAfter <= 0 {
			retryAfter = bucketEnd.Sub(now)
		}
		return Result{Allowed: false, Remaining: remaining, RetryAfter: retryAfter}, nil
	}

	return Result{Allowed: true, Remaining: remaining}, nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
