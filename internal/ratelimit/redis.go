package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter shares windows between instances. The window starts at the
// first INCR of a key and ends when the key expires.
type RedisCounter struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCounter(client redis.Cmdable, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

// NewRedisCounterFromURL parses a redis:// URL and pings the server.
func NewRedisCounterFromURL(ctx context.Context, url string) (*RedisCounter, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCounter(client, ""), client, nil
}

func (c *RedisCounter) Allow(ctx context.Context, key string, window time.Duration, limit int) (Decision, error) {
	k := c.prefix + key

	count, err := c.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("incr %s: %w", k, err)
	}
	if count == 1 {
		if err := c.client.PExpire(ctx, k, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("pexpire %s: %w", k, err)
		}
	}

	if int(count) <= limit {
		return Decision{Allowed: true, Remaining: limit - int(count)}, nil
	}

	ttl, err := c.client.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("pttl %s: %w", k, err)
	}
	if ttl < 0 {
		// key lost its expiry; restart the window
		if err := c.client.PExpire(ctx, k, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("pexpire %s: %w", k, err)
		}
		ttl = window
	}
	return Decision{RetryAfter: ttl}, nil
}
