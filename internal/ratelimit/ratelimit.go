// Package ratelimit counts requests per key in fixed windows.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call. RetryAfter is only set when
// the request was rejected.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// Counter is a fixed-window request counter. Implementations may be local to
// one process; they are a deterrent, not a correctness guarantee.
type Counter interface {
	Allow(ctx context.Context, key string, window time.Duration, limit int) (Decision, error)
}

type windowData struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

// FixedWindowCounter keeps windows in process memory.
type FixedWindowCounter struct {
	now      func() time.Time
	requests map[string]*windowData
	mutex    sync.Mutex
	lastGC   time.Time
}

type Option func(*FixedWindowCounter)

func WithClock(now func() time.Time) Option {
	return func(c *FixedWindowCounter) { c.now = now }
}

func NewMemoryCounter(opts ...Option) *FixedWindowCounter {
	c := &FixedWindowCounter{
		now:      time.Now,
		requests: make(map[string]*windowData),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *FixedWindowCounter) Allow(_ context.Context, key string, window time.Duration, limit int) (Decision, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	c.collect(now, window)
	wd := c.requests[key]

	// no data or the previous window has passed
	if wd == nil || now.Sub(wd.windowStart) >= window {
		if limit <= 0 {
			return Decision{RetryAfter: window}, nil
		}

		wd = &windowData{
			count:       1,
			windowStart: now,
			window:      window,
		}
		c.requests[key] = wd

		return Decision{Allowed: true, Remaining: limit - 1}, nil
	}

	if wd.count >= limit {
		return Decision{RetryAfter: wd.windowStart.Add(window).Sub(now)}, nil
	}
	wd.count++

	return Decision{Allowed: true, Remaining: limit - wd.count}, nil
}

// collect drops finished windows at most once per window length.
func (c *FixedWindowCounter) collect(now time.Time, window time.Duration) {
	if now.Sub(c.lastGC) < window {
		return
	}
	c.lastGC = now
	for key, wd := range c.requests {
		if now.Sub(wd.windowStart) >= wd.window {
			delete(c.requests, key)
		}
	}
}

// Len reports how many keys currently hold a window.
func (c *FixedWindowCounter) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.requests)
}
