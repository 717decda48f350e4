package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter increments fixed-window counters. Keys already identify the window bucket.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Name() string
}

// RedisCounter counts with INCR and EXPIRE in a single pipeline
type RedisCounter struct {
	client redis.UniversalClient
}

// NewRedisCounter creates a Redis-backed counter
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{client: client}
}

// Name implements Counter
func (c *RedisCounter) Name() string {
	return "redis"
}

// Incr implements Counter
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

type memoryCount struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter keeps counters in process. Used when Redis is unavailable.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]*memoryCount
	now    func() time.Time
}

// NewMemoryCounter creates an in-memory counter
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts: make(map[string]*memoryCount),
		now:    time.Now,
	}
}

// Name implements Counter
func (c *MemoryCounter) Name() string {
	return "memory"
}

// Incr implements Counter
func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.counts[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &memoryCount{expiresAt: now.Add(window)}
		c.counts[key] = entry
	}
	entry.count++
	return entry.count, nil
}

// Cleanup drops expired counters and returns how many were removed
func (c *MemoryCounter) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.counts {
		if now.After(entry.expiresAt) {
			delete(c.counts, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live counters
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}
