// Package cache is the best-effort result cache consulted before provider calls.
package cache

import (
	"context"
	"time"
)

// Store is a byte store with per-key TTLs.
// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// DeletePattern removes every key matching a glob and returns how many were removed
	DeletePattern(ctx context.Context, pattern string) (int, error)

	Ping(ctx context.Context) error

	// Name identifies the backend in logs and health output
	Name() string
}
