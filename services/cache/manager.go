package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/upb/biped-api/services"
)

const (
	// DefaultPrefix namespaces every key the manager writes
	DefaultPrefix = "biped:"

	// DefaultTTL applies when Set is called without a TTL
	DefaultTTL = time.Hour
)

// Observer receives hit/miss/error outcomes, typically for metrics
type Observer interface {
	ObserveCache(result string)
}

// Stats reports manager counters
type Stats struct {
	Backend string  `json:"backend"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Errors  uint64  `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// Manager adds key prefixing, JSON encoding and default TTLs on top of a Store.
// Store failures are logged and swallowed: a broken cache degrades to misses.
type Manager struct {
	store    Store
	prefix   string
	ttl      time.Duration
	observer Observer
	logger   *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithPrefix sets the key prefix
func WithPrefix(prefix string) ManagerOption {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// WithDefaultTTL sets the TTL used when callers pass zero
func WithDefaultTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithObserver sets the outcome observer
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		m.observer = o
	}
}

// NewManager creates a cache manager over store
func NewManager(store Store, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:  store,
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
		logger: logger.Named("cache"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the backing store
func (m *Manager) Store() Store {
	return m.store
}

// Get decodes the cached value for key into dest and reports whether it was found
func (m *Manager) Get(ctx context.Context, key string, dest interface{}) bool {
	raw, ok, err := m.store.Get(ctx, m.prefix+key)
	if err != nil {
		m.fail("cache get failed", key, err)
		return false
	}
	if !ok {
		m.misses.Add(1)
		m.observe("miss")
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		m.fail("cache entry undecodable", key, err)
		return false
	}

	m.hits.Add(1)
	m.observe("hit")
	return true
}

// Set encodes value and stores it. A zero ttl uses the default.
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = m.ttl
	}
	raw, err := json.Marshal(value)
	if err != nil {
		m.fail("cache value unencodable", key, err)
		return false
	}
	if err := m.store.Set(ctx, m.prefix+key, raw, ttl); err != nil {
		m.fail("cache set failed", key, err)
		return false
	}
	return true
}

// Delete removes one key
func (m *Manager) Delete(ctx context.Context, key string) bool {
	if err := m.store.Delete(ctx, m.prefix+key); err != nil {
		m.fail("cache delete failed", key, err)
		return false
	}
	return true
}

// InvalidatePattern removes every key matching a glob relative to the prefix.
// Unlike reads and writes, a store failure is reported to the caller.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	n, err := m.store.DeletePattern(ctx, m.prefix+pattern)
	if err != nil {
		m.fail("cache invalidate failed", pattern, err)
		return n, services.ErrCacheFailed.Wrap(err).WithDetail("pattern", pattern)
	}
	m.logger.Info("cache invalidated", zap.String("pattern", pattern), zap.Int("removed", n))
	return n, nil
}

// Clear removes every key under the prefix
func (m *Manager) Clear(ctx context.Context) (int, error) {
	return m.InvalidatePattern(ctx, "*")
}

// Ping checks the backing store
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// Stats returns the manager counters
func (m *Manager) Stats() Stats {
	hits, misses := m.hits.Load(), m.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Backend: m.store.Name(),
		Hits:    hits,
		Misses:  misses,
		Errors:  m.errors.Load(),
		HitRate: rate,
	}
}

func (m *Manager) fail(msg, key string, err error) {
	m.errors.Add(1)
	m.observe("error")
	m.logger.Warn(msg, zap.String("key", key), zap.String("backend", m.store.Name()), zap.Error(err))
}

func (m *Manager) observe(result string) {
	if m.observer != nil {
		m.observer.ObserveCache(result)
	}
}

// Remember returns the cached value for key or computes, caches and returns it.
// Errors from fn are returned and never cached.
func Remember[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var cached T
	if m.Get(ctx, key, &cached) {
		return cached, nil
	}

	value, err := fn(ctx)
	if err != nil {
		return value, err
	}
	m.Set(ctx, key, value, ttl)
	return value, nil
}
