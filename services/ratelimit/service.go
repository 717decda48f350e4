package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces counter keys
const DefaultKeyPrefix = "ratelimit:"

// Result represents the result of a rate limit check
type Result struct {
	Allowed         bool
	Limit           int
	Remaining       int
	ResetAt         time.Time
	RetryAfter      time.Duration
	ViolatedWindow  Window
	ViolationReason string
}

// Observer is notified about rejected requests
type Observer interface {
	ObserveRejection(window string)
}

// RateLimitService enforces fixed-window limits over a Counter
type RateLimitService struct {
	counter  Counter
	prefix   string
	observer Observer
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a RateLimitService
type Option func(*RateLimitService)

// WithKeyPrefix overrides DefaultKeyPrefix
func WithKeyPrefix(prefix string) Option {
	return func(s *RateLimitService) {
		s.prefix = prefix
	}
}

// WithObserver sets the rejection observer
func WithObserver(o Observer) Option {
	return func(s *RateLimitService) {
		s.observer = o
	}
}

// NewRateLimitService creates a new RateLimitService instance
func NewRateLimitService(counter Counter, logger *zap.Logger, opts ...Option) *RateLimitService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RateLimitService{
		counter: counter,
		prefix:  DefaultKeyPrefix,
		now:     time.Now,
		logger:  logger.Named("ratelimit"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the counter backend name
func (s *RateLimitService) Backend() string {
	return s.counter.Name()
}

// Check counts one request for scope against every limit. Limits are evaluated in
// order and the first violated one rejects the request. Counter failures are logged
// and the request is allowed.
func (s *RateLimitService) Check(ctx context.Context, scope string, limits []Limit) Result {
	result := Result{Allowed: true}
	if len(limits) == 0 {
		return result
	}

	now := s.now()
	first := true
	for _, limit := range limits {
		window := limit.Window.Duration()
		if window <= 0 || limit.Count <= 0 {
			continue
		}

		resetAt := windowEnd(now, window)
		key := s.buildKey(scope, limit, now)

		count, err := s.counter.Incr(ctx, key, window)
		if err != nil {
			s.logger.Warn("rate limit backend failed, allowing request",
				zap.String("backend", s.counter.Name()),
				zap.String("scope", scope),
				zap.Error(err))
			return Result{Allowed: true}
		}

		remaining := limit.Count - int(count)
		if remaining < 0 {
			retryAfter := resetAt.Sub(now)
			if retryAfter < time.Second {
				retryAfter = time.Second
			}
			if s.observer != nil {
				s.observer.ObserveRejection(string(limit.Window))
			}
			s.logger.Info("rate limit exceeded",
				zap.String("scope", scope),
				zap.String("limit", limit.String()))
			return Result{
				Allowed:         false,
				Limit:           limit.Count,
				Remaining:       0,
				ResetAt:         resetAt,
				RetryAfter:      retryAfter,
				ViolatedWindow:  limit.Window,
				ViolationReason: fmt.Sprintf("exceeded %s", limit),
			}
		}

		// report the tightest window
		if first || remaining < result.Remaining {
			result.Limit = limit.Count
			result.Remaining = remaining
			result.ResetAt = resetAt
			first = false
		}
	}
	return result
}

// StartCleanupWorker periodically drops expired in-memory counters.
// It is a no-op for counters that expire on their own.
func (s *RateLimitService) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	mem, ok := s.counter.(*MemoryCounter)
	if !ok {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if n := mem.Cleanup(); n > 0 {
				s.logger.Debug("cleaned up rate limit counters", zap.Int("removed", n))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}

// buildKey builds the counter key of the window bucket containing now
func (s *RateLimitService) buildKey(scope string, limit Limit, now time.Time) string {
	bucket := now.UnixNano() / int64(limit.Window.Duration())
	return fmt.Sprintf("%s%s:%d:%s:%d", s.prefix, scope, limit.Count, limit.Window, bucket)
}

// windowEnd returns when the fixed window containing now closes
func windowEnd(now time.Time, window time.Duration) time.Time {
	bucket := now.UnixNano() / int64(window)
	return time.Unix(0, (bucket+1)*int64(window)).In(now.Location())
}
