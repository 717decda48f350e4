package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/biped-api/config"
	"github.com/upb/biped-api/handlers"
	"github.com/upb/biped-api/internal/observability"
	"github.com/upb/biped-api/middleware"
	"github.com/upb/biped-api/repositories"
	"github.com/upb/biped-api/repositories/postgres"
	"github.com/upb/biped-api/services/breaker"
	"github.com/upb/biped-api/services/cache"
	"github.com/upb/biped-api/services/fallback"
	"github.com/upb/biped-api/services/inference"
	"github.com/upb/biped-api/services/providers"
	"github.com/upb/biped-api/services/providers/anthropic"
	"github.com/upb/biped-api/services/providers/openai"
	"github.com/upb/biped-api/services/ratelimit"
)

const (
	healthCheckTimeout = 5 * time.Second
	cleanupInterval    = time.Minute
	retentionInterval  = time.Hour
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics // nil when metrics are disabled
	Redis   *redis.Client          // nil when Redis is not configured or unreachable

	// Persistence, nil when the database is disabled
	RepoFactory       *postgres.RepositoryFactory
	DB                *postgres.DB
	InferenceRequests repositories.InferenceRequestRepository
	TxManager         repositories.TransactionManager

	// Resilience
	Breakers     *breaker.Set
	Providers    *providers.Registry
	Orchestrator *fallback.Orchestrator

	// Cache and rate limiting
	Cache         *cache.Manager
	RateLimiter   *ratelimit.RateLimitService
	DefaultLimits []ratelimit.Limit
	ChatLimits    []ratelimit.Limit

	// Services
	Inference *inference.Service
	Health    *handlers.HealthChecker

	memoryStore   *cache.MemoryStore
	sentryEnabled bool
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initObservability(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	deps.initBreakers(cfg)

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRedis(ctx, cfg)
	deps.initCache(cfg)

	if err := deps.initRateLimiter(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initInference(cfg)
	deps.initHealthChecks()

	logger.Info("all dependencies initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.Bool("database", deps.DB != nil),
		zap.String("cache_backend", deps.Cache.Store().Name()),
		zap.String("ratelimit_backend", deps.RateLimiter.Backend()),
		zap.Bool("sentry", deps.sentryEnabled))
	return deps, nil
}

// initObservability sets up metrics and error tracking
func (d *Dependencies) initObservability(cfg *config.Config) error {
	if cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NewMetrics()
	}

	enabled, err := observability.InitSentry(observability.SentryOptions{
		DSN:              cfg.Sentry.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Sentry.Release,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
	})
	if err != nil {
		return err
	}
	d.sentryEnabled = enabled
	if enabled {
		d.Logger.Info("sentry error tracking enabled")
	}
	return nil
}

// initBreakers configures one breaker per provider plus the database breaker
func (d *Dependencies) initBreakers(cfg *config.Config) {
	d.Breakers = breaker.NewSet(d.Logger, breaker.DefaultSettings())

	provider := breakerSettings(cfg.Breakers.Provider)
	d.Breakers.Configure(breaker.OpenAI, provider)
	d.Breakers.Configure(breaker.Anthropic, provider)
	d.Breakers.Configure(breaker.Database, breakerSettings(cfg.Breakers.Database))

	if d.Metrics != nil {
		d.Breakers.OnStateChange(d.Metrics.SetBreakerState)
	}
}

func breakerSettings(c config.BreakerConfig) breaker.Settings {
	s := breaker.DefaultSettings()
	if c.FailMax > 0 {
		s.FailMax = uint32(c.FailMax)
	}
	if c.ResetTimeout > 0 {
		s.ResetTimeout = c.ResetTimeout
	}
	return s
}

// initDatabase opens the inference log database when it is configured
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled {
		d.Logger.Warn("database not configured, inference requests will not be persisted")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(ctx, cfg, d.Breakers.Get(breaker.Database), d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	repos := factory.NewRepositories()
	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.InferenceRequests = repos.InferenceRequests
	d.TxManager = factory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
	return nil
}

// initRedis connects to Redis. Failures are not fatal: cache and rate limiting
// fall back to in-process storage.
func (d *Dependencies) initRedis(ctx context.Context, cfg *config.Config) {
	if cfg.Redis.URL == "" {
		d.Logger.Info("redis not configured, using in-memory storage")
		return
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		d.Logger.Warn("invalid redis url, using in-memory storage", zap.Error(err))
		return
	}
	if cfg.Redis.PoolSize > 0 {
		opts.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.DialTimeout > 0 {
		opts.DialTimeout = cfg.Redis.DialTimeout
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		d.Logger.Warn("redis unavailable, using in-memory storage",
			zap.String("addr", opts.Addr),
			zap.Error(err))
		_ = client.Close()
		return
	}

	d.Redis = client
	d.Logger.Info("redis connection established", zap.String("addr", opts.Addr))
}

// initCache builds the result cache over Redis, or memory when Redis is absent
func (d *Dependencies) initCache(cfg *config.Config) {
	var store cache.Store
	if d.Redis != nil {
		store = cache.NewRedisStore(d.Redis)
	} else {
		d.memoryStore = cache.NewMemoryStore(cfg.Cache.MemoryMaxEntries)
		store = d.memoryStore
	}

	opts := []cache.ManagerOption{
		cache.WithPrefix(cfg.Cache.Prefix),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
	}
	if d.Metrics != nil {
		opts = append(opts, cache.WithObserver(d.Metrics))
	}
	d.Cache = cache.NewManager(store, d.Logger, opts...)
}

// initRateLimiter parses the configured limits and picks the counter backend
func (d *Dependencies) initRateLimiter(cfg *config.Config) error {
	if cfg.RateLimit.Enabled {
		var err error
		if d.DefaultLimits, err = ratelimit.ParseLimits(cfg.RateLimit.DefaultLimits); err != nil {
			return fmt.Errorf("default limits: %w", err)
		}
		if d.ChatLimits, err = ratelimit.ParseLimits(cfg.RateLimit.ChatLimits); err != nil {
			return fmt.Errorf("chat limits: %w", err)
		}
	}

	var counter ratelimit.Counter
	switch {
	case cfg.RateLimit.Storage == "redis" && d.Redis != nil:
		counter = ratelimit.NewRedisCounter(d.Redis)
	case cfg.RateLimit.Storage == "redis":
		d.Logger.Warn("rate limit storage is redis but redis is unavailable, counting in memory")
		counter = ratelimit.NewMemoryCounter()
	default:
		counter = ratelimit.NewMemoryCounter()
	}

	opts := []ratelimit.Option{ratelimit.WithKeyPrefix(cfg.RateLimit.KeyPrefix)}
	if d.Metrics != nil {
		opts = append(opts, ratelimit.WithObserver(d.Metrics))
	}
	d.RateLimiter = ratelimit.NewRateLimitService(counter, d.Logger, opts...)
	return nil
}

// initProviders builds the client registry and the default fallback plan
func (d *Dependencies) initProviders(cfg *config.Config) error {
	d.Providers = providers.NewRegistryBuilder(d.Logger).
		WithBuilder(providers.OpenAI, openai.New, providerConfig(cfg.Providers.OpenAI)).
		WithBuilder(providers.Anthropic, anthropic.New, providerConfig(cfg.Providers.Anthropic)).
		WithGuards(func(id providers.ID) providers.Guard {
			return d.Breakers.Get(id.String())
		}).
		Build()

	configured := 0
	for _, id := range d.Providers.Providers() {
		if d.Providers.HasCredential(id) {
			configured++
		} else {
			d.Logger.Warn("provider has no API key and will be skipped",
				zap.String("provider", id.String()),
				zap.String("env", id.CredentialEnv()))
		}
	}
	if configured == 0 {
		d.Logger.Warn("no LLM providers configured")
	}

	plan, err := inference.BuildPlan(cfg.Providers.Primary, cfg.Providers.Fallbacks, fallback.PlanFor(providers.OpenAI))
	if err != nil {
		return fmt.Errorf("invalid fallback plan: %w", err)
	}

	opts := []fallback.Option{
		fallback.WithSequenceTimeout(cfg.Fallback.SequenceTimeout),
		fallback.WithBreakerStates(d.Breakers.States),
	}
	if d.Metrics != nil {
		opts = append(opts, fallback.WithRecorder(d.Metrics))
	}
	d.Orchestrator = fallback.New(d.Providers, plan, d.Logger, opts...)

	d.Logger.Info("fallback plan configured",
		zap.String("primary", plan.Primary.String()),
		zap.Any("fallbacks", plan.Fallbacks))
	return nil
}

func providerConfig(c config.ProviderConfig) providers.ProviderConfig {
	return providers.ProviderConfig{
		APIKey:            c.APIKey,
		BaseURL:           c.BaseURL,
		Model:             c.Model,
		Timeout:           c.Timeout,
		MaxRetries:        c.MaxRetries,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
	}
}

// initInference wires the completion service
func (d *Dependencies) initInference(cfg *config.Config) {
	opts := []inference.Option{inference.WithCache(d.Cache, cfg.Cache.DefaultTTL)}
	if d.InferenceRequests != nil {
		opts = append(opts, inference.WithRepository(d.InferenceRequests, cfg.Cache.UsageTTL))
	}
	d.Inference = inference.NewService(d.Orchestrator, d.Logger, opts...)
}

// initHealthChecks registers the database, cache and breaker checks
func (d *Dependencies) initHealthChecks() {
	d.Health = handlers.NewHealthChecker(healthCheckTimeout)

	d.Health.Register("database", func(ctx context.Context) (map[string]interface{}, error) {
		if d.DB == nil {
			return map[string]interface{}{"enabled": false}, nil
		}
		if err := d.DB.HealthCheck(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"enabled": true, "pool": d.DB.PoolStats()}, nil
	})

	d.Health.Register("cache", func(ctx context.Context) (map[string]interface{}, error) {
		if err := d.Cache.Ping(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"backend": d.Cache.Store().Name()}, nil
	})

	d.Health.Register("circuit_breakers", func(context.Context) (map[string]interface{}, error) {
		states := d.Breakers.States()
		details := map[string]interface{}{"states": states}

		configured := d.Providers.Providers()
		open := 0
		for _, id := range configured {
			if states[id.String()] == "open" {
				open++
			}
		}
		if len(configured) > 0 && open == len(configured) {
			return details, errors.New("all provider circuit breakers are open")
		}
		return details, nil
	})
}

// RuntimeMetrics reports pool, query, cache and breaker statistics for /health/metrics
func (d *Dependencies) RuntimeMetrics(context.Context) map[string]interface{} {
	out := map[string]interface{}{
		"cache":            d.Cache.Stats(),
		"circuit_breakers": d.Breakers.Snapshot(),
		"fallback":         d.Orchestrator.Stats(),
	}
	if d.DB != nil {
		out["database"] = map[string]interface{}{
			"pool":    d.DB.PoolStats(),
			"queries": d.DB.Monitor().Snapshot(),
		}
	}
	return out
}

// HTTPObserver returns the request metrics sink, or nil when metrics are disabled
func (d *Dependencies) HTTPObserver() middleware.HTTPObserver {
	if d.Metrics == nil {
		return nil
	}
	return d.Metrics
}

// StartWorkers runs background cleanup for in-process stores and the request
// log retention until ctx ends
func (d *Dependencies) StartWorkers(ctx context.Context) {
	if d.memoryStore != nil {
		go d.memoryStore.StartCleanupWorker(ctx, cleanupInterval)
	}
	go d.RateLimiter.StartCleanupWorker(ctx, cleanupInterval)
	go d.Inference.StartRetentionWorker(ctx, d.Config.Database.Retention, retentionInterval)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		} else {
			d.Logger.Info("redis connection closed")
		}
	}

	if d.sentryEnabled {
		timeout := 2 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		observability.FlushSentry(timeout)
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
