package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/biped-api/models"
	"github.com/upb/biped-api/repositories"
	"github.com/upb/biped-api/services"
	"github.com/upb/biped-api/services/cache"
	"github.com/upb/biped-api/services/fallback"
	"github.com/upb/biped-api/services/providers"
)

const (
	usageWindow    = 24 * time.Hour
	usageCacheKey  = "stats:usage:24h"
	persistTimeout = 5 * time.Second
)

// Orchestrator runs a call through a fallback plan; *fallback.Orchestrator implements it
type Orchestrator interface {
	Execute(ctx context.Context, plan fallback.Plan, call fallback.Call) providers.CallResult
	Plan() fallback.Plan
	Stats() fallback.Stats
}

// Service runs completions: cache lookup, orchestrated call, persistence, cache fill
type Service struct {
	orchestrator Orchestrator
	cache        *cache.Manager
	cacheTTL     time.Duration
	repo         repositories.InferenceRequestRepository
	usageTTL     time.Duration
	logger       *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithCache enables result caching. A zero ttl uses the manager default.
func WithCache(m *cache.Manager, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = m
		s.cacheTTL = ttl
	}
}

// WithRepository enables persistence of every orchestrated call.
// Usage aggregates are cached for usageTTL when a cache is configured.
func WithRepository(repo repositories.InferenceRequestRepository, usageTTL time.Duration) Option {
	return func(s *Service) {
		s.repo = repo
		s.usageTTL = usageTTL
	}
}

// NewService creates a completion service
func NewService(orchestrator Orchestrator, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		orchestrator: orchestrator,
		logger:       logger.Named("inference"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat completes a conversation
func (s *Service) Chat(ctx context.Context, req CompletionRequest) CompletionResponse {
	return s.run(ctx, models.OperationChat, cache.ChatKey(req.Messages), req,
		fallback.Chat(req.Messages, req.Options))
}

// Complete completes a single prompt
func (s *Service) Complete(ctx context.Context, req CompletionRequest) CompletionResponse {
	return s.run(ctx, models.OperationComplete, cache.TextKey(req.Prompt), req,
		fallback.Text(req.Prompt, req.Options))
}

func (s *Service) run(ctx context.Context, op models.InferenceOperation, key string, req CompletionRequest, call fallback.Call) CompletionResponse {
	if s.cache != nil {
		var cached providers.CallResult
		if s.cache.Get(ctx, key, &cached) && cached.Succeeded {
			s.logger.Debug("serving cached completion",
				zap.String("request_id", req.RequestID),
				zap.String("key", key))
			return CompletionResponse{Result: cached, Cached: true}
		}
	}

	plan := s.orchestrator.Plan()
	if req.Plan != nil {
		plan = *req.Plan
	}

	result := s.orchestrator.Execute(ctx, plan, call)

	s.persist(ctx, op, key, req, result)

	if result.Succeeded && s.cache != nil {
		cached := result
		cached.Attempts = nil
		s.cache.Set(ctx, key, cached, s.cacheTTL)
	}

	s.logger.Info("completion finished",
		zap.String("request_id", req.RequestID),
		zap.String("operation", string(op)),
		zap.Bool("succeeded", result.Succeeded),
		zap.String("provider", result.Provider.String()),
		zap.String("failure_kind", string(result.FailureKind())),
		zap.Int64("latency_ms", result.LatencyMs()))

	return CompletionResponse{Result: result}
}

// persist records the outcome. Each failed attempt of the sequence gets its own
// record under its provider, followed by the successful attempt when there is one.
// A sequence that ended before any attempt is recorded once without a provider.
// Failures are logged and never reach the caller.
func (s *Service) persist(ctx context.Context, op models.InferenceOperation, key string, req CompletionRequest, result providers.CallResult) {
	if s.repo == nil {
		return
	}

	// records of one sequence share the request ID
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	var records []*models.InferenceRequest
	for _, attempt := range result.Attempts {
		if attempt.Failure == nil {
			continue
		}
		record := s.newRecord(op, key, req)
		record.MarkAsFailed(attempt.Provider.String(), string(attempt.Failure.Kind), attempt.Failure.Message, attempt.Latency.Milliseconds())
		records = append(records, record)
	}

	switch {
	case result.Succeeded:
		record := s.newRecord(op, key, req)
		record.MarkAsCompleted(result.Provider.String(), result.Model, result.TokensConsumed, result.LatencyMs())
		records = append(records, record)
	case len(records) == 0:
		record := s.newRecord(op, key, req)
		message := ""
		if result.Failure != nil {
			message = result.Failure.Message
		}
		record.MarkAsFailed(result.Provider.String(), string(result.FailureKind()), message, result.LatencyMs())
		records = append(records, record)
	}

	// the request deadline may already be spent
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	for _, record := range records {
		if err := s.repo.Create(ctx, record); err != nil {
			s.logger.Warn("failed to persist inference request",
				zap.String("request_id", record.RequestID),
				zap.String("provider", record.Provider),
				zap.Error(err))
			return
		}
	}
}

func (s *Service) newRecord(op models.InferenceOperation, key string, req CompletionRequest) *models.InferenceRequest {
	record := models.NewInferenceRequest(req.RequestID, op, key)
	record.SetRequestMetadata(req.IPAddress, req.UserAgent)
	return record
}

// Stats returns orchestrator, cache and usage statistics. Usage covers the last 24 hours.
func (s *Service) Stats(ctx context.Context) (StatsReport, error) {
	report := StatsReport{Orchestrator: s.orchestrator.Stats()}

	if s.cache != nil {
		stats := s.cache.Stats()
		report.Cache = &stats
	}

	if s.repo != nil {
		load := func(ctx context.Context) ([]models.ProviderUsage, error) {
			return s.repo.UsageByProvider(ctx, time.Now().Add(-usageWindow))
		}

		var (
			usage []models.ProviderUsage
			err   error
		)
		if s.cache != nil {
			usage, err = cache.Remember(ctx, s.cache, usageCacheKey, s.usageTTL, load)
		} else {
			usage, err = load(ctx)
		}
		if err != nil {
			return report, fmt.Errorf("failed to load provider usage: %w", err)
		}
		report.Usage = usage
	}

	return report, nil
}

// Lookup returns the records persisted for one external request, oldest first
func (s *Service) Lookup(ctx context.Context, requestID string) ([]*models.InferenceRequest, error) {
	if s.repo == nil {
		return nil, services.ErrServiceUnavailable.WithDetail("reason", "request log is not configured")
	}

	records, err := s.repo.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, services.ErrRequestNotFound.WithDetail("request_id", requestID)
	}
	return records, nil
}

// PurgeExpired removes records created more than retention ago
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if s.repo == nil || retention <= 0 {
		return 0, nil
	}
	return s.repo.DeleteOlderThan(ctx, time.Now().Add(-retention))
}

// StartRetentionWorker purges expired records every interval until ctx is done.
// A zero retention disables it.
func (s *Service) StartRetentionWorker(ctx context.Context, retention, interval time.Duration) {
	if s.repo == nil || retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.PurgeExpired(ctx, retention); err != nil {
				s.logger.Warn("failed to purge expired inference requests",
					zap.Duration("retention", retention),
					zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// BuildPlan resolves a requested provider and fallback list against the default plan.
// No provider keeps the default. A provider without fallbacks falls back to every
// other supported provider.
func BuildPlan(provider string, fallbacks []string, def fallback.Plan) (fallback.Plan, error) {
	if provider == "" {
		if len(fallbacks) > 0 {
			return fallback.Plan{}, fmt.Errorf("fallbacks require a provider")
		}
		return def, nil
	}

	primary, err := providers.ParseID(provider)
	if err != nil {
		return fallback.Plan{}, err
	}
	if fallbacks == nil {
		return fallback.PlanFor(primary), nil
	}

	plan := fallback.Plan{Primary: primary, Fallbacks: make([]providers.ID, 0, len(fallbacks))}
	for _, name := range fallbacks {
		id, err := providers.ParseID(name)
		if err != nil {
			return fallback.Plan{}, err
		}
		plan.Fallbacks = append(plan.Fallbacks, id)
	}
	return plan, nil
}
