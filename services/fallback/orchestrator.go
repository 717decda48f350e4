// Package fallback tries an ordered list of providers until one produces a completion.
package fallback

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/upb/biped-api/services/providers"
)

// Plan is the ordered attempt sequence of one logical request
type Plan struct {
	Primary   providers.ID   `json:"primary"`
	Fallbacks []providers.ID `json:"fallbacks"`
}

// Sequence returns primary followed by fallbacks. Duplicates are kept.
func (p Plan) Sequence() []providers.ID {
	seq := make([]providers.ID, 0, 1+len(p.Fallbacks))
	seq = append(seq, p.Primary)
	return append(seq, p.Fallbacks...)
}

// PlanFor builds a plan whose fallbacks are every other supported provider
func PlanFor(primary providers.ID) Plan {
	plan := Plan{Primary: primary}
	for _, id := range providers.SupportedIDs() {
		if id != primary {
			plan.Fallbacks = append(plan.Fallbacks, id)
		}
	}
	return plan
}

// Source hands out provider handles; *providers.Registry is the production source
type Source interface {
	GetOrCreate(provider providers.ID, credential string, overrides providers.Overrides) (*providers.Handle, error)
}

// Call performs one operation against one provider
type Call func(ctx context.Context, client providers.Client) providers.CallResult

// Text is the CompleteText operation
func Text(prompt string, opts providers.Options) Call {
	return func(ctx context.Context, client providers.Client) providers.CallResult {
		return client.CompleteText(ctx, prompt, opts)
	}
}

// Chat is the CompleteChat operation
func Chat(messages []providers.Message, opts providers.Options) Call {
	return func(ctx context.Context, client providers.Client) providers.CallResult {
		return client.CompleteChat(ctx, messages, opts)
	}
}

// Recorder receives attempt and sequence outcomes, typically for metrics
type Recorder interface {
	ObserveAttempt(provider string, outcome string, latency time.Duration)
	ObserveResult(outcome string)
}

// Stats is a read-only snapshot of the orchestrator
type Stats struct {
	PrimaryProvider      providers.ID      `json:"primary_provider"`
	FallbackProviders    []providers.ID    `json:"fallback_providers"`
	RequestCount         int64             `json:"request_count"`
	CircuitBreakerStates map[string]string `json:"circuit_breaker_states"`
}

// Orchestrator runs fallback sequences. It is safe for concurrent use.
type Orchestrator struct {
	source        Source
	plan          Plan
	budget        time.Duration
	breakerStates func() map[string]string
	recorder      Recorder
	requests      atomic.Int64
	logger        *zap.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithSequenceTimeout bounds the wall clock of a whole sequence
func WithSequenceTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.budget = d
	}
}

// WithBreakerStates sets the breaker state source reported by Stats
func WithBreakerStates(fn func() map[string]string) Option {
	return func(o *Orchestrator) {
		o.breakerStates = fn
	}
}

// WithRecorder sets the outcome recorder
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// New creates an orchestrator with a default plan
func New(source Source, plan Plan, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		source: source,
		plan:   plan,
		logger: logger.Named("fallback"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Plan returns the default plan
func (o *Orchestrator) Plan() Plan {
	return o.plan
}

// CompleteText runs a text completion over the default plan
func (o *Orchestrator) CompleteText(ctx context.Context, prompt string, opts providers.Options) providers.CallResult {
	return o.Execute(ctx, o.plan, Text(prompt, opts))
}

// CompleteChat runs a chat completion over the default plan
func (o *Orchestrator) CompleteChat(ctx context.Context, messages []providers.Message, opts providers.Options) providers.CallResult {
	return o.Execute(ctx, o.plan, Chat(messages, opts))
}

// Execute tries each provider of plan in order and returns the first success.
// Provider failures never escape; the caller sees either a success, deadline_exceeded
// when the context ends before the sequence does, or all_providers_failed.
func (o *Orchestrator) Execute(ctx context.Context, plan Plan, call Call) providers.CallResult {
	if o.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.budget)
		defer cancel()
	}

	start := time.Now()
	sequence := plan.Sequence()
	attempts := make([]providers.Attempt, 0, len(sequence))

	for i, id := range sequence {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("fallback sequence abandoned",
				zap.String("provider", id.String()),
				zap.Int("attempt", i+1),
				zap.Error(err),
			)
			return o.finish(providers.Failed("", &providers.Failure{
				Kind:    providers.KindDeadlineExceeded,
				Message: fmt.Sprintf("deadline passed before attempt %d of %d: %v", i+1, len(sequence), err),
			}, time.Since(start)), attempts)
		}

		res := o.attempt(ctx, id, call)
		attempts = append(attempts, providers.Attempt{Provider: id, Failure: res.Failure, Latency: res.Latency})
		if res.Succeeded {
			o.requests.Add(1)
			if i > 0 {
				o.logger.Info("provider fallback succeeded",
					zap.String("provider", id.String()),
					zap.Int("attempt", i+1),
				)
			}
			return o.finish(res, attempts)
		}

		o.logger.Warn("provider attempt failed",
			zap.String("provider", id.String()),
			zap.String("failure_kind", string(res.FailureKind())),
			zap.String("error", res.Failure.Message),
			zap.Int("attempt", i+1),
			zap.Int("remaining", len(sequence)-i-1),
		)
	}

	if err := ctx.Err(); err != nil {
		return o.finish(providers.Failed("", &providers.Failure{
			Kind:    providers.KindDeadlineExceeded,
			Message: err.Error(),
		}, time.Since(start)), attempts)
	}

	return o.finish(providers.Failed("", &providers.Failure{
		Kind:    providers.KindAllProvidersFailed,
		Message: fmt.Sprintf("all %d providers failed", len(sequence)),
	}, time.Since(start)), attempts)
}

func (o *Orchestrator) attempt(ctx context.Context, id providers.ID, call Call) (res providers.CallResult) {
	defer func() {
		if r := recover(); r != nil {
			res = providers.Failed(id, &providers.Failure{
				Kind:    providers.KindProviderError,
				Message: fmt.Sprintf("unexpected panic: %v", r),
			}, 0)
		}
		if o.recorder != nil {
			outcome := "success"
			if !res.Succeeded {
				outcome = string(res.FailureKind())
			}
			o.recorder.ObserveAttempt(id.String(), outcome, res.Latency)
		}
	}()

	// credentials and overrides come from the registry configuration
	handle, err := o.source.GetOrCreate(id, "", providers.Overrides{})
	if err != nil {
		return providers.Failed(id, providers.Classify(err), 0)
	}

	res = call(ctx, handle)
	if !res.Succeeded && res.Failure == nil {
		res = providers.Failed(id, nil, res.Latency)
	}
	return res
}

func (o *Orchestrator) finish(res providers.CallResult, attempts []providers.Attempt) providers.CallResult {
	if len(attempts) > 0 {
		res.Attempts = attempts
	}
	if o.recorder != nil {
		outcome := "success"
		if !res.Succeeded {
			outcome = string(res.FailureKind())
		}
		o.recorder.ObserveResult(outcome)
	}
	return res
}

// Stats returns a snapshot of the orchestrator's counters. It has no side effects.
func (o *Orchestrator) Stats() Stats {
	stats := Stats{
		PrimaryProvider:      o.plan.Primary,
		FallbackProviders:    append([]providers.ID{}, o.plan.Fallbacks...),
		RequestCount:         o.requests.Load(),
		CircuitBreakerStates: map[string]string{},
	}
	if o.breakerStates != nil {
		for name, state := range o.breakerStates() {
			stats.CircuitBreakerStates[name] = state
		}
	}
	return stats
}
