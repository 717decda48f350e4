package providers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Invoker runs adapter calls through the local limiter and the provider's breaker,
// timing each dispatch and folding every exit into a CallResult.
type Invoker struct {
	provider ID
	guard    Guard
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewInvoker creates an invoker for one handle
func NewInvoker(provider ID, cfg ProviderConfig) *Invoker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Invoker{
		provider: provider,
		guard:    cfg.Guard,
		limiter:  limiter,
		logger:   logger.With(zap.String("provider", provider.String())),
	}
}

// Invoke dispatches call and classifies its outcome
func (inv *Invoker) Invoke(ctx context.Context, call func(context.Context) (Completion, error)) (result CallResult) {
	if inv.limiter != nil {
		if err := inv.limiter.Wait(ctx); err != nil {
			return Failed(inv.provider, &Failure{Kind: KindDeadlineExceeded, Message: err.Error()}, 0)
		}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = Failed(inv.provider, &Failure{
				Kind:    KindProviderError,
				Message: fmt.Sprintf("adapter panic: %v", r),
			}, time.Since(start))
		}
		inv.logger.Debug("provider call finished",
			zap.Bool("succeeded", result.Succeeded),
			zap.Duration("latency", result.Latency),
		)
	}()

	out, err := inv.execute(ctx, call)
	latency := time.Since(start)
	if err != nil {
		return Failed(inv.provider, Classify(err), latency)
	}

	completion, ok := out.(Completion)
	if !ok {
		return Failed(inv.provider, &Failure{
			Kind:    KindProviderError,
			Message: fmt.Sprintf("unexpected guard result %T", out),
		}, latency)
	}
	return Success(inv.provider, completion, latency)
}

func (inv *Invoker) execute(ctx context.Context, call func(context.Context) (Completion, error)) (interface{}, error) {
	op := func(ctx context.Context) (interface{}, error) {
		return call(ctx)
	}
	if inv.guard == nil {
		return op(ctx)
	}
	return inv.guard.Execute(ctx, op)
}
