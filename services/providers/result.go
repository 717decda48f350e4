package providers

import (
	"fmt"
	"time"
)

// FailureKind is the classified reason a call did not produce a payload
type FailureKind string

const (
	KindRateLimited        FailureKind = "rate_limited"
	KindAuthFailed         FailureKind = "auth_failed"
	KindQuotaExceeded      FailureKind = "quota_exceeded"
	KindServiceUnavailable FailureKind = "service_unavailable"
	KindProviderError      FailureKind = "provider_error"
	KindMissingCredential  FailureKind = "missing_credential"
	KindAllProvidersFailed FailureKind = "all_providers_failed"
	KindDeadlineExceeded   FailureKind = "deadline_exceeded"
)

// Failure is a classified provider failure
type Failure struct {
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	Provider ID          `json:"provider,omitempty"`
}

// Error implements the error interface
func (f *Failure) Error() string {
	if f.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", f.Provider, f.Kind, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Is matches failures by kind
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}

// Sentinel failures for errors.Is checks
var (
	ErrMissingCredential  = &Failure{Kind: KindMissingCredential, Message: "no API key available"}
	ErrAllProvidersFailed = &Failure{Kind: KindAllProvidersFailed, Message: "all providers failed"}
	ErrDeadlineExceeded   = &Failure{Kind: KindDeadlineExceeded, Message: "deadline exceeded"}
)

// CallResult is the outcome of one generation attempt.
// Exactly one of Succeeded and Failure is set.
type CallResult struct {
	Succeeded      bool          `json:"succeeded"`
	Payload        string        `json:"payload,omitempty"`
	Failure        *Failure      `json:"failure,omitempty"`
	Latency        time.Duration `json:"latency"`
	Provider       ID            `json:"provider,omitempty"`
	Model          string        `json:"model,omitempty"`
	TokensConsumed *int64        `json:"tokens_consumed,omitempty"`

	// Attempts lists every provider tried by a fallback sequence, in order.
	// Only the orchestrator sets it.
	Attempts []Attempt `json:"attempts,omitempty"`
}

// Attempt is one provider call of a fallback sequence
type Attempt struct {
	Provider ID            `json:"provider"`
	Failure  *Failure      `json:"failure,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// Success builds a successful result
func Success(provider ID, c Completion, latency time.Duration) CallResult {
	return CallResult{
		Succeeded:      true,
		Payload:        c.Text,
		Latency:        latency,
		Provider:       provider,
		Model:          c.Model,
		TokensConsumed: c.TokensUsed,
	}
}

// Failed builds a failed result. A nil failure is recorded as a provider error.
func Failed(provider ID, f *Failure, latency time.Duration) CallResult {
	if f == nil {
		f = &Failure{Kind: KindProviderError, Message: "unknown error"}
	}
	failure := *f
	if failure.Provider == "" {
		failure.Provider = provider
	}
	return CallResult{
		Failure:  &failure,
		Latency:  latency,
		Provider: provider,
	}
}

// FailureKind returns the failure kind, or "" on success
func (r CallResult) FailureKind() FailureKind {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Kind
}

// LatencyMs returns the latency in milliseconds
func (r CallResult) LatencyMs() int64 {
	return r.Latency.Milliseconds()
}
