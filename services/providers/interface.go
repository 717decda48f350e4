package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ID identifies a supported AI provider
type ID string

const (
	// OpenAI is the OpenAI platform
	OpenAI ID = "openai"

	// Anthropic is the Anthropic platform
	Anthropic ID = "anthropic"
)

// SupportedIDs returns every provider this build can construct, in a stable order
func SupportedIDs() []ID {
	return []ID{OpenAI, Anthropic}
}

// ParseID converts a user supplied provider name into an ID
func ParseID(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range SupportedIDs() {
		if id == known {
			return id, nil
		}
	}
	return "", fmt.Errorf("unsupported provider: %q", s)
}

// String returns the provider name
func (id ID) String() string {
	return string(id)
}

// CredentialEnv is the environment variable holding the provider's API key
func (id ID) CredentialEnv() string {
	return strings.ToUpper(string(id)) + "_API_KEY"
}

// Client is the capability every provider adapter implements.
// Every exit is a CallResult; adapters never return provider SDK errors.
type Client interface {
	// CompleteText generates a completion for a single prompt
	CompleteText(ctx context.Context, prompt string, opts Options) CallResult

	// CompleteChat generates the next assistant turn for a conversation
	CompleteChat(ctx context.Context, messages []Message, opts Options) CallResult
}

// Message represents a single message in a conversation
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role string `json:"role" validate:"required,oneof=system user assistant"`

	// Content is the message text
	Content string `json:"content" validate:"required"`
}

// Options tunes a single completion. Nil or zero fields fall back to adapter defaults.
type Options struct {
	// Model overrides the handle's default model
	Model string `json:"model,omitempty"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty" validate:"omitempty,gte=1,lte=200000"`

	// Temperature controls randomness
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`

	// TopP controls nucleus sampling
	TopP *float64 `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`

	// FrequencyPenalty reduces repetition
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`

	// PresencePenalty encourages new topics
	PresencePenalty *float64 `json:"presence_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`

	// Stream consumes the provider's streaming endpoint and aggregates the deltas
	Stream bool `json:"stream,omitempty"`
}

// Adapter defaults applied when Options leaves a field unset
const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
	DefaultTopP        = 1.0
)

// MaxTokensOr returns the requested token limit or the adapter default
func (o Options) MaxTokensOr() int64 {
	if o.MaxTokens > 0 {
		return int64(o.MaxTokens)
	}
	return DefaultMaxTokens
}

// TemperatureOr returns the requested temperature or the adapter default
func (o Options) TemperatureOr() float64 {
	if o.Temperature != nil {
		return *o.Temperature
	}
	return DefaultTemperature
}

// TopPOr returns the requested top_p or the adapter default
func (o Options) TopPOr() float64 {
	if o.TopP != nil {
		return *o.TopP
	}
	return DefaultTopP
}

// ModelOr returns the requested model or the given fallback
func (o Options) ModelOr(fallback string) string {
	if o.Model != "" {
		return o.Model
	}
	return fallback
}

// Float returns a pointer to v, for building Options literals
func Float(v float64) *float64 {
	return &v
}

// Completion is the normalized output of one successful provider call
type Completion struct {
	Text       string
	Model      string
	TokensUsed *int64
}

// Guard wraps a call with circuit breaker protection.
// It rejects the call with breaker.ErrOpen while tripped.
type Guard interface {
	Execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error)
}

// GuardFunc resolves the breaker shared by all handles of one provider
type GuardFunc func(id ID) Guard

// ProviderConfig holds the construction settings of one handle
type ProviderConfig struct {
	// APIKey is the resolved credential
	APIKey string

	// BaseURL overrides the provider's API endpoint
	BaseURL string

	// Model is the default model for calls without an override
	Model string

	// Timeout bounds each transport call
	Timeout time.Duration

	// MaxRetries is the SDK retry budget for 429 and 5xx responses
	MaxRetries int

	// RequestsPerSecond throttles the handle locally; zero disables it
	RequestsPerSecond float64

	// Burst is the token bucket size when throttling is enabled
	Burst int

	// Guard is the provider's circuit breaker
	Guard Guard

	// Logger is scoped to the handle
	Logger *zap.Logger
}

// DefaultProviderConfig returns default provider configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// Builder constructs an adapter from its settings without any network I/O
type Builder func(cfg ProviderConfig) (Client, error)
