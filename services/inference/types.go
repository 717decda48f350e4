package inference

import (
	"github.com/upb/biped-api/models"
	"github.com/upb/biped-api/services/cache"
	"github.com/upb/biped-api/services/fallback"
	"github.com/upb/biped-api/services/providers"
)

// CompletionRequest is one chat or text completion to run through the fallback plan
type CompletionRequest struct {
	// Messages for chat completion
	Messages []providers.Message `json:"messages,omitempty"`

	// Prompt for text completion
	Prompt string `json:"prompt,omitempty"`

	// Plan overrides the orchestrator's default plan when set
	Plan *fallback.Plan `json:"plan,omitempty"`

	// Model parameters
	Options providers.Options `json:"options"`

	// Request metadata
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// CompletionResponse wraps the orchestrated result
type CompletionResponse struct {
	Result providers.CallResult `json:"result"`

	// Cached is true when Result came from the result cache and no provider was called
	Cached bool `json:"cached"`
}

// StatsReport aggregates orchestrator, cache and persisted usage statistics
type StatsReport struct {
	Orchestrator fallback.Stats         `json:"orchestrator"`
	Cache        *cache.Stats           `json:"cache,omitempty"`
	Usage        []models.ProviderUsage `json:"provider_usage,omitempty"`
}
