package models

import (
	"time"

	"github.com/google/uuid"
)

// InferenceStatus represents the outcome of an orchestrated call
type InferenceStatus string

const (
	InferenceStatusCompleted InferenceStatus = "completed"
	InferenceStatusFailed    InferenceStatus = "failed"
)

// InferenceOperation distinguishes chat and text completions
type InferenceOperation string

const (
	OperationChat     InferenceOperation = "chat"
	OperationComplete InferenceOperation = "complete"
)

// InferenceRequest is the persisted record of one orchestrated call
type InferenceRequest struct {
	ID        uuid.UUID          `json:"id" db:"id"`
	RequestID string             `json:"request_id" db:"request_id"` // External request ID
	Operation InferenceOperation `json:"operation" db:"operation"`
	Status    InferenceStatus    `json:"status" db:"status"`

	// Provider that produced the outcome. Empty when no provider was attempted.
	Provider string `json:"provider" db:"provider"`
	Model    string `json:"model" db:"model"`

	// Fingerprint of the prompt or messages, the same one used as cache key
	PromptHash string `json:"prompt_hash" db:"prompt_hash"`

	// Metrics
	TokensUsed *int64 `json:"tokens_used,omitempty" db:"tokens_used"`
	LatencyMs  int64  `json:"latency_ms" db:"latency_ms"`

	// Error handling
	FailureKind  *string `json:"failure_kind,omitempty" db:"failure_kind"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	// Request metadata
	IPAddress string `json:"ip_address" db:"ip_address"`
	UserAgent string `json:"user_agent" db:"user_agent"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// NewInferenceRequest creates a new InferenceRequest instance.
// A missing request ID is replaced with a fresh one.
func NewInferenceRequest(requestID string, operation InferenceOperation, promptHash string) *InferenceRequest {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &InferenceRequest{
		ID:         uuid.New(),
		RequestID:  requestID,
		Operation:  operation,
		PromptHash: promptHash,
		CreatedAt:  time.Now(),
	}
}

// MarkAsCompleted marks the request as completed
func (ir *InferenceRequest) MarkAsCompleted(provider, model string, tokensUsed *int64, latencyMs int64) {
	ir.Status = InferenceStatusCompleted
	ir.Provider = provider
	ir.Model = model
	ir.TokensUsed = tokensUsed
	ir.LatencyMs = latencyMs
	now := time.Now()
	ir.CompletedAt = &now
}

// MarkAsFailed marks the request as failed
func (ir *InferenceRequest) MarkAsFailed(provider, failureKind, errorMessage string, latencyMs int64) {
	ir.Status = InferenceStatusFailed
	ir.Provider = provider
	ir.FailureKind = &failureKind
	ir.ErrorMessage = &errorMessage
	ir.LatencyMs = latencyMs
	now := time.Now()
	ir.CompletedAt = &now
}

// SetRequestMetadata sets request metadata
func (ir *InferenceRequest) SetRequestMetadata(ipAddress, userAgent string) {
	ir.IPAddress = ipAddress
	ir.UserAgent = userAgent
}

// ProviderUsage aggregates persisted calls for one provider
type ProviderUsage struct {
	Provider     string  `json:"provider"`
	Requests     int64   `json:"requests"`
	Failures     int64   `json:"failures"`
	TokensUsed   int64   `json:"tokens_used"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}
