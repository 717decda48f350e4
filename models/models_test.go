package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInferenceRequest(t *testing.T) {
	req := NewInferenceRequest("req-123", OperationChat, "chat:abc")

	assert.NotEqual(t, uuid.Nil, req.ID)
	assert.Equal(t, "req-123", req.RequestID)
	assert.Equal(t, OperationChat, req.Operation)
	assert.Equal(t, "chat:abc", req.PromptHash)
	assert.Empty(t, req.Status)
	assert.False(t, req.CreatedAt.IsZero())
	assert.Nil(t, req.CompletedAt)
}

func TestNewInferenceRequest_GeneratesRequestID(t *testing.T) {
	req := NewInferenceRequest("", OperationComplete, "complete:1")

	_, err := uuid.Parse(req.RequestID)
	assert.NoError(t, err)
}

func TestInferenceRequest_MarkAsCompleted(t *testing.T) {
	req := NewInferenceRequest("r", OperationChat, "h")
	tokens := int64(42)

	req.MarkAsCompleted("anthropic", "claude-3-sonnet-20240229", &tokens, 350)

	assert.Equal(t, InferenceStatusCompleted, req.Status)
	assert.Equal(t, "anthropic", req.Provider)
	assert.Equal(t, "claude-3-sonnet-20240229", req.Model)
	require.NotNil(t, req.TokensUsed)
	assert.Equal(t, int64(42), *req.TokensUsed)
	assert.Equal(t, int64(350), req.LatencyMs)
	assert.NotNil(t, req.CompletedAt)
	assert.Nil(t, req.FailureKind)
}

func TestInferenceRequest_MarkAsFailed(t *testing.T) {
	req := NewInferenceRequest("r", OperationComplete, "h")

	req.MarkAsFailed("", "all_providers_failed", "all 2 providers failed", 1200)

	assert.Equal(t, InferenceStatusFailed, req.Status)
	assert.Empty(t, req.Provider)
	require.NotNil(t, req.FailureKind)
	assert.Equal(t, "all_providers_failed", *req.FailureKind)
	require.NotNil(t, req.ErrorMessage)
	assert.Equal(t, "all 2 providers failed", *req.ErrorMessage)
	assert.Equal(t, int64(1200), req.LatencyMs)
	assert.NotNil(t, req.CompletedAt)
}

func TestInferenceRequest_SetRequestMetadata(t *testing.T) {
	req := NewInferenceRequest("r", OperationChat, "h")
	req.SetRequestMetadata("10.0.0.1", "curl/8.0")

	assert.Equal(t, "10.0.0.1", req.IPAddress)
	assert.Equal(t, "curl/8.0", req.UserAgent)
}

func TestInferenceRequest_JSONOmitsEmptyFailure(t *testing.T) {
	req := NewInferenceRequest("r", OperationChat, "h")
	req.MarkAsCompleted("openai", "gpt-4", nil, 10)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "failure_kind")
	assert.NotContains(t, string(data), "tokens_used")
}
