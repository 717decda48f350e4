package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/upb/biped-api/services/breaker"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"rate limit sentence", errors.New("Rate limit exceeded for requests"), KindRateLimited},
		{"sdk error type", errors.New(`POST "/v1/messages": 429 {"type":"rate_limit_error"}`), KindRateLimited},
		{"authentication", errors.New("Authentication failed: invalid x-api-key"), KindAuthFailed},
		{"unauthorized status", errors.New("401 Unauthorized"), KindAuthFailed},
		{"quota", errors.New("You exceeded your current quota"), KindQuotaExceeded},
		{"billing", errors.New("Billing hard limit reached"), KindQuotaExceeded},
		{"rate limit wins over quota", errors.New("rate limit reached for quota tier"), KindRateLimited},
		{"auth wins over billing", errors.New("unauthorized billing account"), KindAuthFailed},
		{"other", errors.New("500 Internal Server Error"), KindProviderError},
		{"breaker open", fmt.Errorf("%w: openai", breaker.ErrOpen), KindServiceUnavailable},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), KindDeadlineExceeded},
		{"canceled", context.Canceled, KindDeadlineExceeded},
		{"already classified", ErrMissingCredential, KindMissingCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassify_Deterministic(t *testing.T) {
	err := errors.New("Rate limit exceeded for requests")
	for i := 0; i < 10; i++ {
		assert.Equal(t, KindRateLimited, Classify(err).Kind)
	}
}

func TestClassifyMessage_KeepsOriginalText(t *testing.T) {
	f := ClassifyMessage("model_not_found")
	assert.Equal(t, KindProviderError, f.Kind)
	assert.Equal(t, "model_not_found", f.Message)
}
