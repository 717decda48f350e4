package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/upb/biped-api/services/breaker"
)

// classification rules, first match wins
var rules = []struct {
	kind    FailureKind
	needles []string
}{
	{KindRateLimited, []string{"rate limit"}},
	{KindAuthFailed, []string{"authentication", "unauthorized"}},
	{KindQuotaExceeded, []string{"quota", "billing"}},
}

// Classify reduces an adapter error to a Failure.
// Breaker rejections become service_unavailable and context expiry becomes deadline_exceeded;
// everything else is matched on its message.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return &Failure{Kind: f.Kind, Message: f.Message, Provider: f.Provider}
	}

	switch {
	case errors.Is(err, breaker.ErrOpen):
		return &Failure{Kind: KindServiceUnavailable, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Failure{Kind: KindDeadlineExceeded, Message: err.Error()}
	}

	return ClassifyMessage(err.Error())
}

// ClassifyMessage applies the substring rules to a raw error message
func ClassifyMessage(msg string) *Failure {
	normalized := strings.ReplaceAll(strings.ToLower(msg), "_", " ")
	for _, rule := range rules {
		for _, needle := range rule.needles {
			if strings.Contains(normalized, needle) {
				return &Failure{Kind: rule.kind, Message: msg}
			}
		}
	}
	return &Failure{Kind: KindProviderError, Message: msg}
}
