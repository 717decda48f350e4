package observability

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const filtered = "[Filtered]"

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
	"x-auth-token":  true,
}

var sensitiveKeyParts = []string{"password", "token", "secret", "key"}

// SentryOptions configures error tracking
type SentryOptions struct {
	DSN              string
	Environment      string
	Release          string
	TracesSampleRate float64
}

// InitSentry initialises the global Sentry client. It reports false without
// error when there is no DSN or the environment is not production.
func InitSentry(opts SentryOptions) (bool, error) {
	if opts.DSN == "" || opts.Environment != "production" {
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		TracesSampleRate: opts.TracesSampleRate,
		AttachStacktrace: true,
		BeforeSend:       FilterSensitiveData,
	})
	if err != nil {
		return false, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return true, nil
}

// FlushSentry waits for buffered events
func FlushSentry(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// FilterSensitiveData scrubs credentials from an event before it leaves the process
func FilterSensitiveData(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil {
		return nil
	}

	if req := event.Request; req != nil {
		for name := range req.Headers {
			if sensitiveHeaders[strings.ToLower(name)] {
				req.Headers[name] = filtered
			}
		}
		if req.Cookies != "" {
			req.Cookies = filtered
		}
		req.Data = redactBody(req.Data)
	}

	for k := range event.Extra {
		if IsSensitiveKey(k) {
			event.Extra[k] = filtered
		}
	}
	return event
}

// IsSensitiveKey reports whether a field name looks like it carries a credential
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// redactBody masks sensitive keys of a JSON object body. Other bodies pass through.
func redactBody(data string) string {
	if data == "" {
		return data
	}
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(data), &body); err != nil {
		return data
	}
	redactMap(body)
	out, err := json.Marshal(body)
	if err != nil {
		return filtered
	}
	return string(out)
}

func redactMap(m map[string]interface{}) {
	for k, v := range m {
		if IsSensitiveKey(k) {
			m[k] = filtered
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			redactMap(nested)
		}
	}
}
