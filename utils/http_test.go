package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func TestWriteJSON(t *testing.T) {
	t.Run("with payload", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusOK, map[string]string{"response": "hello"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"response":"hello"}`, w.Body.String())
	})

	t.Run("nil payload", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusAccepted, nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteOK(w, map[string]bool{"cached": true}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cached":true}`, w.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Prompt string `json:"prompt"`
	}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{"valid", `{"prompt":"hi"}`, "hi", ""},
		{"empty", ``, "", "request body is empty"},
		{"malformed", `{"prompt":`, "", "invalid JSON body"},
		{"too large", `{"prompt":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, "", "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.input))
			w := httptest.NewRecorder()

			var got body
			err := DecodeJSON(w, r, &got)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Prompt)
		})
	}
}

func TestWriteBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	details := map[string]interface{}{"prompt": "prompt is required"}

	require.NoError(t, WriteBadRequest(w, "Validation failed", details))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	response := decodeError(t, w)
	assert.Equal(t, "bad_request", response.Error)
	assert.Equal(t, "Validation failed", response.Message)
	assert.Equal(t, "prompt is required", response.Details["prompt"])
}

func TestDefaultMessages(t *testing.T) {
	tests := []struct {
		name    string
		write   func(http.ResponseWriter) error
		status  int
		errType string
		message string
	}{
		{"unauthorized", func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") },
			http.StatusUnauthorized, "unauthorized", "Authentication required"},
		{"not found", func(w http.ResponseWriter) error { return WriteNotFound(w, "") },
			http.StatusNotFound, "not_found", "Resource not found"},
		{"method not allowed", func(w http.ResponseWriter) error { return WriteMethodNotAllowed(w, "") },
			http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed"},
		{"internal", func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") },
			http.StatusInternalServerError, "internal_error", "Internal server error"},
		{"unavailable", func(w http.ResponseWriter) error { return WriteServiceUnavailable(w, "") },
			http.StatusServiceUnavailable, "service_unavailable", "Service unavailable"},
		{"custom message", func(w http.ResponseWriter) error { return WriteNotFound(w, "no such route") },
			http.StatusNotFound, "not_found", "no such route"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))
			assert.Equal(t, tt.status, w.Code)

			response := decodeError(t, w)
			assert.Equal(t, tt.errType, response.Error)
			assert.Equal(t, tt.message, response.Message)
		})
	}
}

func TestWriteConflict(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteConflict(w, "already exists", map[string]interface{}{"key": "k"}))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "k", decodeError(t, w).Details["key"])
}

func TestWriteTooManyRequests(t *testing.T) {
	t.Run("with retry after", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteTooManyRequests(w, "exceeded 10 per minute", 42, "req-1"))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "42", w.Header().Get("Retry-After"))

		response := decodeError(t, w)
		assert.Equal(t, "rate_limit_exceeded", response.Error)
		assert.Equal(t, "exceeded 10 per minute", response.Message)
		assert.Equal(t, 42, response.RetryAfter)
		assert.Equal(t, "req-1", response.RequestID)
	})

	t.Run("defaults", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteTooManyRequests(w, "", 0, ""))
		assert.Empty(t, w.Header().Get("Retry-After"))
		assert.Equal(t, "Rate limit exceeded", decodeError(t, w).Message)
	})
}

func TestWriteBadGateway(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteBadGateway(w, "all providers failed", map[string]interface{}{"failure_kind": "all_providers_failed"}))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	response := decodeError(t, w)
	assert.Equal(t, "bad_gateway", response.Error)
	assert.Equal(t, "all_providers_failed", response.Details["failure_kind"])
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		status            int
		expectedErrorType string
	}{
		{http.StatusBadRequest, "bad_request"},
		{http.StatusUnauthorized, "unauthorized"},
		{http.StatusNotFound, "not_found"},
		{http.StatusMethodNotAllowed, "method_not_allowed"},
		{http.StatusConflict, "conflict"},
		{http.StatusTooManyRequests, "rate_limit_exceeded"},
		{http.StatusBadGateway, "bad_gateway"},
		{http.StatusServiceUnavailable, "service_unavailable"},
		{http.StatusGatewayTimeout, "gateway_timeout"},
		{http.StatusTeapot, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			w := httptest.NewRecorder()

			require.NoError(t, WriteError(w, tt.status, "message", nil))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.expectedErrorType, decodeError(t, w).Error)
		})
	}
}
