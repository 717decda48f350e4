package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okCheck(details map[string]interface{}) CheckFunc {
	return func(context.Context) (map[string]interface{}, error) {
		return details, nil
	}
}

func failingCheck(msg string) CheckFunc {
	return func(context.Context) (map[string]interface{}, error) {
		return nil, errors.New(msg)
	}
}

func TestHealthChecker_Run(t *testing.T) {
	checker := NewHealthChecker(time.Second)
	checker.Register("database", okCheck(map[string]interface{}{"open_connections": 1}))
	checker.Register("cache", okCheck(nil))
	checker.Register("broken", func(context.Context) (map[string]interface{}, error) {
		panic("boom")
	})

	assert.Equal(t, []string{"broken", "cache", "database"}, checker.Names())

	report := checker.Run(context.Background(), "database", "cache", "unknown")
	assert.True(t, report.Healthy())
	assert.Len(t, report.Checks, 2)
	assert.Equal(t, 1, report.Checks["database"].Details["open_connections"])
	assert.NotEmpty(t, report.Checks["cache"].Timestamp)

	all := checker.RunAll(context.Background())
	assert.False(t, all.Healthy())
	assert.Equal(t, "unhealthy", all.Status)
	assert.Equal(t, "check panicked", all.Checks["broken"].Error)
}

func TestHealthChecker_Timeout(t *testing.T) {
	checker := NewHealthChecker(10 * time.Millisecond)
	checker.Register("slow", func(ctx context.Context) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	report := checker.RunAll(context.Background())
	require.Contains(t, report.Checks, "slow")
	assert.False(t, report.Checks["slow"].Healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Checks["slow"].Error)
}

func TestHealthChecker_ReplacesCheck(t *testing.T) {
	checker := NewHealthChecker(0)
	checker.Register("cache", failingCheck("down"))
	checker.Register("cache", okCheck(nil))

	assert.True(t, checker.RunAll(context.Background()).Healthy())
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		cache      CheckFunc
		wantStatus int
		wantBody   string
	}{
		{"all healthy", okCheck(nil), http.StatusOK, "healthy"},
		{"cache down", failingCheck("connection refused"), http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewHealthChecker(time.Second)
			checker.Register("database", okCheck(nil))
			checker.Register("cache", tt.cache)
			handler := NewHealthHandler(checker, nil, "test", zap.NewNop())

			w := httptest.NewRecorder()
			handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var report HealthReport
			require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
			assert.Equal(t, tt.wantBody, report.Status)
			assert.Len(t, report.Checks, 2)
		})
	}
}

func TestHandleLive(t *testing.T) {
	checker := NewHealthChecker(time.Second)
	checker.Register("database", failingCheck("down"))
	handler := NewHealthHandler(checker, nil, "test", zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleLive(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
	assert.Contains(t, body, "uptime")
}

func TestHandleReady(t *testing.T) {
	t.Run("ignores checks outside readiness", func(t *testing.T) {
		checker := NewHealthChecker(time.Second)
		checker.Register("database", okCheck(nil))
		checker.Register("cache", okCheck(nil))
		checker.Register("circuit_breakers", failingCheck("open"))
		handler := NewHealthHandler(checker, nil, "test", zap.NewNop())

		w := httptest.NewRecorder()
		handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "ready", body["status"])
		assert.NotContains(t, body["checks"], "circuit_breakers")
	})

	t.Run("database down", func(t *testing.T) {
		checker := NewHealthChecker(time.Second)
		checker.Register("database", failingCheck("dial tcp: refused"))
		checker.Register("cache", okCheck(nil))
		handler := NewHealthHandler(checker, nil, "test", zap.NewNop())

		w := httptest.NewRecorder()
		handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "not_ready")
		assert.Contains(t, w.Body.String(), "dial tcp: refused")
	})
}

func TestHandleMetrics(t *testing.T) {
	checker := NewHealthChecker(time.Second)
	source := func(context.Context) map[string]interface{} {
		return map[string]interface{}{
			"circuit_breakers": map[string]string{"openai": "closed"},
		}
	}
	handler := NewHealthHandler(checker, source, "production", zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleMetrics(w, httptest.NewRequest(http.MethodGet, "/health/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))

	app := body["application"].(map[string]interface{})
	assert.Equal(t, "production", app["environment"])
	assert.Contains(t, body, "memory")
	assert.Equal(t, map[string]interface{}{"openai": "closed"}, body["circuit_breakers"])
}
