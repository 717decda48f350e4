package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/upb/biped-api/utils"
)

// ReadinessChecks are the checks /health/ready requires
var ReadinessChecks = []string{"database", "cache"}

// MetricsSource reports runtime statistics for /health/metrics
type MetricsSource func(ctx context.Context) map[string]interface{}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	checker     *HealthChecker
	metrics     MetricsSource
	environment string
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. metrics may be nil.
func NewHealthHandler(checker *HealthChecker, metrics MetricsSource, environment string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checker:     checker,
		metrics:     metrics,
		environment: environment,
		logger:      logger.Named("health"),
	}
}

// HandleHealth handles GET /health: every registered check, 503 when any fails
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.checker.RunAll(r.Context())

	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
		h.logger.Warn("health check failed", zap.Any("checks", report.Checks))
	}
	if err := utils.WriteJSON(w, status, report); err != nil {
		h.logger.Error("failed to write health response", zap.Error(err))
	}
}

// HandleLive handles GET /health/live. It only proves the process is serving.
func (h *HealthHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    h.checker.Uptime().Seconds(),
	})
}

// HandleReady handles GET /health/ready: the database and cache must respond
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Run(r.Context(), ReadinessChecks...)

	body := map[string]interface{}{
		"status":    "ready",
		"checks":    report.Checks,
		"timestamp": report.Timestamp,
	}
	status := http.StatusOK
	if !report.Healthy() {
		body["status"] = "not_ready"
		status = http.StatusServiceUnavailable
	}
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleMetrics handles GET /health/metrics
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	body := map[string]interface{}{
		"application": map[string]interface{}{
			"uptime":      h.checker.Uptime().Seconds(),
			"environment": h.environment,
			"go_version":  runtime.Version(),
			"goroutines":  runtime.NumGoroutine(),
		},
		"memory": map[string]interface{}{
			"alloc_mb":     mem.Alloc / (1024 * 1024),
			"sys_mb":       mem.Sys / (1024 * 1024),
			"num_gc":       mem.NumGC,
			"heap_objects": mem.HeapObjects,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.metrics != nil {
		for k, v := range h.metrics(r.Context()) {
			body[k] = v
		}
	}

	if err := utils.WriteOK(w, body); err != nil {
		h.logger.Error("failed to write metrics response", zap.Error(err))
	}
}
