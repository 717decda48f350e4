package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/biped-api/middleware"
	"github.com/upb/biped-api/services/breaker"
	"github.com/upb/biped-api/utils"
)

// CacheAdmin is satisfied by *cache.Manager
type CacheAdmin interface {
	Clear(ctx context.Context) (int, error)
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
}

// BreakerSource is satisfied by *breaker.Set
type BreakerSource interface {
	Snapshot() []breaker.Status
}

// AdminHandler exposes operational endpoints
type AdminHandler struct {
	cache    CacheAdmin
	breakers BreakerSource
	logger   *zap.Logger
}

// NewAdminHandler creates a new AdminHandler. cache may be nil.
func NewAdminHandler(cache CacheAdmin, breakers BreakerSource, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		cache:    cache,
		breakers: breakers,
		logger:   logger.Named("admin"),
	}
}

// HandleClearCache handles POST /api/v1/admin/cache/clear. The optional
// "pattern" query parameter limits the invalidation to matching keys.
func (h *AdminHandler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		_ = utils.WriteServiceUnavailable(w, "cache is not configured")
		return
	}

	ctx := r.Context()
	pattern := r.URL.Query().Get("pattern")

	var (
		removed int
		err     error
	)
	if pattern == "" {
		removed, err = h.cache.Clear(ctx)
	} else {
		removed, err = h.cache.InvalidatePattern(ctx, pattern)
	}
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("cache cleared",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("pattern", pattern),
		zap.Int("removed", removed))

	_ = utils.WriteOK(w, map[string]interface{}{
		"cleared": removed,
		"pattern": pattern,
	})
}

// HandleCircuitBreakers handles GET /api/v1/admin/circuit-breakers
func (h *AdminHandler) HandleCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, map[string]interface{}{
		"circuit_breakers": h.breakers.Snapshot(),
	})
}
