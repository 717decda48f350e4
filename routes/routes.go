package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/biped-api/app"
	"github.com/upb/biped-api/handlers"
	"github.com/upb/biped-api/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger, deps.HTTPObserver()))
	r.Use(middleware.Recoverer(logger))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID", middleware.APIVersionHeader},
		ExposedHeaders:   []string{"X-Request-ID", "X-Response-Time", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", middleware.APIVersionHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.APIVersion)

	identity := middleware.NewIdentityMiddleware(deps.Config.Security.SecretKey, logger)

	health := handlers.NewHealthHandler(deps.Health, deps.RuntimeMetrics, deps.Config.Environment, logger)
	inference := handlers.NewInferenceHandler(deps.Inference, logger)
	admin := handlers.NewAdminHandler(deps.Cache, deps.Breakers, logger)

	// Health check endpoints are not rate limited
	r.Route("/health", func(r chi.Router) {
		r.Get("/", health.HandleHealth)
		r.Get("/live", health.HandleLive)
		r.Get("/ready", health.HandleReady)
		r.Get("/metrics", health.HandleMetrics)
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// limit before identity so invalid tokens count against the caller
		r.Use(middleware.RateLimit(deps.RateLimiter, deps.DefaultLimits, logger))
		r.Use(identity.Handler)

		r.Route("/ai", func(r chi.Router) {
			r.With(middleware.RateLimit(deps.RateLimiter, deps.ChatLimits, logger)).
				Post("/chat", inference.HandleChat)
			r.With(middleware.RateLimit(deps.RateLimiter, deps.ChatLimits, logger)).
				Post("/complete", inference.HandleComplete)
			r.Get("/stats", inference.HandleStats)
		})

		// Operational endpoints require an authenticated subject
		r.Route("/admin", func(r chi.Router) {
			r.Use(identity.RequireSubject)
			r.Post("/cache/clear", admin.HandleClearCache)
			r.Get("/circuit-breakers", admin.HandleCircuitBreakers)
			r.Get("/requests/{requestID}", inference.HandleGetRequest)
		})
	})

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	return r
}
