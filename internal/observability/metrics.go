package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Breaker state gauge values
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

// Metrics owns the Prometheus collectors on a private registry.
// It satisfies fallback.Recorder, cache.Observer and ratelimit.Observer.
type Metrics struct {
	registry *prometheus.Registry

	providerAttempts   *prometheus.CounterVec
	providerLatency    *prometheus.HistogramVec
	fallbackResults    *prometheus.CounterVec
	cacheRequests      *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	rateLimitRejection *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewMetrics creates and registers every collector
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		providerAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biped_provider_attempts_total",
				Help: "Provider attempts made by the fallback orchestrator",
			},
			[]string{"provider", "outcome"},
		),
		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "biped_provider_latency_seconds",
				Help:    "Latency of provider attempts",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		fallbackResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biped_fallback_results_total",
				Help: "Final outcomes of fallback sequences",
			},
			[]string{"outcome"},
		),
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biped_cache_requests_total",
				Help: "Result cache lookups by result",
			},
			[]string{"result"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "biped_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		rateLimitRejection: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biped_ratelimit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"window"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biped_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "biped_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.providerAttempts,
		m.providerLatency,
		m.fallbackResults,
		m.cacheRequests,
		m.breakerState,
		m.rateLimitRejection,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAttempt records one provider attempt
func (m *Metrics) ObserveAttempt(provider, outcome string, latency time.Duration) {
	m.providerAttempts.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// ObserveResult records the outcome of a whole fallback sequence
func (m *Metrics) ObserveResult(outcome string) {
	m.fallbackResults.WithLabelValues(outcome).Inc()
}

// ObserveCache records a cache hit, miss or error
func (m *Metrics) ObserveCache(result string) {
	m.cacheRequests.WithLabelValues(result).Inc()
}

// ObserveRejection records a rate limited request
func (m *Metrics) ObserveRejection(window string) {
	m.rateLimitRejection.WithLabelValues(window).Inc()
}

// ObserveHTTP records a served request. route is the matched pattern, not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetBreakerState has the breaker.StateListener signature
func (m *Metrics) SetBreakerState(name, _, to string) {
	m.breakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return BreakerOpen
	case "half-open":
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}
