package handlers

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CheckFunc checks one dependency. Details are reported alongside the result.
type CheckFunc func(ctx context.Context) (details map[string]interface{}, err error)

// CheckResult is the outcome of one check
type CheckResult struct {
	Healthy        bool                   `json:"healthy"`
	ResponseTimeMs float64                `json:"response_time_ms"`
	Error          string                 `json:"error,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Timestamp      string                 `json:"timestamp"`
}

// HealthReport aggregates check results
type HealthReport struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    float64                `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Healthy reports whether every check passed
func (r HealthReport) Healthy() bool {
	return r.Status == "healthy"
}

// HealthChecker is a registry of named dependency checks
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	started time.Time
}

// NewHealthChecker creates a checker; each check is bounded by timeout
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checks:  make(map[string]CheckFunc),
		timeout: timeout,
		started: time.Now(),
	}
}

// Register adds or replaces a named check
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Names returns the registered check names, sorted
func (h *HealthChecker) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Uptime returns the time since the checker was created
func (h *HealthChecker) Uptime() time.Duration {
	return time.Since(h.started)
}

// RunAll runs every registered check
func (h *HealthChecker) RunAll(ctx context.Context) HealthReport {
	return h.Run(ctx, h.Names()...)
}

// Run runs the named checks concurrently. Unregistered names are skipped.
func (h *HealthChecker) Run(ctx context.Context, names ...string) HealthReport {
	h.mu.RLock()
	selected := make(map[string]CheckFunc, len(names))
	for _, name := range names {
		if check, ok := h.checks[name]; ok {
			selected[name] = check
		}
	}
	h.mu.RUnlock()

	report := HealthReport{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    h.Uptime().Seconds(),
		Checks:    make(map[string]CheckResult, len(selected)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, check := range selected {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()
			result := h.runOne(ctx, check)
			mu.Lock()
			report.Checks[name] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	for _, result := range report.Checks {
		if !result.Healthy {
			report.Status = "unhealthy"
			break
		}
	}
	return report
}

func (h *HealthChecker) runOne(ctx context.Context, check CheckFunc) (result CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = CheckResult{Healthy: false, Error: "check panicked"}
		}
		result.ResponseTimeMs = float64(time.Since(start).Microseconds()) / 1000
		result.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}()

	details, err := check(ctx)
	result = CheckResult{Healthy: err == nil, Details: details}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
