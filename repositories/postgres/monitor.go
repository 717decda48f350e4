package postgres

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Query types tracked by QueryMonitor
const (
	QuerySelect = "SELECT"
	QueryInsert = "INSERT"
	QueryUpdate = "UPDATE"
	QueryDelete = "DELETE"
	QueryOther  = "OTHER"
)

// QueryStats aggregates executions of one query type
type QueryStats struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	SlowQueries   int64         `json:"slow_queries"`
	Errors        int64         `json:"errors"`
}

// QueryMonitor records query durations per type and reports slow queries
type QueryMonitor struct {
	mu        sync.Mutex
	threshold time.Duration
	stats     map[string]*QueryStats
	logger    *zap.Logger
}

// NewQueryMonitor creates a monitor. Queries slower than threshold are logged at warn level.
func NewQueryMonitor(threshold time.Duration, logger *zap.Logger) *QueryMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryMonitor{
		threshold: threshold,
		stats:     make(map[string]*QueryStats),
		logger:    logger,
	}
}

// Record adds one execution
func (m *QueryMonitor) Record(query string, duration time.Duration, err error) {
	queryType := classifyQuery(query)
	slow := m.threshold > 0 && duration > m.threshold

	m.mu.Lock()
	s, ok := m.stats[queryType]
	if !ok {
		s = &QueryStats{}
		m.stats[queryType] = s
	}
	s.Count++
	s.TotalDuration += duration
	s.AvgDuration = s.TotalDuration / time.Duration(s.Count)
	if slow {
		s.SlowQueries++
	}
	if err != nil {
		s.Errors++
	}
	m.mu.Unlock()

	if slow {
		m.logger.Warn("slow query",
			zap.String("query_type", queryType),
			zap.Duration("duration", duration),
			zap.Duration("threshold", m.threshold),
			zap.String("query", truncate(compact(query), 200)))
	}
}

// Snapshot returns a copy of the stats keyed by query type
func (m *QueryMonitor) Snapshot() map[string]QueryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]QueryStats, len(m.stats))
	for k, v := range m.stats {
		out[k] = *v
	}
	return out
}

func classifyQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return QueryOther
	}
	switch verb := strings.ToUpper(fields[0]); verb {
	case QuerySelect, QueryInsert, QueryUpdate, QueryDelete:
		return verb
	case "WITH":
		// CTEs are read queries in this codebase
		return QuerySelect
	}
	return QueryOther
}

func compact(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
