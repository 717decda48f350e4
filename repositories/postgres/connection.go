package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/upb/biped-api/config"
	"github.com/upb/biped-api/services/breaker"
)

// DB wraps the sql.DB connection pool. Queries issued through Do are guarded by the
// database circuit breaker and recorded by the query monitor.
type DB struct {
	*sql.DB
	breaker *breaker.Breaker
	monitor *QueryMonitor
	logger  *zap.Logger
}

// NewDB creates a new database connection pool and verifies it with a guarded ping
func NewDB(ctx context.Context, cfg config.DatabaseConfig, br *breaker.Breaker, logger *zap.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	db := Wrap(sqlDB, br, NewQueryMonitor(cfg.SlowQueryThreshold, logger.Named("query_monitor")), logger)

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.guard(pingCtx, db.DB.PingContext); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return db, nil
}

// Wrap builds a DB around an existing pool. br and monitor may be nil.
func Wrap(sqlDB *sql.DB, br *breaker.Breaker, monitor *QueryMonitor, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	if monitor == nil {
		monitor = NewQueryMonitor(0, logger)
	}
	return &DB{
		DB:      sqlDB,
		breaker: br,
		monitor: monitor,
		logger:  logger,
	}
}

// Do runs fn with the executor bound to ctx (the transaction when one is active)
func (db *DB) Do(ctx context.Context, query string, fn func(ctx context.Context, ex Executor) error) error {
	start := time.Now()
	err := db.guard(ctx, func(ctx context.Context) error {
		return fn(ctx, executor(ctx, db))
	})
	db.monitor.Record(query, time.Since(start), err)
	return err
}

func (db *DB) guard(ctx context.Context, fn func(context.Context) error) error {
	if db.breaker == nil {
		return fn(ctx)
	}
	return db.breaker.Run(ctx, fn)
}

// Monitor returns the query monitor
func (db *DB) Monitor() *QueryMonitor {
	return db.monitor
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// Check if we can query
	err := db.Do(ctx, "SELECT 1", func(ctx context.Context, ex Executor) error {
		var result int
		return ex.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	})
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// PoolStats is the JSON view of sql.DBStats
type PoolStats struct {
	MaxOpenConnections int   `json:"max_open_connections"`
	OpenConnections    int   `json:"open_connections"`
	InUse              int   `json:"in_use"`
	Idle               int   `json:"idle"`
	WaitCount          int64 `json:"wait_count"`
	WaitDurationMs     int64 `json:"wait_duration_ms"`
}

// PoolStats returns database connection pool statistics
func (db *DB) PoolStats() PoolStats {
	s := db.DB.Stats()
	return PoolStats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDurationMs:     s.WaitDuration.Milliseconds(),
	}
}

// Schema is the DDL applied by InitSchema
const Schema = `
	CREATE TABLE IF NOT EXISTS inference_requests (
		id UUID PRIMARY KEY,
		request_id VARCHAR(255) NOT NULL,
		operation VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL,
		provider VARCHAR(50) NOT NULL DEFAULT '',
		model VARCHAR(100) NOT NULL DEFAULT '',
		prompt_hash VARCHAR(64) NOT NULL,
		tokens_used BIGINT,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		failure_kind VARCHAR(50),
		error_message TEXT,
		ip_address VARCHAR(45),
		user_agent TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_inference_requests_request_id ON inference_requests(request_id);
	CREATE INDEX IF NOT EXISTS idx_inference_requests_provider ON inference_requests(provider);
	CREATE INDEX IF NOT EXISTS idx_inference_requests_created_at ON inference_requests(created_at);
`

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	err := db.Do(ctx, Schema, func(ctx context.Context, ex Executor) error {
		_, err := ex.ExecContext(ctx, Schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
