package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/biped-api/models"
	"github.com/upb/biped-api/repositories"
	"github.com/upb/biped-api/services"
	"github.com/upb/biped-api/services/breaker"
)

// storeError classifies a failed statement. A rejected call from the database
// breaker reports unavailable; anything else is a database error.
func storeError(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if errors.Is(err, breaker.ErrOpen) {
		return services.ErrCircuitOpen.Wrap(wrapped)
	}
	return services.ErrDatabaseError.Wrap(wrapped)
}

// InferenceRequestRepository implements the repositories.InferenceRequestRepository interface
type InferenceRequestRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewInferenceRequestRepository creates a new inference request repository
func NewInferenceRequestRepository(db *DB, logger *zap.Logger) repositories.InferenceRequestRepository {
	return &InferenceRequestRepository{
		db:     db,
		logger: logger,
	}
}

const insertInferenceRequest = `
	INSERT INTO inference_requests (
		id, request_id, operation, status, provider, model, prompt_hash,
		tokens_used, latency_ms, failure_kind, error_message,
		ip_address, user_agent, created_at, completed_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
	)
`

// Create records an orchestrated call
func (r *InferenceRequestRepository) Create(ctx context.Context, req *models.InferenceRequest) error {
	err := r.db.Do(ctx, insertInferenceRequest, func(ctx context.Context, ex Executor) error {
		_, err := ex.ExecContext(ctx, insertInferenceRequest,
			req.ID,
			req.RequestID,
			req.Operation,
			req.Status,
			req.Provider,
			req.Model,
			req.PromptHash,
			req.TokensUsed,
			req.LatencyMs,
			req.FailureKind,
			req.ErrorMessage,
			req.IPAddress,
			req.UserAgent,
			req.CreatedAt,
			req.CompletedAt,
		)
		return err
	})
	if err != nil {
		return storeError("failed to create inference request", err)
	}

	r.logger.Debug("inference request created", zap.String("id", req.ID.String()), zap.String("request_id", req.RequestID))
	return nil
}

const selectByRequestID = `
	SELECT id, request_id, operation, status, provider, model, prompt_hash,
	       tokens_used, latency_ms, failure_kind, error_message,
	       ip_address, user_agent, created_at, completed_at
	FROM inference_requests
	WHERE request_id = $1
	ORDER BY created_at ASC
`

// GetByRequestID retrieves the records of one external request
func (r *InferenceRequestRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.InferenceRequest, error) {
	var requests []*models.InferenceRequest
	err := r.db.Do(ctx, selectByRequestID, func(ctx context.Context, ex Executor) error {
		rows, err := ex.QueryContext(ctx, selectByRequestID, requestID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			req := &models.InferenceRequest{}
			err := rows.Scan(
				&req.ID,
				&req.RequestID,
				&req.Operation,
				&req.Status,
				&req.Provider,
				&req.Model,
				&req.PromptHash,
				&req.TokensUsed,
				&req.LatencyMs,
				&req.FailureKind,
				&req.ErrorMessage,
				&req.IPAddress,
				&req.UserAgent,
				&req.CreatedAt,
				&req.CompletedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to scan inference request: %w", err)
			}
			requests = append(requests, req)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeError("failed to get inference requests", err)
	}
	return requests, nil
}

// UnattributedProvider groups records of sequences that ended before any provider was tried
const UnattributedProvider = "unattributed"

const selectUsageByProvider = `
	SELECT COALESCE(NULLIF(provider, ''), '` + UnattributedProvider + `') AS bucket,
	       COUNT(*) AS requests,
	       COUNT(CASE WHEN status = 'failed' THEN 1 END) AS failures,
	       COALESCE(SUM(tokens_used), 0) AS tokens_used,
	       COALESCE(AVG(latency_ms), 0) AS avg_latency_ms
	FROM inference_requests
	WHERE created_at >= $1
	GROUP BY bucket
	ORDER BY bucket
`

// UsageByProvider aggregates calls created at or after since, one row per provider.
// Records without a provider are reported under UnattributedProvider.
func (r *InferenceRequestRepository) UsageByProvider(ctx context.Context, since time.Time) ([]models.ProviderUsage, error) {
	usage := []models.ProviderUsage{}
	err := r.db.Do(ctx, selectUsageByProvider, func(ctx context.Context, ex Executor) error {
		rows, err := ex.QueryContext(ctx, selectUsageByProvider, since)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var u models.ProviderUsage
			if err := rows.Scan(&u.Provider, &u.Requests, &u.Failures, &u.TokensUsed, &u.AvgLatencyMs); err != nil {
				return fmt.Errorf("failed to scan provider usage: %w", err)
			}
			usage = append(usage, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeError("failed to get provider usage", err)
	}
	return usage, nil
}

const deleteOlderThan = `DELETE FROM inference_requests WHERE created_at < $1`

// DeleteOlderThan removes records created before cutoff
func (r *InferenceRequestRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := r.db.Do(ctx, deleteOlderThan, func(ctx context.Context, ex Executor) error {
		result, err := ex.ExecContext(ctx, deleteOlderThan, cutoff)
		if err != nil {
			return err
		}
		removed, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, storeError("failed to delete old inference requests", err)
	}

	r.logger.Info("deleted old inference requests",
		zap.Int64("rows_deleted", removed),
		zap.Time("cutoff_time", cutoff))
	return removed, nil
}
