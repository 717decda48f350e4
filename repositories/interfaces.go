package repositories

import (
	"context"
	"time"

	"github.com/upb/biped-api/models"
)

// TransactionManager runs a unit of work in one database transaction
type TransactionManager interface {
	// InTransaction commits when fn succeeds and rolls back when it fails.
	// Repository calls made with the ctx passed to fn join the transaction.
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// InferenceRequestRepository handles inference request data operations
type InferenceRequestRepository interface {
	// Create records an orchestrated call
	Create(ctx context.Context, req *models.InferenceRequest) error

	// GetByRequestID retrieves the records of one external request
	GetByRequestID(ctx context.Context, requestID string) ([]*models.InferenceRequest, error)

	// UsageByProvider aggregates calls created at or after since, one row per provider
	UsageByProvider(ctx context.Context, since time.Time) ([]models.ProviderUsage, error)

	// DeleteOlderThan removes records created before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	InferenceRequests InferenceRequestRepository
}
