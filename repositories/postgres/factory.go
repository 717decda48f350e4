package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/upb/biped-api/config"
	"github.com/upb/biped-api/repositories"
	"github.com/upb/biped-api/services/breaker"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory opens the database and creates a new repository factory
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, br *breaker.Breaker, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(ctx, cfg.Database, br, logger.Named("database"))
	if err != nil {
		return nil, err
	}
	return NewRepositoryFactoryFromDB(db, logger), nil
}

// NewRepositoryFactoryFromDB creates a factory over an open DB
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		InferenceRequests: NewInferenceRequestRepository(f.db, f.logger.Named("inference_requests")),
	}
}

// GetTransactionManager returns a transaction manager over the factory's database
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTxManager(f.db, f.logger.Named("tx"))
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
