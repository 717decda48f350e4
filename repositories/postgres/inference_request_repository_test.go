package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/biped-api/models"
	"github.com/upb/biped-api/services"
	"github.com/upb/biped-api/services/breaker"
)

func TestInferenceRequestRepository_Create(t *testing.T) {
	db, mock := newMockDB(t, nil)
	repo := NewInferenceRequestRepository(db, zap.NewNop())

	tokens := int64(12)
	req := models.NewInferenceRequest("req-1", models.OperationChat, "chat:abc")
	req.MarkAsCompleted("anthropic", "claude-3-sonnet-20240229", &tokens, 420)
	req.SetRequestMetadata("10.0.0.1", "curl/8.0")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO inference_requests")).
		WithArgs(
			req.ID, "req-1", models.OperationChat, models.InferenceStatusCompleted,
			"anthropic", "claude-3-sonnet-20240229", "chat:abc",
			int64(12), int64(420), nil, nil,
			"10.0.0.1", "curl/8.0", sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), req))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), db.Monitor().Snapshot()[QueryInsert].Count)
}

func TestInferenceRequestRepository_CreateFailure(t *testing.T) {
	db, mock := newMockDB(t, nil)
	repo := NewInferenceRequestRepository(db, zap.NewNop())

	req := models.NewInferenceRequest("req-2", models.OperationComplete, "complete:1")
	req.MarkAsFailed("", "all_providers_failed", "all 2 providers failed", 900)

	mock.ExpectExec("INSERT INTO inference_requests").WillReturnError(errors.New("relation does not exist"))

	err := repo.Create(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create inference request")
	assert.ErrorIs(t, err, services.ErrDatabaseError)
	assert.True(t, services.IsInternalError(err))
}

func TestInferenceRequestRepository_BreakerOpenIsUnavailable(t *testing.T) {
	set := breaker.NewSet(zap.NewNop(), breaker.DefaultSettings())
	set.Configure(breaker.Database, breaker.Settings{FailMax: 1, ResetTimeout: time.Minute, HalfOpenRequests: 1})
	db, mock := newMockDB(t, set.Get(breaker.Database))
	repo := NewInferenceRequestRepository(db, zap.NewNop())

	mock.ExpectQuery("FROM inference_requests").WillReturnError(errors.New("connection refused"))

	_, err := repo.GetByRequestID(context.Background(), "req-1")
	require.Error(t, err)
	assert.True(t, services.IsInternalError(err))

	_, err = repo.GetByRequestID(context.Background(), "req-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrCircuitOpen)
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.True(t, services.IsUnavailableError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInferenceRequestRepository_GetByRequestID(t *testing.T) {
	db, mock := newMockDB(t, nil)
	repo := NewInferenceRequestRepository(db, zap.NewNop())

	id := uuid.New()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{
		"id", "request_id", "operation", "status", "provider", "model", "prompt_hash",
		"tokens_used", "latency_ms", "failure_kind", "error_message",
		"ip_address", "user_agent", "created_at", "completed_at",
	}
	rows := sqlmock.NewRows(columns).
		AddRow(id.String(), "req-1", "chat", "failed", "openai", "", "chat:abc",
			nil, int64(30), "quota_exceeded", "insufficient quota",
			"10.0.0.1", "curl/8.0", created, created)

	mock.ExpectQuery(regexp.QuoteMeta("FROM inference_requests")).
		WithArgs("req-1").
		WillReturnRows(rows)

	got, err := repo.GetByRequestID(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := got[0]
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, models.OperationChat, rec.Operation)
	assert.Equal(t, models.InferenceStatusFailed, rec.Status)
	assert.Nil(t, rec.TokensUsed)
	require.NotNil(t, rec.FailureKind)
	assert.Equal(t, "quota_exceeded", *rec.FailureKind)
	assert.Equal(t, created, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInferenceRequestRepository_UsageByProvider(t *testing.T) {
	db, mock := newMockDB(t, nil)
	repo := NewInferenceRequestRepository(db, zap.NewNop())

	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"provider", "requests", "failures", "tokens_used", "avg_latency_ms"}).
		AddRow("anthropic", int64(4), int64(0), int64(400), 210.5).
		AddRow("openai", int64(10), int64(3), int64(900), 180.0)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY bucket")).
		WithArgs(since).
		WillReturnRows(rows)

	usage, err := repo.UsageByProvider(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, []models.ProviderUsage{
		{Provider: "anthropic", Requests: 4, Failures: 0, TokensUsed: 400, AvgLatencyMs: 210.5},
		{Provider: "openai", Requests: 10, Failures: 3, TokensUsed: 900, AvgLatencyMs: 180},
	}, usage)
}

func TestInferenceRequestRepository_UsageByProviderCountsFailures(t *testing.T) {
	db, mock := newMockDB(t, nil)
	repo := NewInferenceRequestRepository(db, zap.NewNop())

	assert.NotContains(t, selectUsageByProvider, "provider <> ''")
	assert.Contains(t, selectUsageByProvider, "NULLIF(provider, '')")

	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"bucket", "requests", "failures", "tokens_used", "avg_latency_ms"}).
		AddRow("anthropic", int64(2), int64(2), int64(0), 40.0).
		AddRow("openai", int64(2), int64(2), int64(0), 35.0).
		AddRow(UnattributedProvider, int64(1), int64(1), int64(0), 0.0)

	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(NULLIF(provider, ''), 'unattributed')")).
		WithArgs(since).
		WillReturnRows(rows)

	usage, err := repo.UsageByProvider(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, usage, 3)

	var failures int64
	for _, u := range usage {
		assert.Equal(t, u.Requests, u.Failures, u.Provider)
		failures += u.Failures
	}
	assert.Equal(t, int64(5), failures)
	assert.Equal(t, "unattributed", usage[2].Provider)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInferenceRequestRepository_UsageByProviderEmpty(t *testing.T) {
	db, mock := newMockDB(t, nil)
	repo := NewInferenceRequestRepository(db, zap.NewNop())

	mock.ExpectQuery("GROUP BY bucket").
		WillReturnRows(sqlmock.NewRows([]string{"provider", "requests", "failures", "tokens_used", "avg_latency_ms"}))

	usage, err := repo.UsageByProvider(context.Background(), time.Now())
	require.NoError(t, err)
	assert.NotNil(t, usage)
	assert.Empty(t, usage)
}

func TestInferenceRequestRepository_DeleteOlderThan(t *testing.T) {
	db, mock := newMockDB(t, nil)
	repo := NewInferenceRequestRepository(db, zap.NewNop())

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM inference_requests")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestInferenceRequestRepository_InTransaction(t *testing.T) {
	db, mock := newMockDB(t, nil)
	repo := NewInferenceRequestRepository(db, zap.NewNop())
	tm := NewTxManager(db, zap.NewNop())

	t.Run("commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO inference_requests").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := tm.InTransaction(context.Background(), func(ctx context.Context) error {
			return repo.Create(ctx, models.NewInferenceRequest("tx-1", models.OperationChat, "h"))
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO inference_requests").WillReturnError(errors.New("duplicate key"))
		mock.ExpectRollback()

		err := tm.InTransaction(context.Background(), func(ctx context.Context) error {
			return repo.Create(ctx, models.NewInferenceRequest("tx-2", models.OperationChat, "h"))
		})
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested calls join the outer transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO inference_requests").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO inference_requests").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := tm.InTransaction(context.Background(), func(ctx context.Context) error {
			if err := repo.Create(ctx, models.NewInferenceRequest("tx-3", models.OperationChat, "h")); err != nil {
				return err
			}
			return tm.InTransaction(ctx, func(ctx context.Context) error {
				return repo.Create(ctx, models.NewInferenceRequest("tx-3", models.OperationComplete, "h"))
			})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("panic rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.Panics(t, func() {
			_ = tm.InTransaction(context.Background(), func(context.Context) error {
				panic("boom")
			})
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("schema applies atomically", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS inference_requests")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		require.NoError(t, tm.InTransaction(context.Background(), db.InitSchema))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepositoryFactory(t *testing.T) {
	db, _ := newMockDB(t, nil)
	f := NewRepositoryFactoryFromDB(db, zap.NewNop())

	assert.NotNil(t, f.NewRepositories().InferenceRequests)
	assert.NotNil(t, f.GetTransactionManager())
	assert.Same(t, db, f.GetDB())
}
