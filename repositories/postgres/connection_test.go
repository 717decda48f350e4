package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/biped-api/services/breaker"
)

func newMockDB(t *testing.T, br *breaker.Breaker) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return Wrap(sqlDB, br, NewQueryMonitor(time.Second, zap.NewNop()), zap.NewNop()), mock
}

func TestDB_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		db, mock := newMockDB(t, nil)
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		assert.NoError(t, db.HealthCheck(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, int64(1), db.Monitor().Snapshot()[QuerySelect].Count)
	})

	t.Run("query fails", func(t *testing.T) {
		db, mock := newMockDB(t, nil)
		mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)

		err := db.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database health check failed")
		assert.Equal(t, int64(1), db.Monitor().Snapshot()[QuerySelect].Errors)
	})
}

func TestDB_BreakerTripsAfterFailures(t *testing.T) {
	set := breaker.NewSet(zap.NewNop(), breaker.DefaultSettings())
	set.Configure(breaker.Database, breaker.Settings{FailMax: 2, ResetTimeout: time.Minute, HalfOpenRequests: 1})
	br := set.Get(breaker.Database)

	db, mock := newMockDB(t, br)
	mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)
	mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)

	ctx := context.Background()
	require.Error(t, db.HealthCheck(ctx))
	require.Error(t, db.HealthCheck(ctx))
	assert.Equal(t, "open", br.State())

	// the open breaker short-circuits without touching the pool
	err := db.HealthCheck(ctx)
	assert.True(t, errors.Is(err, breaker.ErrOpen))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_InitSchema(t *testing.T) {
	db, mock := newMockDB(t, nil)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS inference_requests")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), db.Monitor().Snapshot()[QueryOther].Count)
}

func TestDB_InitSchemaError(t *testing.T) {
	db, mock := newMockDB(t, nil)
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	err := db.InitSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestDB_PoolStats(t *testing.T) {
	db, _ := newMockDB(t, nil)
	db.SetMaxOpenConns(7)

	assert.Equal(t, 7, db.PoolStats().MaxOpenConnections)
}

func TestWrap_Defaults(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := Wrap(sqlDB, nil, nil, nil)
	assert.NotNil(t, db.Monitor())
}
