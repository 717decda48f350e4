package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestClassifyQuery(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT 1", QuerySelect},
		{"\n\t  select * from x", QuerySelect},
		{"INSERT INTO t VALUES ($1)", QueryInsert},
		{"update t set a = 1", QueryUpdate},
		{"DELETE FROM t", QueryDelete},
		{"WITH recent AS (SELECT 1) SELECT * FROM recent", QuerySelect},
		{"CREATE TABLE t (id int)", QueryOther},
		{"", QueryOther},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyQuery(tt.query))
		})
	}
}

func TestQueryMonitor_Record(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := NewQueryMonitor(100*time.Millisecond, zap.New(core))

	m.Record("SELECT 1", 50*time.Millisecond, nil)
	m.Record("SELECT 2", 250*time.Millisecond, nil)
	m.Record("INSERT INTO t", 10*time.Millisecond, errors.New("boom"))

	stats := m.Snapshot()
	sel := stats[QuerySelect]
	assert.Equal(t, int64(2), sel.Count)
	assert.Equal(t, 300*time.Millisecond, sel.TotalDuration)
	assert.Equal(t, 150*time.Millisecond, sel.AvgDuration)
	assert.Equal(t, int64(1), sel.SlowQueries)
	assert.Equal(t, int64(1), stats[QueryInsert].Errors)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "slow query", entry.Message)
	assert.Equal(t, "SELECT 2", entry.ContextMap()["query"])
}

func TestQueryMonitor_SnapshotIsCopy(t *testing.T) {
	m := NewQueryMonitor(0, nil)
	m.Record("SELECT 1", time.Millisecond, nil)

	snap := m.Snapshot()
	m.Record("SELECT 1", time.Millisecond, nil)
	assert.Equal(t, int64(1), snap[QuerySelect].Count)
	assert.Equal(t, int64(2), m.Snapshot()[QuerySelect].Count)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "a b c", compact("a\n  b\tc"))
}
