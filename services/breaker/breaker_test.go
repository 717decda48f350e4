package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errBoom = errors.New("boom")

func failing(calls *int) func(context.Context) (interface{}, error) {
	return func(context.Context) (interface{}, error) {
		*calls++
		return nil, errBoom
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	set := NewSet(zaptest.NewLogger(t), Settings{FailMax: 3, ResetTimeout: time.Minute})
	b := set.Get(OpenAI)

	calls := 0
	for i := 0; i < 3; i++ {
		_, err := b.Execute(context.Background(), failing(&calls))
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, "open", b.State())

	_, err := b.Execute(context.Background(), failing(&calls))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 3, calls, "open breaker must not run the operation")
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	set := NewSet(zaptest.NewLogger(t), Settings{FailMax: 2, ResetTimeout: time.Minute})
	b := set.Get(Anthropic)
	ctx := context.Background()

	calls := 0
	_, _ = b.Execute(ctx, failing(&calls))
	out, err := b.Execute(ctx, func(context.Context) (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	_, _ = b.Execute(ctx, failing(&calls))

	assert.Equal(t, "closed", b.State())
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	set := NewSet(zaptest.NewLogger(t), Settings{FailMax: 1, ResetTimeout: time.Minute})
	b := set.Get(OpenAI)

	err := b.Run(context.Background(), func(context.Context) error {
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_CallerDeadline(t *testing.T) {
	t.Run("expired caller deadline is not a failure", func(t *testing.T) {
		set := NewSet(zaptest.NewLogger(t), Settings{FailMax: 1, ResetTimeout: time.Minute})
		b := set.Get(Anthropic)

		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()

		err := b.Run(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, "closed", b.State())

		var done callerDone
		assert.False(t, errors.As(err, &done), "marker must not leak to callers")
	})

	t.Run("dependency timeout with a live caller counts", func(t *testing.T) {
		set := NewSet(zaptest.NewLogger(t), Settings{FailMax: 1, ResetTimeout: time.Minute})
		b := set.Get(Anthropic)

		err := b.Run(context.Background(), func(context.Context) error {
			return context.DeadlineExceeded
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, "open", b.State())
	})
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	set := NewSet(zaptest.NewLogger(t), Settings{FailMax: 1, ResetTimeout: 20 * time.Millisecond})
	b := set.Get(Database)

	calls := 0
	_, _ = b.Execute(context.Background(), failing(&calls))
	assert.Equal(t, "open", b.State())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, "half-open", b.State())

	err := b.Run(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "closed", b.State())
}

func TestSet(t *testing.T) {
	t.Run("same name returns same breaker", func(t *testing.T) {
		set := NewSet(nil, DefaultSettings())
		assert.Same(t, set.Get(OpenAI), set.Get(OpenAI))
		assert.NotSame(t, set.Get(OpenAI), set.Get(Anthropic))
	})

	t.Run("configured settings apply per name", func(t *testing.T) {
		set := NewSet(zaptest.NewLogger(t), DefaultSettings())
		set.Configure(Database, Settings{FailMax: 1, ResetTimeout: time.Minute})

		calls := 0
		_, _ = set.Get(Database).Execute(context.Background(), failing(&calls))
		_, _ = set.Get(OpenAI).Execute(context.Background(), failing(&calls))

		assert.Equal(t, map[string]string{
			Database: "open",
			OpenAI:   "closed",
		}, set.States())
	})

	t.Run("snapshot is sorted and counts failures", func(t *testing.T) {
		set := NewSet(zaptest.NewLogger(t), DefaultSettings())
		calls := 0
		_, _ = set.Get(OpenAI).Execute(context.Background(), failing(&calls))
		set.Get(Anthropic)

		snap := set.Snapshot()
		require.Len(t, snap, 2)
		assert.Equal(t, Anthropic, snap[0].Name)
		assert.Equal(t, OpenAI, snap[1].Name)
		assert.Equal(t, uint32(1), snap[1].ConsecutiveFailures)
	})

	t.Run("listeners observe transitions", func(t *testing.T) {
		set := NewSet(zaptest.NewLogger(t), Settings{FailMax: 1, ResetTimeout: time.Minute})
		var seen []string
		set.OnStateChange(func(name, from, to string) {
			seen = append(seen, name+":"+from+"->"+to)
		})

		calls := 0
		_, _ = set.Get(OpenAI).Execute(context.Background(), failing(&calls))
		assert.Equal(t, []string{"openai:closed->open"}, seen)
	})
}
