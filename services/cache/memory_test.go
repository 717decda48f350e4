package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	// miss
	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v1"), time.Minute))
	val, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), val)

	// overwrite keeps a single entry
	require.NoError(t, store.Set(ctx, "k", []byte("v2"), time.Minute))
	val, _, _ = store.Get(ctx, "k")
	assert.Equal(t, []byte("v2"), val)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	in := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", in, 0))
	in[0] = 'X'

	out, _, _ := store.Get(ctx, "k")
	assert.Equal(t, "abc", string(out))
	out[0] = 'Y'

	again, _, _ := store.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, store.Set(ctx, "forever", []byte("y"), 0))

	now = now.Add(2 * time.Second)

	_, ok, _ := store.Get(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestMemoryStore_LRUEviction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute))
	}

	// touch k0 so k1 becomes least recently used
	_, ok, _ := store.Get(ctx, "k0")
	require.True(t, ok)

	require.NoError(t, store.Set(ctx, "k3", []byte("v"), time.Minute))

	_, ok, _ = store.Get(ctx, "k1")
	assert.False(t, ok, "k1 should be evicted")
	for _, k := range []string{"k0", "k2", "k3"} {
		_, ok, _ = store.Get(ctx, k)
		assert.True(t, ok, k)
	}
}

func TestMemoryStore_DeletePattern(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	for _, k := range []string{"biped:chat:1", "biped:chat:2", "biped:complete:1", "other:chat:1"} {
		require.NoError(t, store.Set(ctx, k, []byte("v"), time.Minute))
	}

	n, err := store.DeletePattern(ctx, "biped:chat:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.DeletePattern(ctx, "biped:*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())

	_, err = store.DeletePattern(ctx, "[")
	assert.Error(t, err)
}

func TestMemoryStore_DeletePatternMatchesAcrossSeparators(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	for _, k := range []string{"chat:a/b", "chat:a/b/c", "chat:x", "complete:a/b"} {
		require.NoError(t, store.Set(ctx, k, []byte("v"), time.Minute))
	}

	n, err := store.DeletePattern(ctx, "chat:?/b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.DeletePattern(ctx, "chat:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err := store.Get(ctx, "complete:a/b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Hour))
	now = now.Add(time.Minute)

	assert.Equal(t, 1, store.CleanupExpired())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_CleanupWorkerStops(t *testing.T) {
	store := NewMemoryStore(10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.StartCleanupWorker(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop")
	}
}
