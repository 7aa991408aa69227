package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) Cache {
	t.Helper()
	c, err := New(&Options{Backend: BackendMemory, DefaultTTL: time.Minute, MaxEntries: 4})
	require.NoError(t, err)
	return c
}

func TestMemoryCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, "shelf:r1:shelf 4", []byte("SH-01"), time.Minute))

	val, err := c.Get(ctx, "shelf:r1:shelf 4")
	require.NoError(t, err)
	assert.Equal(t, []byte("SH-01"), val)
}

func TestMemoryCache_MissingKey(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 5*time.Millisecond))
	time.Sleep(15 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryCache_BoundedSize(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, c.Set(ctx, k, []byte(k), time.Minute))
	}

	// The newest entry always survives eviction.
	val, err := c.Get(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("f"), val)
}

func TestNew_UnknownBackendFallsBackToMemory(t *testing.T) {
	c, err := New(&Options{Backend: "bogus"})
	require.NoError(t, err)
	_, ok := c.(*memoryCache)
	assert.True(t, ok)
}

func TestNew_NilOptions(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), 0))
}
