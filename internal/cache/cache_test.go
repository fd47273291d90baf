package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryCachePutGet(t *testing.T) {
	c := NewMemoryCache(1 << 20)
	ctx := context.Background()

	_, ok := c.Get(ctx, 1)
	require.False(t, ok)

	c.Put(ctx, 1, []byte("hello"), time.Hour)
	data, ok := c.Get(ctx, 1)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), data)
}

func TestMemoryCacheInvalidate(t *testing.T) {
	c := NewMemoryCache(1 << 20)
	ctx := context.Background()
	c.Put(ctx, 1, []byte("x"), 0)
	c.Invalidate(ctx, 1)
	_, ok := c.Get(ctx, 1)
	require.False(t, ok)
}

func TestMemoryCacheEvictsOldestWhenFull(t *testing.T) {
	c := NewMemoryCache(10)
	ctx := context.Background()
	c.Put(ctx, 1, []byte("0123456789"), 0) // exactly fills capacity
	c.Put(ctx, 2, []byte("abcde"), 0)      // forces eviction of photo 1

	_, ok := c.Get(ctx, 1)
	require.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get(ctx, 2)
	require.True(t, ok)
}

func TestMemoryCacheExpiresByTTL(t *testing.T) {
	c := NewMemoryCache(1 << 20)
	ctx := context.Background()
	c.Put(ctx, 1, []byte("x"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(ctx, 1)
	require.False(t, ok)
}
