package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterIncrAndGet(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()
	ws := time.Unix(1_700_000_100, 0)

	for i := int64(1); i <= 3; i++ {
		n, err := c.Incr(ctx, "user-1", ws)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	n, err := c.Get(ctx, "user-1", ws)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Separate keys and separate windows do not share buckets.
	n, err = c.Get(ctx, "user-2", ws)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = c.Get(ctx, "user-1", ws.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemoryCounterPrunesElapsedWindows(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()
	ws := time.Unix(1_700_000_100, 0)

	_, err := c.Incr(ctx, "user-1", ws)
	require.NoError(t, err)

	// Incrementing in the next window drops the old bucket.
	next := ws.Add(time.Minute)
	_, err = c.Incr(ctx, "user-1", next)
	require.NoError(t, err)

	n, err := c.Get(ctx, "user-1", ws)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemoryCounterConcurrentIncr(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()
	ws := time.Unix(1_700_000_100, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Incr(ctx, "user-1", ws)
		}()
	}
	wg.Wait()

	n, err := c.Get(ctx, "user-1", ws)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
}
