package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestNoCacheComputesEveryTime(t *testing.T) {
	var calls int
	compute := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	c := NoCache[string, int]{}

	first, err := c.TryGetWith(context.Background(), "key", compute)
	require.NoError(t, err)
	second, err := c.TryGetWith(context.Background(), "key", compute)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestMapCacheMemoizesSuccess(t *testing.T) {
	var calls int
	compute := func(context.Context) (string, error) {
		calls++
		return "value", nil
	}

	c := NewMapCache[string, string]()

	first, err := c.TryGetWith(context.Background(), "key", compute)
	require.NoError(t, err)
	second, err := c.TryGetWith(context.Background(), "key", compute)
	require.NoError(t, err)

	assert.Equal(t, "value", first)
	assert.Equal(t, "value", second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, c.Len())
}

func TestMapCacheDoesNotCacheErrors(t *testing.T) {
	computeErr := errors.New("backend down")
	var calls int
	compute := func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", computeErr
		}
		return "value", nil
	}

	c := NewMapCache[string, string]()

	_, err := c.TryGetWith(context.Background(), "key", compute)
	require.ErrorIs(t, err, computeErr)
	assert.Equal(t, 0, c.Len())

	value, err := c.TryGetWith(context.Background(), "key", compute)
	require.NoError(t, err)
	assert.Equal(t, "value", value)
	assert.Equal(t, 2, calls)
}

func TestCoalescingCacheRunsComputeOnce(t *testing.T) {
	var calls atomic.Int64
	compute := func(context.Context) (int, error) {
		calls.Inc()
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	}

	c := NewCoalescingCache[string, int](16, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := c.TryGetWith(context.Background(), "key", compute)
			assert.NoError(t, err)
			assert.Equal(t, 42, value)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCoalescingCacheDoesNotCacheErrors(t *testing.T) {
	computeErr := errors.New("backend down")
	var calls int
	compute := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, computeErr
		}
		return 7, nil
	}

	c := NewCoalescingCache[string, int](16, 0, nil)

	_, err := c.TryGetWith(context.Background(), "key", compute)
	require.ErrorIs(t, err, computeErr)
	assert.Equal(t, 0, c.Len())

	value, err := c.TryGetWith(context.Background(), "key", compute)
	require.NoError(t, err)
	assert.Equal(t, 7, value)
}

func TestCoalescingCacheEvictsBySize(t *testing.T) {
	c := NewCoalescingCache[string, int](1, 0, nil)

	for i, key := range []string{"a", "b"} {
		value, err := c.TryGetWith(context.Background(), key, func(context.Context) (int, error) {
			return i, nil
		})
		require.NoError(t, err)
		require.Equal(t, i, value)
	}

	assert.Equal(t, 1, c.Len())

	// "a" was evicted, so it must be recomputed.
	var recomputed bool
	_, err := c.TryGetWith(context.Background(), "a", func(context.Context) (int, error) {
		recomputed = true
		return 0, nil
	})
	require.NoError(t, err)
	assert.True(t, recomputed)
}
