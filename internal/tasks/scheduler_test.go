package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/desertthunder/witx/internal/shared"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seqInts(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestBatchCount(t *testing.T) {
	assert.Equal(t, 0, BatchCount(0, 10))
	assert.Equal(t, 1, BatchCount(3, 10))
	assert.Equal(t, 3, BatchCount(6, 2))
	assert.Equal(t, 4, BatchCount(7, 2))
	assert.Equal(t, 0, BatchCount(7, 0))
}

func TestForEachBatch(t *testing.T) {
	t.Run("partitions into contiguous numbered batches", func(t *testing.T) {
		var mu sync.Mutex
		got := map[int][]int{}

		err := ForEachBatch(context.Background(), nil, seqInts(7), 3, 2, func(_ context.Context, seq int, batch []int) error {
			mu.Lock()
			defer mu.Unlock()
			got[seq] = slices.Clone(batch)
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, map[int][]int{1: {1, 2, 3}, 2: {4, 5, 6}, 3: {7}}, got)
	})

	t.Run("empty input runs nothing", func(t *testing.T) {
		called := false
		err := ForEachBatch(context.Background(), nil, []int{}, 3, 2, func(context.Context, int, []int) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("rejects a non-positive batch size", func(t *testing.T) {
		err := ForEachBatch(context.Background(), nil, seqInts(3), 0, 1, func(context.Context, int, []int) error { return nil })
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("never exceeds parallelism", func(t *testing.T) {
		var running, peak atomic.Int32

		err := ForEachBatch(context.Background(), nil, seqInts(20), 1, 3, func(context.Context, int, []int) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})

		require.NoError(t, err)
		assert.LessOrEqual(t, peak.Load(), int32(3))
		assert.GreaterOrEqual(t, peak.Load(), int32(1))
	})

	t.Run("a failing batch does not affect siblings", func(t *testing.T) {
		var done atomic.Int32

		err := ForEachBatch(context.Background(), nil, seqInts(6), 2, 2, func(_ context.Context, seq int, _ []int) error {
			if seq == 2 {
				return errors.New("transport error")
			}
			done.Add(1)
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, int32(2), done.Load())
	})

	t.Run("a panicking batch is isolated", func(t *testing.T) {
		var done atomic.Int32

		err := ForEachBatch(context.Background(), nil, seqInts(6), 2, 1, func(_ context.Context, seq int, _ []int) error {
			if seq == 1 {
				panic("boom")
			}
			done.Add(1)
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, int32(2), done.Load())
	})

	t.Run("a fatal error stops dispatch and is returned", func(t *testing.T) {
		var seen []int

		err := ForEachBatch(context.Background(), nil, seqInts(10), 2, 1, func(_ context.Context, seq int, _ []int) error {
			seen = append(seen, seq)
			if seq == 2 {
				return fmt.Errorf("%w: response count mismatch", shared.ErrFatal)
			}
			return nil
		})

		require.ErrorIs(t, err, shared.ErrFatal)
		assert.Equal(t, []int{1, 2}, seen)
	})

	t.Run("a cancelled context stops dispatch", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var calls atomic.Int32

		err := ForEachBatch(ctx, nil, seqInts(10), 1, 1, func(context.Context, int, []int) error {
			if calls.Add(1) == 2 {
				cancel()
			}
			return nil
		})

		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("waits for every dispatched batch", func(t *testing.T) {
		var finished atomic.Int32

		err := ForEachBatch(context.Background(), nil, seqInts(8), 1, 4, func(context.Context, int, []int) error {
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, int32(8), finished.Load())
	})
}
