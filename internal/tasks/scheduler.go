package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/witx/internal/shared"
)

// BatchFunc handles one contiguous batch. seq starts at 1.
type BatchFunc[T any] func(ctx context.Context, seq int, batch []T) error

// BatchCount returns the number of batches n items split into.
func BatchCount(n, batchSize int) int {
	if n <= 0 || batchSize <= 0 {
		return 0
	}
	return (n + batchSize - 1) / batchSize
}

// ForEachBatch partitions items into contiguous batches of batchSize and runs at most parallelism
// of them at a time.
//
// A batch that returns an error or panics is logged and does not affect its siblings. An error
// wrapping [shared.ErrFatal] stops dispatching further batches; it is returned once every batch
// already in flight has finished. ForEachBatch always waits for dispatched batches before
// returning, so callers can treat it as a phase barrier.
func ForEachBatch[T any](ctx context.Context, logger *log.Logger, items []T, batchSize, parallelism int, fn BatchFunc[T]) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", shared.ErrInvalidInput, batchSize)
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	total := BatchCount(len(items), batchSize)
	g := new(errgroup.Group)
	g.SetLimit(parallelism)

	var (
		mu    sync.Mutex
		fatal error
	)
	stopped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fatal != nil
	}
	setFatal := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if fatal == nil {
			fatal = err
		}
	}

	seq := 0
	for batch := range slices.Chunk(items, batchSize) {
		seq++
		if stopped() {
			logger.Warn("fatal error, not dispatching remaining batches", "next", seq, "total", total)
			break
		}
		if err := ctx.Err(); err != nil {
			setFatal(err)
			break
		}

		n := seq
		g.Go(func() error {
			// g.Go blocks while the limit is reached, so the state may have changed since dispatch
			if stopped() {
				return nil
			}
			if err := ctx.Err(); err != nil {
				setFatal(err)
				return nil
			}

			blog := shared.WithLogger(logger, "batch", n, "of", total)
			err := runBatch(ctx, n, batch, fn)
			switch {
			case err == nil:
				blog.Debug("batch completed", "size", len(batch))
			case errors.Is(err, shared.ErrFatal):
				blog.Error("batch failed fatally", "err", err)
				setFatal(err)
			default:
				blog.Error("batch failed", "size", len(batch), "err", err)
			}
			return nil
		})
	}

	_ = g.Wait()
	return fatal
}

func runBatch[T any](ctx context.Context, seq int, batch []T, fn BatchFunc[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch %d panicked: %v\n%s", seq, r, debug.Stack())
		}
	}()
	return fn(ctx, seq, batch)
}
