package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/state"
)

// Heartbeat periodically logs per-phase progress read from the state store.
type Heartbeat struct {
	store    *state.Store
	logger   *log.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeat creates a [Heartbeat]. An interval of zero or less disables it.
func NewHeartbeat(store *state.Store, logger *log.Logger, interval time.Duration) *Heartbeat {
	return &Heartbeat{store: store, logger: logger.With("component", "heartbeat"), interval: interval}
}

// Start launches the ticker goroutine. Stop must be called to release it.
func (h *Heartbeat) Start(ctx context.Context) {
	if h.interval <= 0 || h.cancel != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Beat()
			}
		}
	}()
}

// Stop ends the ticker goroutine and waits for it to exit.
func (h *Heartbeat) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.wg.Wait()
	h.cancel = nil
}

// Beat logs one progress line.
func (h *Heartbeat) Beat() {
	c := h.store.Counts()
	h.logger.Info("progress",
		"total", c.Total,
		"create", c.Create,
		"update", c.Update,
		"failed", c.Failed,
		"phase1", c.Completed[models.Phase1],
		"phase2", c.Completed[models.Phase2],
		"phase3", c.Completed[models.Phase3],
	)
}
