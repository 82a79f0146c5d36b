package tasks

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/state"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHeartbeat(t *testing.T) {
	store := state.NewStore()
	require.NoError(t, store.Upsert(models.MigrationRecord{SourceID: 1, SourceURI: "a", Action: models.ActionCreate, Completed: models.Phase1}))
	require.NoError(t, store.Upsert(models.MigrationRecord{SourceID: 2, SourceURI: "b", Action: models.ActionUpdate, Failure: models.FailureBadRequest}))

	t.Run("logs counts until stopped", func(t *testing.T) {
		var out syncBuffer
		h := NewHeartbeat(store, log.NewWithOptions(&out, log.Options{Formatter: log.LogfmtFormatter}), 5*time.Millisecond)

		h.Start(context.Background())
		assert.Eventually(t, func() bool { return strings.Contains(out.String(), "msg=progress") }, time.Second, 5*time.Millisecond)
		h.Stop()

		line := strings.SplitN(out.String(), "\n", 2)[0]
		assert.Contains(t, line, "component=heartbeat")
		assert.Contains(t, line, "total=2")
		assert.Contains(t, line, "failed=1")
		assert.Contains(t, line, "phase1=1")
	})

	t.Run("disabled with a zero interval", func(t *testing.T) {
		var out syncBuffer
		h := NewHeartbeat(store, log.New(&out), 0)

		h.Start(context.Background())
		time.Sleep(10 * time.Millisecond)
		h.Stop()
		assert.Empty(t, out.String())
	})

	t.Run("stops with its context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		h := NewHeartbeat(store, log.New(&syncBuffer{}), time.Millisecond)

		h.Start(ctx)
		cancel()
		h.Stop()
		h.Stop()
	})
}
