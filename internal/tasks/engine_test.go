package tasks

import (
	"context"
	"fmt"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/retry"
	"github.com/desertthunder/witx/internal/shared"
	tu "github.com/desertthunder/witx/internal/testing"
)

type engineFixture struct {
	cfg    *shared.Config
	source *tu.MockService
	target *tu.MockService
	audit  *auditRecorder
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	cfg := shared.DefaultConfig()
	cfg.Migration.BatchSize = 2
	cfg.Migration.Parallelism = 1
	cfg.Migration.HeartbeatSeconds = 0
	cfg.Migration.CreateNew = true
	cfg.Migration.UpdateModified = true
	cfg.Processors.MoveAttachments = false
	cfg.Processors.MoveComments = false
	cfg.Processors.MoveLinks = false
	cfg.Processors.MoveHistory = false
	cfg.Processors.MoveGitLinks = false
	cfg.Processors.TargetPostMoveTag = "migrated"

	return &engineFixture{
		cfg:    cfg,
		source: tu.NewMockService(srcAccount, "src"),
		target: tu.NewMockService(tgtAccount, "tgt"),
		audit:  &auditRecorder{},
	}
}

func (f *engineFixture) engine() *MigrationEngine {
	executor := retry.NewExecutor(
		retry.Policy{MaxAttempts: 3, UnknownMaxAttempts: 2, DelayIncrement: time.Millisecond},
		nil,
		retry.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	return NewMigrationEngine(EngineConfig{
		Config:   f.cfg,
		Source:   f.source,
		Target:   f.target,
		Executor: executor,
		Audit:    f.audit,
		RunID:    "run-1",
	})
}

func (f *engineFixture) addSources(ids ...int) {
	for _, id := range ids {
		f.source.Add(&models.WorkItem{ID: id, Fields: map[string]any{
			models.FieldWorkItemType: "Task",
			models.FieldTitle:        fmt.Sprintf("Item %d", id),
		}})
	}
}

func sourceURI(id int) string { return models.WorkItemURL(srcAccount, id) }

// referencesSource reports whether any request carries the back-link of source id.
func referencesSource(reqs []models.BatchRequest, id int) bool {
	for _, r := range reqs {
		for _, op := range r.Body {
			if rel, ok := op.Value.(models.Relation); ok && rel.URL == sourceURI(id) {
				return true
			}
		}
	}
	return false
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates every source item in three phases", func(t *testing.T) {
		f := newEngineFixture(t)
		f.addSources(1, 2, 3)
		e := f.engine()

		summary, err := e.Migrate(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, summary.Total)
		assert.Equal(t, 3, summary.Created)
		assert.Zero(t, summary.Failed)
		assert.Len(t, summary.Ledger, 3)

		for _, id := range []int{1, 2, 3} {
			rec, ok := e.Store().Get(id)
			require.True(t, ok)
			assert.Equal(t, models.ActionCreate, rec.Action)
			assert.True(t, rec.Completed.Has(models.Phase1|models.Phase2|models.Phase3), "record %d completed %s", id, rec.Completed)
			assert.False(t, rec.Failed())

			target := f.target.Item(rec.TargetID)
			require.NotNil(t, target)
			assert.Equal(t, fmt.Sprintf("Item %d", id), target.StringField(models.FieldTitle))
			assert.Equal(t, "migrated", target.StringField(models.FieldTags))

			_, link := models.FindBackLink(target, sourceURI(id))
			require.NotNil(t, link)
			marker, err := models.ParseMarker(link.Comment())
			require.NoError(t, err)
			assert.Equal(t, 1, marker.Rev)
		}
	})

	t.Run("a failed batch write marks only its own records", func(t *testing.T) {
		f := newEngineFixture(t)
		f.addSources(1, 2, 3, 4, 5, 6)
		f.cfg.Migration.Parallelism = 2
		f.cfg.Processors.SourcePostMoveTag = "moved"
		f.target.BatchFn = func(_ context.Context, reqs []models.BatchRequest) ([]models.BatchResponse, error) {
			if referencesSource(reqs, 3) {
				return nil, fmt.Errorf("post $batch: %w", syscall.ECONNRESET)
			}
			return f.target.ApplyBatch(reqs), nil
		}
		e := f.engine()

		summary, err := e.Migrate(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 4, summary.Created)
		assert.Equal(t, 2, summary.Failed)
		assert.Equal(t, []int{3, 4}, summary.FailedByReason["CriticalError"])

		for _, id := range []int{3, 4} {
			rec, _ := e.Store().Get(id)
			assert.Equal(t, models.FailureCriticalError, rec.Failure)
			assert.Zero(t, rec.Completed)
			assert.Zero(t, rec.TargetID)
		}
		for _, id := range []int{1, 2, 5, 6} {
			rec, _ := e.Store().Get(id)
			assert.False(t, rec.Failed(), "record %d", id)
			assert.True(t, rec.Completed.Has(models.Phase3), "record %d", id)
		}

		assert.Equal(t, "moved", f.source.Item(1).StringField(models.FieldTags))
		assert.Empty(t, f.source.Item(3).StringField(models.FieldTags))

		audits := f.audit.all()
		require.Len(t, audits, 1)
		assert.Equal(t, []int{3, 4}, audits[0].SourceIDs)
		assert.Equal(t, models.Phase1.String(), audits[0].Phase)
	})

	t.Run("an overwrite that did not land is retried instead of verified", func(t *testing.T) {
		f := newEngineFixture(t)
		f.cfg.Migration.Overwrite = true
		f.cfg.Migration.VerifyOnFailure = true
		f.source.Add(&models.WorkItem{ID: 1, Rev: 5, Fields: map[string]any{
			models.FieldWorkItemType: "Task",
			models.FieldTitle:        "new title",
		}})
		f.target.Add(&models.WorkItem{ID: 900, Fields: map[string]any{models.FieldTitle: "old title"}, Relations: []models.Relation{
			models.NewBackLink(sourceURI(1), models.Marker{Rev: 5}),
		}})
		var calls atomic.Int32
		f.target.BatchFn = func(_ context.Context, reqs []models.BatchRequest) ([]models.BatchResponse, error) {
			if calls.Add(1) == 1 {
				return nil, fmt.Errorf("post $batch: %w", syscall.ECONNRESET)
			}
			return f.target.ApplyBatch(reqs), nil
		}
		e := f.engine()

		summary, err := e.Migrate(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Updated)
		assert.Zero(t, summary.Failed)
		assert.Equal(t, "new title", f.target.Item(900).StringField(models.FieldTitle))
		assert.EqualValues(t, 3, calls.Load(), "phase 1 twice, then phase 3")

		rec, _ := e.Store().Get(1)
		assert.True(t, rec.Completed.Has(models.Phase1))
	})

	t.Run("an overwrite that landed before the error is verified", func(t *testing.T) {
		f := newEngineFixture(t)
		f.cfg.Migration.Overwrite = true
		f.cfg.Migration.VerifyOnFailure = true
		f.source.Add(&models.WorkItem{ID: 1, Rev: 5, Fields: map[string]any{
			models.FieldWorkItemType: "Task",
			models.FieldTitle:        "new title",
		}})
		f.target.Add(&models.WorkItem{ID: 900, Fields: map[string]any{models.FieldTitle: "old title"}, Relations: []models.Relation{
			models.NewBackLink(sourceURI(1), models.Marker{Rev: 5}),
		}})
		var calls atomic.Int32
		f.target.BatchFn = func(_ context.Context, reqs []models.BatchRequest) ([]models.BatchResponse, error) {
			resp := f.target.ApplyBatch(reqs)
			if calls.Add(1) == 1 {
				return nil, fmt.Errorf("post $batch: %w", syscall.ECONNRESET)
			}
			return resp, nil
		}
		e := f.engine()

		summary, err := e.Migrate(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Updated)
		assert.Zero(t, summary.Failed)
		assert.Equal(t, "new title", f.target.Item(900).StringField(models.FieldTitle))
		assert.EqualValues(t, 2, calls.Load(), "phase 1 once, then phase 3")
	})

	t.Run("a response count mismatch aborts the run", func(t *testing.T) {
		f := newEngineFixture(t)
		f.addSources(1, 2, 3, 4, 5, 6)
		f.target.BatchFn = func(context.Context, []models.BatchRequest) ([]models.BatchResponse, error) {
			return []models.BatchResponse{{Code: 200, Body: `{}`}, {Code: 200, Body: `{}`}, {Code: 200, Body: `{}`}}, nil
		}
		e := f.engine()

		summary, err := e.Migrate(ctx, nil)
		require.ErrorIs(t, err, shared.ErrResponseCountMismatch)
		assert.ErrorIs(t, err, shared.ErrFatal)
		assert.NotEmpty(t, summary.Error)
		assert.Equal(t, 1, f.target.ExecuteBatchCount())

		for _, id := range []int{1, 2, 3, 4, 5, 6} {
			rec, _ := e.Store().Get(id)
			assert.Zero(t, rec.Completed, "record %d", id)
		}
	})

	t.Run("reports progress", func(t *testing.T) {
		f := newEngineFixture(t)
		f.addSources(1, 2, 3)
		progress := make(chan ProgressUpdate, 64)

		_, err := f.engine().Migrate(ctx, progress)
		require.NoError(t, err)
		close(progress)

		seen := map[Phase]bool{}
		var last ProgressUpdate
		for u := range progress {
			seen[u.Phase] = true
			last = u
		}
		assert.True(t, seen[Identify])
		assert.True(t, seen[CoreFields])
		assert.True(t, seen[Enrichment])
		assert.True(t, seen[Finalize])
		assert.Equal(t, Summarize, last.Phase)
		assert.IsType(t, &models.RunSummary{}, last.Data)
	})
}

func TestIdentify(t *testing.T) {
	ctx := context.Background()

	t.Run("decides actions from back-links", func(t *testing.T) {
		f := newEngineFixture(t)
		f.cfg.Migration.CreateNew = false
		f.addSources(1, 2, 3)
		f.target.Add(&models.WorkItem{ID: 900, Relations: []models.Relation{
			models.NewBackLink(sourceURI(1), models.Marker{Rev: 1}),
		}})
		f.target.Add(&models.WorkItem{ID: 901, Relations: []models.Relation{models.NewBackLink(sourceURI(2), models.Marker{Rev: 1})}})
		f.target.Add(&models.WorkItem{ID: 902, Relations: []models.Relation{models.NewBackLink(sourceURI(2), models.Marker{Rev: 1})}})
		e := f.engine()

		summary, err := e.Validate(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, summary.Total)
		assert.Equal(t, 2, summary.Skipped)
		assert.Equal(t, 1, summary.Failed)

		up, _ := e.Store().Get(1)
		assert.Equal(t, models.ActionUpdate, up.Action)
		assert.Equal(t, 900, up.TargetID)
		assert.Zero(t, up.Requirement)

		dup, _ := e.Store().Get(2)
		assert.Equal(t, models.FailureDuplicateTargetLink, dup.Failure)

		none, _ := e.Store().Get(3)
		assert.Equal(t, models.ActionNone, none.Action)
		assert.Zero(t, f.target.ExecuteBatchCount())
	})

	t.Run("a changed source revision needs both phases", func(t *testing.T) {
		f := newEngineFixture(t)
		f.source.Add(&models.WorkItem{ID: 1, Rev: 7, Fields: map[string]any{models.FieldWorkItemType: "Bug"}})
		f.target.Add(&models.WorkItem{ID: 900, Relations: []models.Relation{
			models.NewBackLink(sourceURI(1), models.Marker{Rev: 5}),
		}})
		e := f.engine()

		_, err := e.Validate(ctx, nil)
		require.NoError(t, err)

		rec, _ := e.Store().Get(1)
		assert.Equal(t, models.NeedsPhase1Update|models.NeedsPhase2Update, rec.Requirement)
		assert.Equal(t, 7, rec.SourceRev)
	})

	t.Run("a newly enabled step needs enrichment only", func(t *testing.T) {
		f := newEngineFixture(t)
		f.cfg.Processors.MoveAttachments = true
		f.cfg.Processors.MoveComments = true
		f.source.Add(&models.WorkItem{ID: 1, Rev: 5, Fields: map[string]any{models.FieldWorkItemType: "Task"}})
		f.target.Add(&models.WorkItem{ID: 900, Relations: []models.Relation{
			models.NewBackLink(sourceURI(1), models.Marker{Rev: 5, Steps: []string{"attachments"}}),
		}})
		e := f.engine()

		summary, err := e.Validate(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Updated)

		rec, _ := e.Store().Get(1)
		assert.Equal(t, models.ActionUpdate, rec.Action)
		assert.True(t, rec.Requirement.Has(models.NeedsPhase2Update))
		assert.False(t, rec.Requirement.Has(models.NeedsPhase1Update))
	})

	t.Run("an unreadable marker is treated as stale", func(t *testing.T) {
		f := newEngineFixture(t)
		f.addSources(1)
		f.target.Add(&models.WorkItem{ID: 900, Relations: []models.Relation{
			{Rel: models.RelHyperlink, URL: sourceURI(1), Attributes: map[string]any{"comment": "migrated by hand"}},
		}})
		e := f.engine()

		_, err := e.Validate(ctx, nil)
		require.NoError(t, err)

		rec, _ := e.Store().Get(1)
		assert.Equal(t, models.NeedsPhase1Update|models.NeedsPhase2Update, rec.Requirement)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.cfg.Processors.MoveAttachments = true
	f.cfg.Processors.MoveComments = true
	f.source.Add(&models.WorkItem{ID: 1, Rev: 5, Fields: map[string]any{models.FieldWorkItemType: "Task"}})
	f.source.Comments[1] = []models.Comment{{
		ID:          1,
		Text:        "looks good",
		CreatedBy:   models.IdentityRef{DisplayName: "Alex"},
		CreatedDate: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}}
	f.target.Add(&models.WorkItem{ID: 900, Relations: []models.Relation{
		models.NewBackLink(sourceURI(1), models.Marker{Rev: 5, Steps: []string{"attachments"}}),
	}})

	first := f.engine()
	summary, err := first.Migrate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	rec, _ := first.Store().Get(1)
	assert.False(t, rec.Completed.Has(models.Phase1))
	assert.True(t, rec.Completed.Has(models.Phase2))
	assert.True(t, rec.Completed.Has(models.Phase3))
	assert.Equal(t, 1, f.target.UpdateCalls[900])

	_, link := models.FindBackLink(f.target.Item(900), sourceURI(1))
	require.NotNil(t, link)
	marker, err := models.ParseMarker(link.Comment())
	require.NoError(t, err)
	assert.Equal(t, []string{"attachments", "comments"}, marker.Steps)
	assert.Equal(t, 5, marker.Rev)

	second := f.engine()
	summary, err = second.Validate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Updated)

	again, _ := second.Store().Get(1)
	assert.Zero(t, again.Requirement)
}
