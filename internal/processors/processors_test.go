package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
)

const sourceURI = "https://source.example.com/org/_apis/wit/workItems/1"

// stubStep emits one operation per record, tagged with its name.
type stubStep struct {
	name    string
	order   int
	enabled bool
	calls   int
}

func (s *stubStep) Name() string                                           { return s.name }
func (s *stubStep) Order() int                                             { return s.order }
func (s *stubStep) Enabled(shared.ProcessorsConfig) bool                   { return s.enabled }
func (s *stubStep) Preprocess(context.Context, *models.BatchContext) error { return nil }

func (s *stubStep) Process(context.Context, *models.BatchContext, Item) ([]models.PatchOperation, error) {
	s.calls++
	return []models.PatchOperation{models.AddField("Custom."+s.name, s.name)}, nil
}

func paths(ops []models.PatchOperation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Path
	}
	return out
}

func TestPipeline(t *testing.T) {
	bc := models.NewBatchContext(1, []int{1})

	t.Run("Orders Steps Stably", func(t *testing.T) {
		p := New(shared.ProcessorsConfig{}, nil, []Step{
			&stubStep{name: "c", order: 3, enabled: true},
			&stubStep{name: "a", order: 1, enabled: true},
			&stubStep{name: "b1", order: 2, enabled: true},
			&stubStep{name: "b2", order: 2, enabled: true},
		}, nil)

		var names []string
		for _, s := range p.Steps() {
			names = append(names, s.Name())
		}
		assert.Equal(t, []string{"a", "b1", "b2", "c"}, names)

		ops, err := p.Process(context.Background(), bc, Item{Record: models.MigrationRecord{SourceID: 1}})
		require.NoError(t, err)
		assert.Equal(t, []string{"/fields/Custom.a", "/fields/Custom.b1", "/fields/Custom.b2", "/fields/Custom.c"}, paths(ops))
	})

	t.Run("Disabled Step Contributes Nothing", func(t *testing.T) {
		disabled := &stubStep{name: "comments", order: 2}
		p := New(shared.ProcessorsConfig{}, nil, []Step{
			&stubStep{name: "attachments", order: 1, enabled: true},
			disabled,
		}, nil)

		ops, err := p.Process(context.Background(), bc, Item{Record: models.MigrationRecord{SourceID: 1}})

		require.NoError(t, err)
		assert.Equal(t, []string{"/fields/Custom.attachments"}, paths(ops))
		assert.Zero(t, disabled.calls)
		assert.Equal(t, []string{"attachments"}, p.Tracked())
	})

	t.Run("Completed Records Produce No Operations", func(t *testing.T) {
		step := &stubStep{name: "attachments", order: 1, enabled: true}
		p := New(shared.ProcessorsConfig{}, nil, []Step{step}, nil)

		rec := models.MigrationRecord{SourceID: 1, Completed: models.Phase1.With(models.Phase2)}
		ops, err := p.Process(context.Background(), bc, Item{Record: rec})

		require.NoError(t, err)
		assert.Empty(t, ops)
		assert.Zero(t, step.calls)

		rec.Requirement = models.NeedsPhase1Update.With(models.NeedsPhase2Update)
		ops, err = p.Process(context.Background(), bc, Item{Record: rec})
		require.NoError(t, err)
		assert.Empty(t, ops, "a pending requirement does not reopen a completed phase")
		assert.Zero(t, step.calls)

		rec.Completed = models.Phase1
		ops, err = p.Process(context.Background(), bc, Item{Record: rec})
		require.NoError(t, err)
		assert.Len(t, ops, 1)
	})
}

func TestDefaultPipeline(t *testing.T) {
	cfg := shared.ProcessorsConfig{
		MoveAttachments:   true,
		MoveComments:      true,
		ClearAllRelations: true,
		TargetPostMoveTag: "migrated",
	}
	p := Default(Deps{Processors: cfg})

	var enabled []string
	for _, s := range p.Enabled() {
		enabled = append(enabled, s.Name())
	}
	assert.Equal(t, []string{StepClearAllRelations, StepSourceHyperlink, StepAttachments, StepComments}, enabled)
	assert.Equal(t, []string{StepAttachments, StepComments}, p.Tracked())
	require.Len(t, p.Finalizers(), 1)
	assert.Equal(t, FinalizerPostMoveTag, p.Finalizers()[0].Name())

	assert.Empty(t, Default(Deps{}).Finalizers())
}

func TestSourceHyperlinkStep(t *testing.T) {
	step := &sourceHyperlinkStep{}
	rec := models.MigrationRecord{SourceID: 1, SourceURI: sourceURI}
	source := &models.WorkItem{ID: 1, Rev: 5}
	tracked := []string{StepAttachments, StepComments}

	t.Run("Adds Missing Link", func(t *testing.T) {
		ops, err := step.Process(context.Background(), nil, Item{Record: rec, Source: source, Target: &models.WorkItem{}, Tracked: tracked})

		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, "/relations/-", ops[0].Path)
		rel := ops[0].Value.(models.Relation)
		assert.Equal(t, `{"rev":5,"steps":["attachments","comments"]}`, rel.Comment())
	})

	t.Run("Replaces Stale Marker", func(t *testing.T) {
		target := &models.WorkItem{Relations: []models.Relation{
			{Rel: "System.LinkTypes.Related", URL: "https://target/x"},
			models.NewBackLink(sourceURI, models.Marker{Rev: 5, Steps: []string{StepAttachments}}),
		}}

		ops, err := step.Process(context.Background(), nil, Item{Record: rec, Source: source, Target: target, Tracked: tracked})

		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, models.OpReplace, ops[0].Op)
		assert.Equal(t, "/relations/1", ops[0].Path)
	})

	t.Run("Current Marker Is Left Alone", func(t *testing.T) {
		target := &models.WorkItem{Relations: []models.Relation{
			models.NewBackLink(sourceURI, models.Marker{Rev: 5, Steps: []string{StepComments, StepAttachments}}),
		}}

		ops, err := step.Process(context.Background(), nil, Item{Record: rec, Source: source, Target: target, Tracked: tracked})

		require.NoError(t, err)
		assert.Empty(t, ops)
	})
}

func TestClearAllRelationsStep(t *testing.T) {
	step := &clearAllRelationsStep{}
	target := &models.WorkItem{Relations: []models.Relation{
		{Rel: models.RelAttachment, URL: "https://target/a"},
		models.NewBackLink(sourceURI, models.Marker{Rev: 1}),
		{Rel: "System.LinkTypes.Related", URL: "https://target/x"},
	}}
	item := Item{Record: models.MigrationRecord{SourceID: 1, SourceURI: sourceURI}, Target: target}

	ops, err := step.Process(context.Background(), nil, item)

	require.NoError(t, err)
	assert.Equal(t, []string{"/relations/2", "/relations/0"}, paths(ops))

	rewritten := step.Rewrite(target, sourceURI)
	require.Len(t, rewritten.Relations, 1)
	assert.Equal(t, sourceURI, rewritten.Relations[0].URL)
	assert.Len(t, target.Relations, 3)
}

func TestClearAllRelationsRunsBeforeHyperlink(t *testing.T) {
	cfg := shared.ProcessorsConfig{ClearAllRelations: true}
	p := Default(Deps{Processors: cfg})
	target := &models.WorkItem{Relations: []models.Relation{
		{Rel: models.RelAttachment, URL: "https://target/a"},
		models.NewBackLink(sourceURI, models.Marker{Rev: 1}),
	}}
	item := Item{
		Record: models.MigrationRecord{SourceID: 1, SourceURI: sourceURI, SourceRev: 2},
		Source: &models.WorkItem{ID: 1, Rev: 2},
		Target: target,
	}

	ops, err := p.Process(context.Background(), models.NewBatchContext(1, []int{1}), item)

	require.NoError(t, err)
	assert.Equal(t, []string{"/relations/0", "/relations/0"}, paths(ops))
	assert.Equal(t, models.OpRemove, ops[0].Op)
	assert.Equal(t, models.OpReplace, ops[1].Op)
}

func TestGitLinksStep(t *testing.T) {
	source := &models.WorkItem{Relations: []models.Relation{
		{Rel: models.RelArtifact, URL: "vstfs:///Git/Commit/abc"},
		{Rel: models.RelArtifact, URL: "vstfs:///Build/Build/1"},
		{Rel: models.RelArtifact, URL: "vstfs:///Git/Ref/def"},
	}}
	target := &models.WorkItem{Relations: []models.Relation{{Rel: models.RelArtifact, URL: "vstfs:///git/ref/DEF"}}}

	ops, err := (&gitLinksStep{}).Process(context.Background(), nil, Item{Source: source, Target: target})

	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "vstfs:///Git/Commit/abc", ops[0].Value.(models.Relation).URL)
}

func TestTagOperations(t *testing.T) {
	tests := []struct {
		name   string
		tags   any
		wantOp string
		want   any
	}{
		{"absent", nil, models.OpAdd, "migrated"},
		{"existing", "a; b", models.OpReplace, "a; b; migrated"},
		{"already tagged", "a; Migrated", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &models.WorkItem{Fields: map[string]any{}}
			if tt.tags != nil {
				item.Fields[models.FieldTags] = tt.tags
			}

			ops := TagOperations(item, "migrated")

			if tt.wantOp == "" {
				assert.Empty(t, ops)
				return
			}
			require.Len(t, ops, 1)
			assert.Equal(t, tt.wantOp, ops[0].Op)
			assert.Equal(t, tt.want, ops[0].Value)
		})
	}
}
