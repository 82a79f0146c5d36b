package processors

import (
	"context"
	"strings"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
)

const gitArtifactPrefix = "vstfs:///git/"

// clearAllRelationsStep removes every target relation except the back-link to the source.
type clearAllRelationsStep struct{}

func (*clearAllRelationsStep) Name() string { return StepClearAllRelations }
func (*clearAllRelationsStep) Order() int   { return 1 }

func (*clearAllRelationsStep) Enabled(cfg shared.ProcessorsConfig) bool { return cfg.ClearAllRelations }

func (*clearAllRelationsStep) Preprocess(context.Context, *models.BatchContext) error { return nil }

func (*clearAllRelationsStep) Process(_ context.Context, _ *models.BatchContext, item Item) ([]models.PatchOperation, error) {
	if item.Target == nil {
		return nil, nil
	}
	keep, _ := models.FindBackLink(item.Target, item.Record.SourceURI)

	var ops []models.PatchOperation
	for i := len(item.Target.Relations) - 1; i >= 0; i-- {
		if i != keep {
			ops = append(ops, models.RemoveRelation(i))
		}
	}
	return ops, nil
}

func (*clearAllRelationsStep) Rewrite(target *models.WorkItem, sourceURI string) *models.WorkItem {
	if target == nil {
		return nil
	}
	cleared := *target
	cleared.Relations = nil
	if _, rel := models.FindBackLink(target, sourceURI); rel != nil {
		cleared.Relations = []models.Relation{*rel}
	}
	return &cleared
}

// sourceHyperlinkStep maintains the back-link marker: it is added when missing and replaced when
// the revision or the tracked step set changed.
type sourceHyperlinkStep struct{}

func (*sourceHyperlinkStep) Name() string { return StepSourceHyperlink }
func (*sourceHyperlinkStep) Order() int   { return 2 }

func (*sourceHyperlinkStep) Enabled(shared.ProcessorsConfig) bool { return true }

func (*sourceHyperlinkStep) Preprocess(context.Context, *models.BatchContext) error { return nil }

func (*sourceHyperlinkStep) Process(_ context.Context, _ *models.BatchContext, item Item) ([]models.PatchOperation, error) {
	rev := item.Record.SourceRev
	if item.Source != nil {
		rev = item.Source.Rev
	}
	want := models.Marker{Rev: rev, Steps: item.Tracked}
	link := models.NewBackLink(item.Record.SourceURI, want)

	idx, existing := models.FindBackLink(item.Target, item.Record.SourceURI)
	if existing == nil {
		return []models.PatchOperation{models.AddRelation(link)}, nil
	}
	if current, err := models.ParseMarker(existing.Comment()); err == nil && current.Encode() == want.Encode() {
		return nil, nil
	}
	return []models.PatchOperation{models.ReplaceRelation(idx, link)}, nil
}

// gitLinksStep copies artifact links to git commits, branches and pull requests.
type gitLinksStep struct{}

func (*gitLinksStep) Name() string { return StepGitLinks }
func (*gitLinksStep) Order() int   { return 7 }

func (*gitLinksStep) Enabled(cfg shared.ProcessorsConfig) bool { return cfg.MoveGitLinks }

func (*gitLinksStep) Preprocess(context.Context, *models.BatchContext) error { return nil }

func (*gitLinksStep) Process(_ context.Context, _ *models.BatchContext, item Item) ([]models.PatchOperation, error) {
	_, rels := item.Source.RelationsOf(models.RelArtifact)

	var ops []models.PatchOperation
	for _, r := range rels {
		if !strings.HasPrefix(strings.ToLower(r.URL), gitArtifactPrefix) {
			continue
		}
		if item.Target.HasRelation(models.RelArtifact, r.URL) {
			continue
		}
		ops = append(ops, models.AddRelation(models.Relation{Rel: r.Rel, URL: r.URL, Attributes: r.Attributes}))
	}
	return ops, nil
}

// postMoveTagStep appends the configured tag to the target's tags.
type postMoveTagStep struct {
	tag string
}

func (*postMoveTagStep) Name() string { return FinalizerPostMoveTag }
func (*postMoveTagStep) Order() int   { return 1 }

func (*postMoveTagStep) Enabled(cfg shared.ProcessorsConfig) bool { return cfg.TargetPostMoveTag != "" }

func (*postMoveTagStep) Preprocess(context.Context, *models.BatchContext) error { return nil }

func (s *postMoveTagStep) Process(_ context.Context, _ *models.BatchContext, item Item) ([]models.PatchOperation, error) {
	return TagOperations(item.Target, s.tag), nil
}

// TagOperations returns the patch adding tag to item's tags, or nothing when it is already there.
func TagOperations(item *models.WorkItem, tag string) []models.PatchOperation {
	if tag == "" {
		return nil
	}
	existing := strings.TrimSpace(item.StringField(models.FieldTags))
	if existing == "" {
		return []models.PatchOperation{models.AddField(models.FieldTags, tag)}
	}
	if HasTag(existing, tag) {
		return nil
	}
	return []models.PatchOperation{models.ReplaceField(models.FieldTags, existing+"; "+tag)}
}

// HasTag reports whether a semicolon separated tag list contains tag, ignoring case.
func HasTag(tags, tag string) bool {
	for _, t := range strings.Split(tags, ";") {
		if strings.EqualFold(strings.TrimSpace(t), tag) {
			return true
		}
	}
	return false
}
