package processors

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/retry"
	"github.com/desertthunder/witx/internal/shared"
)

// CommentsStep replays source discussion comments as history entries on the target.
//
// Comments whose rendered text is already on the target are not added again.
type CommentsStep struct {
	deps   Deps
	logger *log.Logger
}

func NewCommentsStep(deps Deps) *CommentsStep {
	return &CommentsStep{deps: deps, logger: shared.WithLogger(deps.logger(), "step", StepComments)}
}

func (*CommentsStep) Name() string { return StepComments }
func (*CommentsStep) Order() int   { return 4 }

func (*CommentsStep) Enabled(cfg shared.ProcessorsConfig) bool { return cfg.MoveComments }

func (*CommentsStep) Preprocess(context.Context, *models.BatchContext) error { return nil }

func (s *CommentsStep) Process(ctx context.Context, _ *models.BatchContext, item Item) ([]models.PatchOperation, error) {
	comments, err := retry.Do(ctx, s.deps.Executor, "get source comments", func(ctx context.Context) ([]models.Comment, error) {
		return s.deps.Source.GetComments(ctx, item.Record.SourceID)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("reading comments of %d: %w", item.Record.SourceID, err)
	}
	if len(comments) == 0 {
		return nil, nil
	}

	existing := map[string]bool{}
	if item.Record.HasTarget() {
		targetComments, err := retry.Do(ctx, s.deps.Executor, "get target comments", func(ctx context.Context) ([]models.Comment, error) {
			return s.deps.Target.GetComments(ctx, item.Record.TargetID)
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("reading comments of target %d: %w", item.Record.TargetID, err)
		}
		for _, c := range targetComments {
			existing[c.Text] = true
		}
	}

	var ops []models.PatchOperation
	for _, c := range comments {
		text := RenderComment(c)
		if existing[text] {
			continue
		}
		ops = append(ops, models.AddField(models.FieldHistory, text))
	}
	s.logger.Debug("comments prepared", "source", item.Record.SourceID, "total", len(comments), "new", len(ops))
	return ops, nil
}

// RenderComment prefaces a comment with its original author and date.
func RenderComment(c models.Comment) string {
	author := strings.TrimSpace(c.CreatedBy.DisplayName)
	if author == "" {
		author = "unknown"
	}
	return fmt.Sprintf("<p><em>%s commented on %s:</em></p>%s",
		html.EscapeString(author), c.CreatedDate.UTC().Format(time.RFC3339), c.Text)
}
