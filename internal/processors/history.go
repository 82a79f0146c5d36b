package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/retry"
	"github.com/desertthunder/witx/internal/shared"
)

const historyPageSize = 200

// noisyFields change on every revision and are left out of the text rendering.
var noisyFields = []string{
	models.FieldRev,
	models.FieldWatermark,
	"System.ChangedDate",
	"System.ChangedBy",
	"System.AuthorizedDate",
	"System.AuthorizedAs",
	"System.RevisedDate",
	"System.PersonId",
}

// HistoryStep attaches the source revision history to the target as a single file.
type HistoryStep struct {
	deps   Deps
	logger *log.Logger
}

func NewHistoryStep(deps Deps) *HistoryStep {
	return &HistoryStep{deps: deps, logger: shared.WithLogger(deps.logger(), "step", StepHistory)}
}

func (*HistoryStep) Name() string { return StepHistory }
func (*HistoryStep) Order() int   { return 5 }

func (*HistoryStep) Enabled(cfg shared.ProcessorsConfig) bool { return cfg.MoveHistory }

func (*HistoryStep) Preprocess(context.Context, *models.BatchContext) error { return nil }

func (s *HistoryStep) Process(ctx context.Context, _ *models.BatchContext, item Item) ([]models.PatchOperation, error) {
	cfg := s.deps.Processors
	id := item.Record.SourceID

	updates, err := s.fetch(ctx, id, cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("reading history of %d: %w", id, err)
	}
	if len(updates) == 0 {
		return nil, nil
	}

	name, data, err := RenderHistory(updates, cfg.HistoryFormat)
	if err != nil {
		return nil, err
	}
	if item.Target.FindAttachment(name, int64(len(data))) != nil {
		return nil, nil
	}

	ref, err := retry.Do(ctx, s.deps.Executor, "upload history", func(ctx context.Context) (*models.AttachmentReference, error) {
		return s.deps.Target.UploadAttachment(ctx, name, data, cfg.AttachmentChunkSize)
	}, nil)
	if err != nil {
		s.logger.Error("unable to upload history", "source", id, "error", err)
		if s.deps.Store != nil {
			_ = s.deps.Store.Fail(id, models.FailureAttachmentUploadError)
		}
		return nil, nil
	}

	attrs := map[string]any{"name": name, "resourceSize": int64(len(data)), "comment": fmt.Sprintf("history of %d revisions", len(updates))}
	return []models.PatchOperation{models.AddRelation(models.Relation{Rel: models.RelAttachment, URL: ref.URL, Attributes: attrs})}, nil
}

func (s *HistoryStep) fetch(ctx context.Context, id, limit int) ([]models.WorkItemUpdate, error) {
	var all []models.WorkItemUpdate
	for len(all) < limit {
		top := min(historyPageSize, limit-len(all))
		page, err := retry.Do(ctx, s.deps.Executor, "get updates", func(ctx context.Context) ([]models.WorkItemUpdate, error) {
			return s.deps.Source.GetUpdates(ctx, id, top, len(all))
		}, nil)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < top {
			break
		}
	}
	return all, nil
}

// RenderHistory renders updates as history.json or history.txt.
func RenderHistory(updates []models.WorkItemUpdate, format string) (string, []byte, error) {
	if format == "text" {
		return "history.txt", []byte(historyText(updates)), nil
	}
	data, err := json.MarshalIndent(updates, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encoding history: %w", err)
	}
	return "history.json", data, nil
}

func historyText(updates []models.WorkItemUpdate) string {
	var b strings.Builder
	for _, u := range updates {
		fmt.Fprintf(&b, "Revision %d by %s on %s\n", u.Rev, u.RevisedBy.DisplayName, u.RevisedDate.UTC().Format(time.RFC3339))

		fields := make([]string, 0, len(u.Fields))
		for name := range u.Fields {
			if !slices.Contains(noisyFields, name) {
				fields = append(fields, name)
			}
		}
		slices.Sort(fields)
		for _, name := range fields {
			change := u.Fields[name]
			fmt.Fprintf(&b, "  %s: %v -> %v\n", name, printable(change.OldValue), printable(change.NewValue))
		}

		if u.Relations != nil {
			for _, r := range u.Relations.Added {
				fmt.Fprintf(&b, "  + %s %s\n", r.Rel, r.URL)
			}
			for _, r := range u.Relations.Removed {
				fmt.Fprintf(&b, "  - %s %s\n", r.Rel, r.URL)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func printable(v any) any {
	if v == nil {
		return "(empty)"
	}
	return v
}
