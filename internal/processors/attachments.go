package processors

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/retry"
	"github.com/desertthunder/witx/internal/shared"
)

// AttachmentsStep copies attached files the target does not have yet.
//
// A file already on the target with the same name and size is skipped. Files above the
// configured maximum are skipped with a warning. Download and upload failures are recorded on the
// record and the remaining attachments are still attempted.
type AttachmentsStep struct {
	deps   Deps
	logger *log.Logger
}

func NewAttachmentsStep(deps Deps) *AttachmentsStep {
	return &AttachmentsStep{deps: deps, logger: shared.WithLogger(deps.logger(), "step", StepAttachments)}
}

func (*AttachmentsStep) Name() string { return StepAttachments }
func (*AttachmentsStep) Order() int   { return 3 }

func (*AttachmentsStep) Enabled(cfg shared.ProcessorsConfig) bool { return cfg.MoveAttachments }

func (*AttachmentsStep) Preprocess(context.Context, *models.BatchContext) error { return nil }

func (s *AttachmentsStep) Process(ctx context.Context, bc *models.BatchContext, item Item) ([]models.PatchOperation, error) {
	_, rels := item.Source.RelationsOf(models.RelAttachment)
	cfg := s.deps.Processors
	id := item.Record.SourceID

	var ops []models.PatchOperation
	for _, r := range rels {
		name, size := r.Name(), r.ResourceSize()
		if item.Target.FindAttachment(name, size) != nil {
			continue
		}
		if cfg.MaxAttachmentSize > 0 && size > cfg.MaxAttachmentSize {
			s.logger.Warn("attachment exceeds maximum size, skipped", "source", id, "name", name, "size", size, "max", cfg.MaxAttachmentSize)
			continue
		}

		ref, ok := bc.Attachments[r.URL]
		if !ok {
			data, err := retry.Do(ctx, s.deps.Executor, "download attachment", func(ctx context.Context) ([]byte, error) {
				return s.deps.Source.DownloadAttachment(ctx, r.URL, cfg.MaxAttachmentSize)
			}, nil)
			if errors.Is(err, shared.ErrAttachmentTooLarge) {
				s.logger.Warn("attachment exceeds maximum size, skipped", "source", id, "name", name)
				continue
			}
			if err != nil {
				s.logger.Error("unable to download attachment", "source", id, "name", name, "error", err)
				s.fail(id, models.FailureAttachmentDownloadError)
				continue
			}

			uploaded, err := retry.Do(ctx, s.deps.Executor, "upload attachment", func(ctx context.Context) (*models.AttachmentReference, error) {
				return s.deps.Target.UploadAttachment(ctx, name, data, cfg.AttachmentChunkSize)
			}, nil)
			if err != nil {
				s.logger.Error("unable to upload attachment", "source", id, "name", name, "error", err)
				s.fail(id, models.FailureAttachmentUploadError)
				continue
			}
			ref = *uploaded
			bc.Attachments[r.URL] = ref
		}

		attrs := map[string]any{"name": name, "resourceSize": size}
		if c := r.Comment(); c != "" {
			attrs["comment"] = c
		}
		ops = append(ops, models.AddRelation(models.Relation{Rel: models.RelAttachment, URL: ref.URL, Attributes: attrs}))
	}
	return ops, nil
}

func (s *AttachmentsStep) fail(id int, reason models.FailureReason) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.Fail(id, reason); err != nil {
		s.logger.Error("unable to record failure", "source", id, "error", err)
	}
}
