package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/retry"
	"github.com/desertthunder/witx/internal/services"
	"github.com/desertthunder/witx/internal/shared"
)

// identify pages the source query, then for each batch of source ids reads revisions, finds
// target items linking back to them and decides the record actions.
func (e *MigrationEngine) identify(ctx context.Context, progress chan<- ProgressUpdate) error {
	ids, err := e.querySource(ctx, progress)
	if err != nil {
		return err
	}
	e.logger.Info("source query complete", "work_items", len(ids))

	m := e.cfg.Migration
	total := BatchCount(len(ids), m.BatchSize)
	err = ForEachBatch(ctx, e.logger, ids, m.BatchSize, m.Parallelism, func(ctx context.Context, seq int, batch []int) error {
		defer e.sendProgress(progress, identifyBatchUpdate(seq, total))
		return e.identifyBatch(ctx, seq, batch)
	})
	if err != nil {
		return fmt.Errorf("identification: %w", err)
	}

	c := e.store.Counts()
	e.metrics.observeIdentified(c.Create, c.Update, c.None)
	e.logger.Info("identification complete",
		"total", c.Total, "create", c.Create, "update", c.Update, "none", c.None, "failed", c.Failed)
	return nil
}

// querySource reads every page of the source query, dropping ids repeated across pages.
func (e *MigrationEngine) querySource(ctx context.Context, progress chan<- ProgressUpdate) ([]int, error) {
	m := e.cfg.Migration
	pager := services.NewQueryPager(e.source, m.Query, m.QueryPageSize, e.cfg.Processors.SourcePostMoveTag)

	var ids []int
	seen := make(map[int]bool)
	for {
		res, err := retry.Do(ctx, e.executor, "query source page", func(ctx context.Context) (pageResult, error) {
			p, ok, err := pager.Next(ctx)
			return pageResult{page: p, ok: ok}, err
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: source query: %w", shared.ErrFatal, err)
		}
		if !res.ok {
			return ids, nil
		}
		page := res.page
		for _, id := range page.IDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		e.logger.Debug("query page", "page", page.Number, "ids", len(page.IDs))
		e.sendProgress(progress, queryPageUpdate(page.Number, len(ids)))
	}
}

type pageResult struct {
	page services.Page
	ok   bool
}

func (e *MigrationEngine) identifyBatch(ctx context.Context, seq int, ids []int) error {
	sourceAccount := e.source.Account()
	for _, id := range ids {
		rec := models.MigrationRecord{SourceID: id, SourceURI: models.WorkItemURL(sourceAccount, id)}
		if err := e.store.Upsert(rec); err != nil {
			return err
		}
	}

	if err := e.resolveBatch(ctx, ids); err != nil {
		e.failAll(ids, models.FailureCriticalError)
		return fmt.Errorf("batch %d: %w", seq, err)
	}
	return nil
}

func (e *MigrationEngine) resolveBatch(ctx context.Context, ids []int) error {
	sources, err := e.readItems(ctx, e.source, "read source revisions", ids, services.GetOptions{
		Fields: []string{models.FieldID, models.FieldRev, models.FieldWorkItemType},
	})
	if err != nil {
		return err
	}
	sourceByID := byID(sources)

	uris := make([]string, 0, len(ids))
	for _, id := range ids {
		uris = append(uris, models.WorkItemURL(e.source.Account(), id))
	}
	matches, err := retry.Do(ctx, e.executor, "query target links", func(ctx context.Context) (map[string][]int, error) {
		return e.target.QueryArtifactURIs(ctx, uris)
	}, nil)
	if err != nil {
		return err
	}

	var existing []int
	for _, uri := range uris {
		if found := matches[uri]; len(found) == 1 {
			existing = append(existing, found[0])
		}
	}
	targets, err := e.readItems(ctx, e.target, "read target items", existing, services.GetOptions{Relations: true})
	if err != nil {
		return err
	}
	targetByID := byID(targets)

	for i, id := range ids {
		found := matches[uris[i]]
		src := sourceByID[id]

		err := e.store.Update(id, func(rec *models.MigrationRecord) {
			if src == nil {
				e.logger.Warn("source work item could not be read", "source", id)
				rec.Failure = rec.Failure.With(models.FailureUnexpectedError)
				return
			}
			rec.SourceRev = src.Rev
			var target *models.WorkItem
			if len(found) == 1 {
				target = targetByID[found[0]]
			}
			e.decide(rec, found, target)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// decide sets the action and phase requirements of a record.
//
//   - no target links back: Create when create_new is set, otherwise None.
//   - one target: Update. Overwrite, or update_modified with a changed source revision, needs
//     both phases; an enabled step missing from the marker needs phase 2 only.
//   - several targets: DuplicateTargetLink.
func (e *MigrationEngine) decide(rec *models.MigrationRecord, found []int, target *models.WorkItem) {
	m := e.cfg.Migration
	logger := e.logger.With("source", rec.SourceID)

	switch {
	case len(found) == 0:
		rec.Action = models.ActionNone
		if m.CreateNew {
			rec.Action = models.ActionCreate
		}

	case len(found) > 1:
		logger.Warn("several target work items link to the source", "targets", found)
		rec.Action = models.ActionNone
		rec.Failure = rec.Failure.With(models.FailureDuplicateTargetLink)

	default:
		rec.Action = models.ActionUpdate
		rec.TargetID = found[0]
		rec.TargetURI = models.WorkItemURL(e.target.Account(), found[0])
		rec.TargetItem = target
		rec.Requirement = 0
		if target == nil {
			logger.Warn("linked target work item could not be read", "target", found[0])
			rec.Failure = rec.Failure.With(models.FailureUnexpectedError)
			return
		}

		_, link := models.FindBackLink(target, rec.SourceURI)
		if link != nil {
			marker, err := models.ParseMarker(link.Comment())
			if err != nil {
				logger.Warn("unreadable back-link marker, treating target as stale", "err", err)
			} else {
				rec.Marker = marker
			}
		}

		switch {
		case rec.Marker == nil, m.Overwrite:
			rec.Requirement = models.NeedsPhase1Update.With(models.NeedsPhase2Update)
		case m.UpdateModified && rec.Marker.Rev != rec.SourceRev:
			logger.Info("source changed since last migration", "marker_rev", rec.Marker.Rev, "source_rev", rec.SourceRev)
			rec.Requirement = models.NeedsPhase1Update.With(models.NeedsPhase2Update)
		case !rec.Marker.Covers(e.pipeline.Tracked()):
			rec.Requirement = models.NeedsPhase2Update
		}
	}
}
