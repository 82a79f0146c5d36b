package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/processors"
	"github.com/desertthunder/witx/internal/retry"
	"github.com/desertthunder/witx/internal/services"
)

// runPhase1 writes the core fields of records to create and of updates needing phase 1, one
// batch call per batch.
func (e *MigrationEngine) runPhase1(ctx context.Context, progress chan<- ProgressUpdate) error {
	records := e.store.NeedingPhase(models.Phase1)
	return e.forEachPhaseBatch(ctx, progress, models.Phase1, records, e.phase1Batch)
}

func (e *MigrationEngine) phase1Batch(ctx context.Context, seq int, batch []models.MigrationRecord) (Outcome, error) {
	ids := sourceIDs(batch)
	sources, err := e.readItems(ctx, e.source, "read source items", ids, services.GetOptions{})
	if err != nil {
		e.failAll(ids, models.FailureCriticalError)
		return Outcome{Failed: ids}, err
	}
	sourceByID := byID(sources)

	opts := e.writeOptions()
	writes := make([]PendingWrite, 0, len(batch))
	for _, rec := range batch {
		src := sourceByID[rec.SourceID]
		if src == nil {
			e.logger.Warn("source work item disappeared", "source", rec.SourceID)
			e.failAll([]int{rec.SourceID}, models.FailureUnexpectedError)
			continue
		}
		_ = e.store.Update(rec.SourceID, func(r *models.MigrationRecord) { r.SourceItem = src })

		ops := e.mapper.CoreOperations(rec, src)
		var req models.BatchRequest
		if rec.Action == models.ActionCreate {
			req = services.CreateRequest(e.target.Project(), src.Type(), ops, opts)
		} else {
			req = services.UpdateRequest(rec.TargetID, ops, opts)
		}
		writes = append(writes, PendingWrite{SourceID: rec.SourceID, Request: req})
	}

	var hook retry.FailureHook[[]models.BatchResponse]
	if e.cfg.Migration.VerifyOnFailure {
		hook = e.verifyPhase1(writes)
	}
	return e.submitBatch(ctx, seq, models.Phase1, writes, hook)
}

// submitBatch sends writes as one batch call and reconciles the responses. A call that fails
// after retries is reconciled as a batch without responses.
func (e *MigrationEngine) submitBatch(ctx context.Context, seq int, phase models.PhaseSet, writes []PendingWrite, hook retry.FailureHook[[]models.BatchResponse]) (Outcome, error) {
	if len(writes) == 0 {
		return Outcome{}, nil
	}
	requests := make([]models.BatchRequest, len(writes))
	for i, w := range writes {
		requests[i] = w.Request
	}

	name := fmt.Sprintf("%s batch %d", phase, seq)
	responses, callErr := retry.Do(ctx, e.executor, name, func(ctx context.Context) ([]models.BatchResponse, error) {
		return e.target.ExecuteBatch(ctx, requests)
	}, hook)
	if callErr != nil {
		e.logger.Error("batch write failed", "phase", phase, "batch", seq, "err", callErr)
		responses = nil
	}

	out, err := e.reconciler.Reconcile(ctx, seq, writes, responses, phase)
	if err != nil {
		return out, err
	}
	if callErr != nil {
		return out, callErr
	}
	return out, nil
}

// verifyPhase1 checks after a failed batch call whether every write landed anyway: each source
// must be linked from exactly one target whose marker carries the source revision. An update
// must also have moved its target past the revision read during identification, since the marker
// may already have been there. When every write landed, success responses are synthesized from
// the read-back items.
func (e *MigrationEngine) verifyPhase1(writes []PendingWrite) retry.FailureHook[[]models.BatchResponse] {
	return func(ctx context.Context, f retry.Failure) ([]models.BatchResponse, error) {
		if f.Class == retry.Permanent {
			return nil, f.Err
		}
		logger := e.logger.With("correlation", f.CorrelationID, "attempt", f.Attempt)

		uris := make([]string, len(writes))
		revs := make([]int, len(writes))
		prior := make([]*models.WorkItem, len(writes))
		for i, w := range writes {
			rec, _ := e.store.Get(w.SourceID)
			uris[i], revs[i] = rec.SourceURI, rec.SourceRev
			if rec.HasTarget() {
				prior[i] = rec.TargetItem
				if prior[i] == nil {
					prior[i] = &models.WorkItem{ID: rec.TargetID}
				}
			}
		}

		found, err := e.target.QueryArtifactURIs(ctx, uris)
		if err != nil {
			logger.Debug("verification query failed", "err", err)
			return nil, f.Err
		}
		ids := make([]int, len(uris))
		for i, uri := range uris {
			if len(found[uri]) != 1 {
				return nil, f.Err
			}
			ids[i] = found[uri][0]
		}

		items, err := e.target.GetWorkItems(ctx, ids, services.GetOptions{Relations: true})
		if err != nil || len(items) != len(ids) {
			return nil, f.Err
		}

		responses := make([]models.BatchResponse, len(items))
		for i, item := range items {
			if p := prior[i]; p != nil && (item.ID != p.ID || item.Rev <= p.Rev) {
				return nil, f.Err
			}
			_, link := models.FindBackLink(item, uris[i])
			if link == nil {
				return nil, f.Err
			}
			marker, err := models.ParseMarker(link.Comment())
			if err != nil || marker.Rev != revs[i] {
				return nil, f.Err
			}
			body, err := json.Marshal(item)
			if err != nil {
				return nil, f.Err
			}
			responses[i] = models.BatchResponse{Code: http.StatusOK, Body: string(body)}
		}
		logger.Warn("batch write landed despite the error", "records", len(writes), "err", f.Err)
		return responses, nil
	}
}

// runPhase2 runs the processor pipeline over records needing enrichment. Records are written one
// at a time so each failure is attributed to its own record.
func (e *MigrationEngine) runPhase2(ctx context.Context, progress chan<- ProgressUpdate) error {
	records := e.store.NeedingPhase(models.Phase2)
	return e.forEachPhaseBatch(ctx, progress, models.Phase2, records, e.phase2Batch)
}

func (e *MigrationEngine) phase2Batch(ctx context.Context, seq int, batch []models.MigrationRecord) (Outcome, error) {
	ids := sourceIDs(batch)
	bc := models.NewBatchContext(seq, ids)

	sources, err := e.readItems(ctx, e.source, "read source items", ids, services.GetOptions{Relations: true})
	if err != nil {
		e.failAll(ids, models.FailureCriticalError)
		return Outcome{Failed: ids}, err
	}
	bc.SourceItems = byID(sources)

	targetIDs := make([]int, 0, len(batch))
	sourceOf := make(map[int]int, len(batch))
	for _, rec := range batch {
		targetIDs = append(targetIDs, rec.TargetID)
		sourceOf[rec.TargetID] = rec.SourceID
	}
	targets, err := e.readItems(ctx, e.target, "read target items", targetIDs, services.GetOptions{Relations: true})
	if err != nil {
		e.failAll(ids, models.FailureCriticalError)
		return Outcome{Failed: ids}, err
	}
	for _, t := range targets {
		bc.TargetItems[sourceOf[t.ID]] = t
	}

	if err := e.pipeline.Preprocess(ctx, bc); err != nil {
		e.failAll(ids, models.FailureCriticalError)
		return Outcome{Failed: ids}, err
	}

	var out Outcome
	for _, id := range ids {
		if e.enrich(ctx, bc, id) {
			out.Succeeded = append(out.Succeeded, id)
		} else {
			out.Failed = append(out.Failed, id)
		}
	}
	e.metrics.observeBatch(models.Phase2, len(out.Succeeded), len(out.Failed))
	return out, nil
}

// enrich processes and writes one record, reporting whether it completed phase 2.
func (e *MigrationEngine) enrich(ctx context.Context, bc *models.BatchContext, id int) bool {
	logger := e.logger.With("phase", models.Phase2, "batch", bc.Seq, "source", id)

	rec, _ := e.store.Get(id)
	src, tgt := bc.SourceItems[id], bc.TargetItems[id]
	if src == nil || tgt == nil {
		logger.Error("work item missing from batch read", "have_source", src != nil, "have_target", tgt != nil)
		e.failAll([]int{id}, models.FailureUnexpectedError)
		return false
	}

	ops, err := e.pipeline.Process(ctx, bc, processors.Item{Record: rec, Source: src, Target: tgt})
	if err != nil {
		logger.Error("pipeline failed", "err", err)
		e.failAll([]int{id}, models.FailureUnexpectedError)
		return false
	}

	// steps record their own failures, such as attachment transfer errors
	if rec, _ = e.store.Get(id); rec.Failed() {
		logger.Warn("record failed during processing, not writing", "failure", rec.Failure)
		return false
	}

	if len(ops) == 0 {
		logger.Debug("nothing to write")
		return e.store.Update(id, func(r *models.MigrationRecord) {
			r.SourceItem = src
			r.TargetItem = tgt
			r.Completed = r.Completed.With(models.Phase2)
		}) == nil
	}

	opts := e.writeOptions()
	updated, err := retry.Do(ctx, e.executor, fmt.Sprintf("phase2 write %d", id), func(ctx context.Context) (*models.WorkItem, error) {
		return e.target.UpdateWorkItem(ctx, rec.TargetID, ops, opts)
	}, nil)
	if err != nil {
		reason := models.FailureUnexpectedError
		var apiErr *services.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			reason = models.FailureBadRequest
		}
		logger.Error("enrichment write failed", "operations", len(ops), "err", err)
		e.failAll([]int{id}, reason)
		return false
	}

	logger.Debug("enrichment written", "operations", len(ops), "rev", updated.Rev)
	return e.store.Update(id, func(r *models.MigrationRecord) {
		r.SourceItem = src
		r.TargetItem = updated
		r.Completed = r.Completed.With(models.Phase2)
	}) == nil
}

// runPhase3 applies the finalizers to every record that completed phase 1 or 2 as one batch call
// per batch, then tags the source items.
func (e *MigrationEngine) runPhase3(ctx context.Context, progress chan<- ProgressUpdate) error {
	if len(e.pipeline.Finalizers()) == 0 && e.cfg.Processors.SourcePostMoveTag == "" {
		e.logger.Info("no finalizers enabled, skipping phase 3")
		return nil
	}
	records := e.store.NeedingPhase(models.Phase3)
	return e.forEachPhaseBatch(ctx, progress, models.Phase3, records, e.phase3Batch)
}

func (e *MigrationEngine) phase3Batch(ctx context.Context, seq int, batch []models.MigrationRecord) (Outcome, error) {
	ids := sourceIDs(batch)
	bc := models.NewBatchContext(seq, ids)
	opts := e.writeOptions()

	var writes []PendingWrite
	var done []int
	for _, rec := range batch {
		ops, err := e.pipeline.Finalize(ctx, bc, processors.Item{Record: rec, Source: rec.SourceItem, Target: rec.TargetItem})
		if err != nil {
			e.logger.Error("finalizer failed", "source", rec.SourceID, "err", err)
			e.failAll([]int{rec.SourceID}, models.FailureUnexpectedError)
			continue
		}
		if len(ops) == 0 {
			done = append(done, rec.SourceID)
			continue
		}
		writes = append(writes, PendingWrite{SourceID: rec.SourceID, Request: services.UpdateRequest(rec.TargetID, ops, opts)})
	}
	for _, id := range done {
		if err := e.store.Complete(id, models.Phase3); err != nil {
			e.logger.Error("failed to record completion", "source", id, "err", err)
		}
	}

	out, err := e.submitBatch(ctx, seq, models.Phase3, writes, nil)
	out.Succeeded = append(out.Succeeded, done...)
	if err != nil {
		return out, err
	}

	if tag := e.cfg.Processors.SourcePostMoveTag; tag != "" {
		e.tagSources(ctx, bc, out.Succeeded, tag)
	}
	return out, nil
}

// tagSources marks migrated source items so later runs of the same query skip them. Failures are
// logged only.
func (e *MigrationEngine) tagSources(ctx context.Context, bc *models.BatchContext, ids []int, tag string) {
	sources, err := e.readItems(ctx, e.source, "read source tags", ids, services.GetOptions{
		Fields: []string{models.FieldID, models.FieldTags},
	})
	if err != nil {
		e.logger.Warn("could not read source tags", "batch", bc.Seq, "err", err)
		return
	}
	for _, src := range sources {
		ops := processors.TagOperations(src, tag)
		if len(ops) == 0 {
			continue
		}
		_, err := retry.Do(ctx, e.executor, fmt.Sprintf("tag source %d", src.ID), func(ctx context.Context) (*models.WorkItem, error) {
			return e.source.UpdateWorkItem(ctx, src.ID, ops, services.WriteOptions{
				BypassRules:           e.cfg.Migration.BypassRules,
				SuppressNotifications: true,
			})
		}, nil)
		if err != nil {
			e.logger.Warn("could not tag source work item", "source", src.ID, "tag", tag, "err", err)
		}
	}
}

type phaseBatchFunc func(ctx context.Context, seq int, batch []models.MigrationRecord) (Outcome, error)

// forEachPhaseBatch runs fn over records with progress reporting and batch timing.
func (e *MigrationEngine) forEachPhaseBatch(ctx context.Context, progress chan<- ProgressUpdate, phase models.PhaseSet, records []models.MigrationRecord, fn phaseBatchFunc) error {
	m := e.cfg.Migration
	total := BatchCount(len(records), m.BatchSize)
	e.logger.Info("phase started", "phase", phase, "records", len(records), "batches", total)
	e.sendProgress(progress, phaseStartUpdate(phase, len(records), total))

	return ForEachBatch(ctx, e.logger, records, m.BatchSize, m.Parallelism, func(ctx context.Context, seq int, batch []models.MigrationRecord) error {
		started := time.Now()
		out, err := fn(ctx, seq, batch)
		e.metrics.observeBatchDuration(phase, time.Since(started))
		if err != nil {
			e.metrics.observeBatchError(phase)
			e.sendProgress(progress, batchFailedUpdate(phase, seq, total, err))
			return err
		}
		e.sendProgress(progress, batchDoneUpdate(phase, seq, total, out))
		return nil
	})
}
