package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/services"
	"github.com/desertthunder/witx/internal/shared"
	"github.com/desertthunder/witx/internal/state"
)

// PendingWrite pairs a batch request with the record it was built for.
type PendingWrite struct {
	SourceID int
	Request  models.BatchRequest
}

// Outcome lists the source ids that succeeded and failed in one reconciled batch.
type Outcome struct {
	Succeeded []int
	Failed    []int
}

// AuditSink persists the diagnostic dump of a batch with failures.
type AuditSink interface {
	SaveBatchAudit(ctx context.Context, audit models.BatchAudit) error
}

// Reconciler maps batch write responses back onto migration records.
type Reconciler struct {
	store   *state.Store
	logger  *log.Logger
	audit   AuditSink
	metrics *Metrics
	runID   string
	account string
}

// NewReconciler creates a [Reconciler] writing outcomes to store. account is the target
// collection url used to build target uris. audit and metrics may be nil.
func NewReconciler(store *state.Store, logger *log.Logger, account, runID string, audit AuditSink, metrics *Metrics) *Reconciler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Reconciler{
		store:   store,
		logger:  shared.WithLogger(logger, "component", "reconciler"),
		audit:   audit,
		metrics: metrics,
		runID:   runID,
		account: account,
	}
}

// Reconcile assigns each response of a batch call to its request and updates the store.
//
// With N writes and M responses:
//   - M == 0 (including a failed call, passed as nil): every record gets CriticalError.
//   - M == 1 and N > 1: the whole batch was rejected; every record gets CriticalError.
//   - M == N: response i answers write i. 200 completes phase, 400 is BadRequest, anything
//     else is UnexpectedError.
//   - any other M: [shared.ErrResponseCountMismatch] is returned and no record is touched.
//
// A batch with any failure is written to the audit log and the [AuditSink].
func (r *Reconciler) Reconcile(ctx context.Context, seq int, writes []PendingWrite, responses []models.BatchResponse, phase models.PhaseSet) (Outcome, error) {
	var out Outcome
	n, m := len(writes), len(responses)
	logger := shared.WithLogger(r.logger, "phase", phase.String(), "batch", seq)

	if n == 0 {
		return out, nil
	}

	switch {
	case m == 0:
		logger.Error("batch returned no usable responses", "requests", n)
		out = r.failAll(writes, models.FailureCriticalError)

	case m == 1 && n > 1:
		logger.Error("batch rejected as a whole",
			"requests", n, "status", responses[0].Code, "body", responses[0].Body)
		out = r.failAll(writes, models.FailureCriticalError)

	case m == n:
		for i, w := range writes {
			if r.apply(logger, w, responses[i], phase) {
				out.Succeeded = append(out.Succeeded, w.SourceID)
			} else {
				out.Failed = append(out.Failed, w.SourceID)
			}
		}

	default:
		err := fmt.Errorf("%w: %s batch %d sent %d requests, received %d responses",
			shared.ErrResponseCountMismatch, phase, seq, n, m)
		logger.Error("cannot attribute batch responses", "requests", n, "responses", m)
		r.emitAudit(ctx, logger, seq, writes, responses, phase, n)
		return out, err
	}

	r.metrics.observeBatch(phase, len(out.Succeeded), len(out.Failed))
	if len(out.Failed) > 0 {
		r.emitAudit(ctx, logger, seq, writes, responses, phase, len(out.Failed))
	}
	return out, nil
}

func (r *Reconciler) failAll(writes []PendingWrite, reason models.FailureReason) Outcome {
	var out Outcome
	for _, w := range writes {
		if err := r.store.Fail(w.SourceID, reason); err != nil {
			r.logger.Error("failed to record failure", "source", w.SourceID, "err", err)
		}
		out.Failed = append(out.Failed, w.SourceID)
	}
	return out
}

// apply handles one positional response and reports whether the record succeeded.
func (r *Reconciler) apply(logger *log.Logger, w PendingWrite, resp models.BatchResponse, phase models.PhaseSet) bool {
	rlog := shared.WithLogger(logger, "source", w.SourceID)

	var reason models.FailureReason
	switch resp.Code {
	case http.StatusOK:
		var item models.WorkItem
		if err := json.Unmarshal([]byte(resp.Body), &item); err != nil || item.ID == 0 {
			rlog.Error("unparseable success response", "err", err, "body", resp.Body)
			reason = models.FailureUnexpectedError
			break
		}

		err := r.store.Update(w.SourceID, func(rec *models.MigrationRecord) {
			if rec.HasTarget() && rec.TargetID != item.ID {
				rlog.Error("response names a different target", "expected", rec.TargetID, "got", item.ID)
				rec.Failure = rec.Failure.With(models.FailureUnexpectedError)
				return
			}
			rec.TargetID = item.ID
			rec.TargetURI = models.WorkItemURL(r.account, item.ID)
			rec.TargetItem = &item
			rec.Completed = rec.Completed.With(phase)
		})
		if err != nil {
			rlog.Error("failed to record success", "err", err)
			return false
		}
		rec, _ := r.store.Get(w.SourceID)
		if rec.Failed() {
			return false
		}
		rlog.Debug("write succeeded", "target", item.ID)
		return true

	case http.StatusBadRequest:
		rlog.Error("bad request", "body", resp.Body)
		reason = models.FailureBadRequest

	default:
		rlog.Error("unexpected response", "status", resp.Code, "body", resp.Body)
		reason = models.FailureUnexpectedError
	}

	if err := r.store.Fail(w.SourceID, reason); err != nil {
		rlog.Error("failed to record failure", "err", err)
	}
	return false
}

// emitAudit logs the batch with a curl reproduction and hands it to the sink.
func (r *Reconciler) emitAudit(ctx context.Context, logger *log.Logger, seq int, writes []PendingWrite, responses []models.BatchResponse, phase models.PhaseSet, failed int) {
	audit := models.BatchAudit{
		RunID:     r.runID,
		Phase:     phase.String(),
		Batch:     seq,
		Failed:    failed,
		SourceIDs: make([]int, 0, len(writes)),
		Requests:  make([]models.BatchRequest, 0, len(writes)),
		Responses: responses,
		CreatedAt: time.Now().UTC(),
	}
	for _, w := range writes {
		audit.SourceIDs = append(audit.SourceIDs, w.SourceID)
		audit.Requests = append(audit.Requests, w.Request)
	}

	requests, _ := json.Marshal(audit.Requests)
	dump, _ := json.Marshal(responses)
	logger.Warn("batch audit",
		"source_ids", audit.SourceIDs,
		"failed", failed,
		"requests", string(requests),
		"responses", string(dump),
		"curl", BatchCurl(r.account, audit.Requests),
	)

	if r.audit == nil {
		return
	}
	if err := r.audit.SaveBatchAudit(ctx, audit); err != nil {
		logger.Warn("failed to persist batch audit", "err", err)
	}
}

// BatchCurl renders the batch call as a curl command. Credentials are never included.
func BatchCurl(account string, requests []models.BatchRequest) string {
	body, _ := json.Marshal(requests)
	return shared.FormatCurl(shared.CurlCommand{
		Method:  http.MethodPost,
		URL:     services.BatchURL(account),
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    string(body),
	})
}
