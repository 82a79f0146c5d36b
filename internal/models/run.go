package models

import (
	"fmt"
	"time"
)

// Run modes.
const (
	RunModeValidate = "validate"
	RunModeMigrate  = "migrate"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one validate or migrate invocation recorded in the ledger.
type Run struct {
	id         string
	sequence   int
	mode       string
	status     string
	query      string
	total      int
	created    int
	updated    int
	failed     int
	errMessage string
	startedAt  time.Time
	finishedAt *time.Time
	createdAt  time.Time
	updatedAt  time.Time
	deletedAt  *time.Time
}

// NewRun creates a running [Run] for the given mode and source query.
func NewRun(sequence int, mode, query string) *Run {
	now := time.Now()
	return &Run{
		sequence:  sequence,
		mode:      mode,
		status:    RunStatusRunning,
		query:     query,
		startedAt: now,
		createdAt: now,
		updatedAt: now,
	}
}

func (r *Run) ID() string             { return r.id }
func (r *Run) Sequence() int          { return r.sequence }
func (r *Run) Mode() string           { return r.mode }
func (r *Run) Status() string         { return r.status }
func (r *Run) Query() string          { return r.query }
func (r *Run) Total() int             { return r.total }
func (r *Run) Created() int           { return r.created }
func (r *Run) Updated() int           { return r.updated }
func (r *Run) Failed() int            { return r.failed }
func (r *Run) ErrorMessage() string   { return r.errMessage }
func (r *Run) StartedAt() time.Time   { return r.startedAt }
func (r *Run) FinishedAt() *time.Time { return r.finishedAt }
func (r *Run) CreatedAt() time.Time   { return r.createdAt }
func (r *Run) UpdatedAt() time.Time   { return r.updatedAt }
func (r *Run) DeletedAt() *time.Time  { return r.deletedAt }

func (r *Run) SetID(id string)            { r.id = id }
func (r *Run) SetSequence(seq int)        { r.sequence = seq }
func (r *Run) SetStatus(status string)    { r.status = status }
func (r *Run) SetErrorMessage(msg string) { r.errMessage = msg }
func (r *Run) SetStartedAt(t time.Time)   { r.startedAt = t }
func (r *Run) SetFinishedAt(t *time.Time) { r.finishedAt = t }
func (r *Run) SetCreatedAt(t time.Time)   { r.createdAt = t }
func (r *Run) SetUpdatedAt(t time.Time)   { r.updatedAt = t }
func (r *Run) SetDeletedAt(t *time.Time)  { r.deletedAt = t }
func (r *Run) SetCounts(total, created, updated, failed int) {
	r.total, r.created, r.updated, r.failed = total, created, updated, failed
}

// Finish marks the run completed, or failed when err is non-nil.
func (r *Run) Finish(err error) {
	now := time.Now()
	r.finishedAt = &now
	r.status = RunStatusCompleted
	if err != nil {
		r.status = RunStatusFailed
		r.errMessage = err.Error()
	}
}

// Validate checks the run fields.
func (r *Run) Validate() error {
	if r.mode != RunModeValidate && r.mode != RunModeMigrate {
		return fmt.Errorf("invalid run mode %q", r.mode)
	}
	switch r.status {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed:
	default:
		return fmt.Errorf("invalid run status %q", r.status)
	}
	if r.total < 0 || r.created < 0 || r.updated < 0 || r.failed < 0 {
		return fmt.Errorf("run counts must not be negative")
	}
	return nil
}

// LedgerEntry is the per-record line of a run report.
type LedgerEntry struct {
	SourceID  int    `json:"source_id"`
	TargetID  int    `json:"target_id,omitempty"`
	Action    string `json:"action"`
	Failure   string `json:"failure"`
	Completed string `json:"completed"`
}

// NewLedgerEntry flattens a record for reporting.
func NewLedgerEntry(r MigrationRecord) LedgerEntry {
	return LedgerEntry{
		SourceID:  r.SourceID,
		TargetID:  r.TargetID,
		Action:    r.Action.String(),
		Failure:   r.Failure.String(),
		Completed: r.Completed.String(),
	}
}

// BatchAudit is the diagnostic dump of a batch write that had failures.
type BatchAudit struct {
	RunID     string          `json:"run_id"`
	Phase     string          `json:"phase"`
	Batch     int             `json:"batch"`
	Failed    int             `json:"failed"`
	SourceIDs []int           `json:"source_ids"`
	Requests  []BatchRequest  `json:"requests"`
	Responses []BatchResponse `json:"responses"`
	CreatedAt time.Time       `json:"created_at"`
}
