package repositories

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/desertthunder/witx/internal/models"
)

// LedgerRepository stores the final per-record state of each run and rebuilds run summaries from it.
type LedgerRepository struct {
	db   *sql.DB
	runs *RunRepository
}

// NewLedgerRepository creates a new LedgerRepository with the given database connection
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db, runs: NewRunRepository(db)}
}

// SaveEntries writes the ledger of a run in a single transaction, replacing earlier entries for the same source ids.
func (r *LedgerRepository) SaveEntries(runID string, entries []models.LedgerEntry) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO ledger_entries (run_id, source_id, target_id, action, failure, completed)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var target any
		if e.TargetID != 0 {
			target = e.TargetID
		}
		if _, err := stmt.Exec(runID, e.SourceID, target, e.Action, e.Failure, e.Completed); err != nil {
			return fmt.Errorf("failed to insert ledger entry %d: %w", e.SourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger: %w", err)
	}
	return nil
}

// Entries returns the ledger of a run ordered by source id.
func (r *LedgerRepository) Entries(runID string) ([]models.LedgerEntry, error) {
	rows, err := r.db.Query(`
		SELECT source_id, target_id, action, failure, completed
		FROM ledger_entries
		WHERE run_id = ?
		ORDER BY source_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var (
			e      models.LedgerEntry
			target sql.NullInt64
		)
		if err := rows.Scan(&e.SourceID, &target, &e.Action, &e.Failure, &e.Completed); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if target.Valid {
			e.TargetID = int(target.Int64)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

// Summary rebuilds the [models.RunSummary] of a stored run.
func (r *LedgerRepository) Summary(runID string) (*models.RunSummary, error) {
	run, err := r.runs.Get(runID)
	if err != nil {
		return nil, err
	}

	entries, err := r.Entries(runID)
	if err != nil {
		return nil, err
	}

	s := &models.RunSummary{
		RunID:          run.ID(),
		Mode:           run.Mode(),
		Query:          run.Query(),
		Total:          run.Total(),
		Created:        run.Created(),
		Updated:        run.Updated(),
		Failed:         run.Failed(),
		Error:          run.ErrorMessage(),
		FailedByReason: make(map[string][]int),
		Ledger:         entries,
	}
	s.Skipped = max(s.Total-s.Created-s.Updated-s.Failed, 0)
	if finished := run.FinishedAt(); finished != nil {
		s.Duration = finished.Sub(run.StartedAt())
	}

	for _, e := range entries {
		for name := range strings.SplitSeq(e.Failure, "|") {
			if name == "" || name == "None" {
				continue
			}
			s.FailedByReason[name] = append(s.FailedByReason[name], e.SourceID)
		}
	}
	for _, ids := range s.FailedByReason {
		slices.Sort(ids)
	}

	return s, nil
}
