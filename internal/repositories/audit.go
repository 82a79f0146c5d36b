package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/witx/internal/models"
)

// AuditRepository persists the request and response dumps of batches that had failures.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository with the given database connection
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// SaveBatchAudit stores one audit. The id lists and payloads are kept as JSON text.
func (r *AuditRepository) SaveBatchAudit(ctx context.Context, audit models.BatchAudit) error {
	ids, err := json.Marshal(audit.SourceIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source ids: %w", err)
	}
	requests, err := json.Marshal(audit.Requests)
	if err != nil {
		return fmt.Errorf("failed to marshal requests: %w", err)
	}
	responses, err := json.Marshal(audit.Responses)
	if err != nil {
		return fmt.Errorf("failed to marshal responses: %w", err)
	}

	createdAt := audit.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO batch_audits (run_id, phase, batch, failed, source_ids, requests, responses, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, audit.RunID, audit.Phase, audit.Batch, audit.Failed, string(ids), string(requests), string(responses), createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert batch audit: %w", err)
	}
	return nil
}

// ListAudits returns the audits of a run in insertion order.
func (r *AuditRepository) ListAudits(runID string) ([]models.BatchAudit, error) {
	rows, err := r.db.Query(`
		SELECT run_id, phase, batch, failed, source_ids, requests, responses, created_at
		FROM batch_audits
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch audits: %w", err)
	}
	defer rows.Close()

	var audits []models.BatchAudit
	for rows.Next() {
		var a models.BatchAudit
		var ids, requests, responses string
		if err := rows.Scan(&a.RunID, &a.Phase, &a.Batch, &a.Failed, &ids, &requests, &responses, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch audit: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &a.SourceIDs); err != nil {
			return nil, fmt.Errorf("failed to decode source ids: %w", err)
		}
		if err := json.Unmarshal([]byte(requests), &a.Requests); err != nil {
			return nil, fmt.Errorf("failed to decode requests: %w", err)
		}
		if err := json.Unmarshal([]byte(responses), &a.Responses); err != nil {
			return nil, fmt.Errorf("failed to decode responses: %w", err)
		}
		audits = append(audits, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return audits, nil
}
