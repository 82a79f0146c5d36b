package repositories

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/witx/internal/models"
)

var _ models.Repository[*models.Run] = (*RunRepository)(nil)

// NextSequence bumps and returns the counter kept in <table>_sequence. Runs are numbered with it
// so the CLI can print "run #42".
func NextSequence(db *sql.DB, table string) (int, error) {
	var sequence int
	query := fmt.Sprintf("UPDATE %s_sequence SET value = value + 1 WHERE id = 1 RETURNING value", table)
	err := db.QueryRow(query).Scan(&sequence)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("sequence for %s is not seeded", table)
	case err != nil:
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}
	return sequence, nil
}
