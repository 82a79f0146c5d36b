package state

import (
	"fmt"
	"slices"
	"sync"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
)

// Store is a concurrent map from source id to [models.MigrationRecord].
type Store struct {
	mu      sync.RWMutex
	records map[int]*models.MigrationRecord
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{records: make(map[int]*models.MigrationRecord)}
}

// Get returns a copy of the record for id.
func (s *Store) Get(id int) (models.MigrationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return models.MigrationRecord{}, false
	}
	return *r, true
}

// Upsert inserts or replaces a record. Replacing keeps the stored identity and completed phases.
func (s *Store) Upsert(r models.MigrationRecord) error {
	if r.SourceID == 0 {
		return fmt.Errorf("%w: record without source id", shared.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[r.SourceID]; ok {
		if existing.SourceURI != "" && r.SourceURI != existing.SourceURI {
			return fmt.Errorf("%w: source %d", shared.ErrIdentityChanged, r.SourceID)
		}
		r.Completed = r.Completed.With(existing.Completed)
	}
	rec := r
	s.records[r.SourceID] = &rec
	return nil
}

// Update applies fn to a copy of the record and stores the result.
//
// The change is discarded when fn alters SourceID or SourceURI. Completed phases are merged so a
// flag, once set, stays set.
func (s *Store) Update(id int, fn func(r *models.MigrationRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: source %d", shared.ErrRecordNotFound, id)
	}

	next := *existing
	fn(&next)

	if next.SourceID != existing.SourceID || next.SourceURI != existing.SourceURI {
		return fmt.Errorf("%w: source %d", shared.ErrIdentityChanged, id)
	}
	next.Completed = next.Completed.With(existing.Completed)

	*existing = next
	return nil
}

// Fail adds reason to the record's failure set.
func (s *Store) Fail(id int, reason models.FailureReason) error {
	return s.Update(id, func(r *models.MigrationRecord) {
		r.Failure = r.Failure.With(reason)
	})
}

// Complete marks phase as completed for the record.
func (s *Store) Complete(id int, phase models.PhaseSet) error {
	return s.Update(id, func(r *models.MigrationRecord) {
		r.Completed = r.Completed.With(phase)
	})
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns copies of all records ordered by source id.
func (s *Store) Snapshot() []models.MigrationRecord {
	return s.filter(func(models.MigrationRecord) bool { return true })
}

// ByAction returns the records with the given action.
func (s *Store) ByAction(a models.Action) []models.MigrationRecord {
	return s.filter(func(r models.MigrationRecord) bool { return r.Action == a })
}

// NeedingPhase returns the records that still have work in phase.
func (s *Store) NeedingPhase(phase models.PhaseSet) []models.MigrationRecord {
	return s.filter(func(r models.MigrationRecord) bool { return r.NeedsPhase(phase) })
}

// FailedByReason groups failed records by each individual reason they carry.
// A record with two reasons appears under both.
func (s *Store) FailedByReason() map[models.FailureReason][]models.MigrationRecord {
	out := make(map[models.FailureReason][]models.MigrationRecord)
	for _, r := range s.filter(models.MigrationRecord.Failed) {
		for _, reason := range r.Failure.Reasons() {
			out[reason] = append(out[reason], r)
		}
	}
	return out
}

// Counts is a point-in-time tally used by the heartbeat and progress reporting.
type Counts struct {
	Total     int
	Create    int
	Update    int
	None      int
	Failed    int
	Completed map[models.PhaseSet]int
}

// Counts tallies the store without copying records.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := Counts{Total: len(s.records), Completed: make(map[models.PhaseSet]int, 3)}
	for _, r := range s.records {
		switch r.Action {
		case models.ActionCreate:
			c.Create++
		case models.ActionUpdate:
			c.Update++
		default:
			c.None++
		}
		if r.Failed() {
			c.Failed++
		}
		for _, p := range []models.PhaseSet{models.Phase1, models.Phase2, models.Phase3} {
			if r.Completed.Has(p) {
				c.Completed[p]++
			}
		}
	}
	return c
}

func (s *Store) filter(keep func(models.MigrationRecord) bool) []models.MigrationRecord {
	s.mu.RLock()
	out := make([]models.MigrationRecord, 0, len(s.records))
	for _, r := range s.records {
		if keep(*r) {
			out = append(out, *r)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.MigrationRecord) int { return a.SourceID - b.SourceID })
	return out
}
