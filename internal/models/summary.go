package models

import (
	"slices"
	"time"
)

// RunSummary is the end-of-run report: counts by action and failure reason plus the per-record ledger.
type RunSummary struct {
	RunID    string        `json:"run_id"`
	Mode     string        `json:"mode"`
	Query    string        `json:"query"`
	Total    int           `json:"total"`
	Created  int           `json:"created"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`

	// FailedByReason lists source ids per failure reason name. A record with several reasons is
	// listed under each of them.
	FailedByReason map[string][]int `json:"failed_by_reason,omitempty"`
	Ledger         []LedgerEntry    `json:"ledger"`
}

// Summarize builds a [RunSummary] from the final record states.
//
// Failed records are counted once regardless of how many reasons they carry. Update records
// without a phase requirement were already up to date and count as skipped.
func Summarize(records []MigrationRecord) *RunSummary {
	s := &RunSummary{
		Total:          len(records),
		FailedByReason: make(map[string][]int),
		Ledger:         make([]LedgerEntry, 0, len(records)),
	}
	for _, r := range records {
		s.Ledger = append(s.Ledger, NewLedgerEntry(r))
		switch {
		case r.Failed():
			s.Failed++
			for _, reason := range r.Failure.Reasons() {
				name := reason.String()
				s.FailedByReason[name] = append(s.FailedByReason[name], r.SourceID)
			}
		case r.Action == ActionCreate:
			s.Created++
		case r.Action == ActionUpdate && r.Requirement != 0:
			s.Updated++
		default:
			s.Skipped++
		}
	}
	for _, ids := range s.FailedByReason {
		slices.Sort(ids)
	}
	return s
}

// Reasons returns the failure reason names present in the summary in declaration order.
func (s *RunSummary) Reasons() []string {
	var out []string
	for _, r := range FailureReasons {
		if _, ok := s.FailedByReason[r.String()]; ok {
			out = append(out, r.String())
		}
	}
	return out
}
