package tasks

import (
	"fmt"

	"github.com/desertthunder/witx/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	Identify Phase = iota
	CoreFields
	Enrichment
	Finalize
	Summarize
	ExportPhase
)

func (p Phase) String() string {
	switch p {
	case Identify:
		return "identify"
	case CoreFields:
		return "phase1"
	case Enrichment:
		return "phase2"
	case Finalize:
		return "phase3"
	case Summarize:
		return "summary"
	case ExportPhase:
		return "export_ledger"
	default:
		return ""
	}
}

// phaseOf maps a completed-phase flag onto its progress phase.
func phaseOf(p models.PhaseSet) Phase {
	switch p {
	case models.Phase1:
		return CoreFields
	case models.Phase2:
		return Enrichment
	default:
		return Finalize
	}
}

func queryPageUpdate(page, found int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Identify,
		Step:    page,
		Message: fmt.Sprintf("Query page %d: %d source work items so far", page, found),
	}
}

func identifyBatchUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Identify,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Identifying target work items...", step, total),
	}
}

func phaseStartUpdate(phase models.PhaseSet, records, batches int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   phaseOf(phase),
		Total:   batches,
		Message: fmt.Sprintf("%s: %d work items in %d batches", phaseOf(phase), records, batches),
	}
}

func batchDoneUpdate(phase models.PhaseSet, seq, total int, out Outcome) ProgressUpdate {
	return ProgressUpdate{
		Phase:   phaseOf(phase),
		Step:    seq,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %d succeeded, %d failed", seq, total, len(out.Succeeded), len(out.Failed)),
		Data:    out,
	}
}

func batchFailedUpdate(phase models.PhaseSet, seq, total int, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   phaseOf(phase),
		Step:    seq,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %v", seq, total, err),
	}
}

func summaryUpdate(s *models.RunSummary) ProgressUpdate {
	return ProgressUpdate{
		Phase: Summarize,
		Step:  1,
		Total: 1,
		Message: fmt.Sprintf("Created %d, updated %d, skipped %d, failed %d of %d",
			s.Created, s.Updated, s.Skipped, s.Failed, s.Total),
		Data: s,
	}
}

func exportingRunUpdate(step, total int, runID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPhase,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Exporting run %s...", step, total, runID),
	}
}

func exportCompletedUpdate(step, total int, runID string, filesCount int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPhase,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d files)", step, total, runID, filesCount),
	}
}

func exportFailedUpdate(step, total int, runID string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPhase,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, runID, err),
	}
}
