package models

import (
	"slices"
	"testing"
)

func TestSummarize(t *testing.T) {
	records := []MigrationRecord{
		{SourceID: 1, Action: ActionCreate, TargetID: 11, Completed: Phase1 | Phase2 | Phase3},
		{SourceID: 2, Action: ActionUpdate, TargetID: 12, Requirement: NeedsPhase2Update, Completed: Phase2},
		{SourceID: 3, Action: ActionUpdate, TargetID: 13},
		{SourceID: 4, Action: ActionNone},
		{SourceID: 6, Action: ActionCreate, Failure: FailureBadRequest.With(FailureAttachmentUploadError)},
		{SourceID: 5, Action: ActionCreate, Failure: FailureBadRequest},
	}

	s := Summarize(records)

	if s.Total != 6 {
		t.Errorf("expected total 6, got %d", s.Total)
	}
	if s.Created != 1 || s.Updated != 1 || s.Skipped != 2 || s.Failed != 2 {
		t.Errorf("unexpected counts: created=%d updated=%d skipped=%d failed=%d", s.Created, s.Updated, s.Skipped, s.Failed)
	}
	if got := s.FailedByReason["BadRequest"]; !slices.Equal(got, []int{5, 6}) {
		t.Errorf("expected BadRequest [5 6], got %v", got)
	}
	if got := s.FailedByReason["AttachmentUploadError"]; !slices.Equal(got, []int{6}) {
		t.Errorf("expected AttachmentUploadError [6], got %v", got)
	}
	if got := s.Reasons(); !slices.Equal(got, []string{"BadRequest", "AttachmentUploadError"}) {
		t.Errorf("unexpected reason order %v", got)
	}
	if len(s.Ledger) != 6 {
		t.Fatalf("expected 6 ledger entries, got %d", len(s.Ledger))
	}
	if e := s.Ledger[0]; e.Action != "Create" || e.Completed != "Phase1|Phase2|Phase3" || e.TargetID != 11 {
		t.Errorf("unexpected ledger entry %+v", e)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.Total != 0 || len(s.Reasons()) != 0 || len(s.Ledger) != 0 {
		t.Errorf("expected empty summary, got %+v", s)
	}
}
