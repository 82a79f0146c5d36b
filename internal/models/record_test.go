package models

import "testing"

func TestFailureReason(t *testing.T) {
	t.Run("combines independent causes", func(t *testing.T) {
		f := FailureNone.With(FailureAttachmentUploadError).With(FailureBadRequest)

		if !f.Has(FailureAttachmentUploadError) || !f.Has(FailureBadRequest) {
			t.Errorf("expected both flags set, got %s", f)
		}
		if f.Has(FailureCriticalError) {
			t.Errorf("did not expect CriticalError in %s", f)
		}
		if got := f.String(); got != "BadRequest|AttachmentUploadError" {
			t.Errorf("expected BadRequest|AttachmentUploadError, got %s", got)
		}
		if got := len(f.Reasons()); got != 2 {
			t.Errorf("expected 2 reasons, got %d", got)
		}
	})

	t.Run("none", func(t *testing.T) {
		if FailureNone.String() != "None" {
			t.Errorf("expected None, got %s", FailureNone.String())
		}
		if FailureNone.Has(FailureBadRequest) {
			t.Error("empty set should not contain BadRequest")
		}
	})
}

func TestPhaseSet(t *testing.T) {
	p := PhaseSet(0).With(Phase1).With(Phase3)
	if got := p.String(); got != "Phase1|Phase3" {
		t.Errorf("expected Phase1|Phase3, got %s", got)
	}
	if p.Has(Phase2) {
		t.Error("Phase2 should not be set")
	}
}

func TestMigrationRecordNeedsPhase(t *testing.T) {
	tc := []struct {
		name   string
		record MigrationRecord
		phase  PhaseSet
		want   bool
	}{
		{
			name:   "create needs phase 1",
			record: MigrationRecord{SourceID: 1, Action: ActionCreate},
			phase:  Phase1,
			want:   true,
		},
		{
			name:   "update without requirement skips phase 1",
			record: MigrationRecord{SourceID: 1, TargetID: 9, Action: ActionUpdate},
			phase:  Phase1,
			want:   false,
		},
		{
			name:   "update with phase 1 requirement",
			record: MigrationRecord{SourceID: 1, TargetID: 9, Action: ActionUpdate, Requirement: NeedsPhase1Update},
			phase:  Phase1,
			want:   true,
		},
		{
			name:   "create before phase 1 cannot enter phase 2",
			record: MigrationRecord{SourceID: 1, Action: ActionCreate},
			phase:  Phase2,
			want:   false,
		},
		{
			name:   "created record enters phase 2",
			record: MigrationRecord{SourceID: 1, TargetID: 9, Action: ActionCreate, Completed: Phase1},
			phase:  Phase2,
			want:   true,
		},
		{
			name:   "update with phase 2 requirement",
			record: MigrationRecord{SourceID: 1, TargetID: 9, Action: ActionUpdate, Requirement: NeedsPhase2Update},
			phase:  Phase2,
			want:   true,
		},
		{
			name:   "completed phase 2 is not repeated",
			record: MigrationRecord{SourceID: 1, TargetID: 9, Action: ActionUpdate, Requirement: NeedsPhase2Update, Completed: Phase2},
			phase:  Phase2,
			want:   false,
		},
		{
			name:   "failed record never proceeds",
			record: MigrationRecord{SourceID: 1, TargetID: 9, Action: ActionCreate, Completed: Phase1, Failure: FailureBadRequest},
			phase:  Phase2,
			want:   false,
		},
		{
			name:   "phase 3 after phase 2",
			record: MigrationRecord{SourceID: 1, TargetID: 9, Action: ActionUpdate, Completed: Phase2},
			phase:  Phase3,
			want:   true,
		},
		{
			name:   "phase 3 requires earlier progress",
			record: MigrationRecord{SourceID: 1, TargetID: 9, Action: ActionUpdate},
			phase:  Phase3,
			want:   false,
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.NeedsPhase(tt.phase); got != tt.want {
				t.Errorf("NeedsPhase(%s) = %v, want %v", tt.phase, got, tt.want)
			}
		})
	}
}
