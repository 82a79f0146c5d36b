package models

import (
	"strings"
)

// Action is decided once per record during identification.
type Action int

const (
	ActionNone Action = iota
	ActionCreate
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "Create"
	case ActionUpdate:
		return "Update"
	default:
		return "None"
	}
}

// FailureReason is a set of independent failure causes. A record may carry several at once.
type FailureReason uint16

const (
	FailureBadRequest FailureReason = 1 << iota
	FailureUnexpectedError
	FailureCriticalError
	FailureAttachmentDownloadError
	FailureAttachmentUploadError
	FailureDuplicateTargetLink
)

// FailureNone is the empty failure set.
const FailureNone FailureReason = 0

// FailureReasons lists every individual failure flag in declaration order.
var FailureReasons = []FailureReason{
	FailureBadRequest,
	FailureUnexpectedError,
	FailureCriticalError,
	FailureAttachmentDownloadError,
	FailureAttachmentUploadError,
	FailureDuplicateTargetLink,
}

var failureNames = map[FailureReason]string{
	FailureBadRequest:              "BadRequest",
	FailureUnexpectedError:         "UnexpectedError",
	FailureCriticalError:           "CriticalError",
	FailureAttachmentDownloadError: "AttachmentDownloadError",
	FailureAttachmentUploadError:   "AttachmentUploadError",
	FailureDuplicateTargetLink:     "DuplicateTargetLink",
}

// Has reports whether any flag of r is set in f.
func (f FailureReason) Has(r FailureReason) bool { return f&r != 0 }

// With returns f with r added.
func (f FailureReason) With(r FailureReason) FailureReason { return f | r }

// Reasons splits the set into its individual flags.
func (f FailureReason) Reasons() []FailureReason {
	var out []FailureReason
	for _, r := range FailureReasons {
		if f.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (f FailureReason) String() string {
	if f == FailureNone {
		return "None"
	}
	names := make([]string, 0, len(FailureReasons))
	for _, r := range f.Reasons() {
		names = append(names, failureNames[r])
	}
	return strings.Join(names, "|")
}

// PhaseRequirement flags the rework an already migrated record needs.
type PhaseRequirement uint8

const (
	NeedsPhase1Update PhaseRequirement = 1 << iota
	NeedsPhase2Update
)

func (p PhaseRequirement) Has(r PhaseRequirement) bool { return p&r != 0 }

func (p PhaseRequirement) With(r PhaseRequirement) PhaseRequirement { return p | r }

func (p PhaseRequirement) String() string {
	var names []string
	if p.Has(NeedsPhase1Update) {
		names = append(names, "NeedsPhase1Update")
	}
	if p.Has(NeedsPhase2Update) {
		names = append(names, "NeedsPhase2Update")
	}
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "|")
}

// PhaseSet records completed phases. Flags are only ever added during a run.
type PhaseSet uint8

const (
	Phase1 PhaseSet = 1 << iota
	Phase2
	Phase3
)

func (p PhaseSet) Has(phase PhaseSet) bool { return p&phase != 0 }

func (p PhaseSet) With(phase PhaseSet) PhaseSet { return p | phase }

func (p PhaseSet) String() string {
	var names []string
	for i, phase := range []PhaseSet{Phase1, Phase2, Phase3} {
		if p.Has(phase) {
			names = append(names, []string{"Phase1", "Phase2", "Phase3"}[i])
		}
	}
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "|")
}

// MigrationRecord is the per-source-item state of a run.
//
// SourceID and SourceURI are immutable once the record is stored. TargetID is zero until a target
// item is identified or created.
type MigrationRecord struct {
	SourceID  int
	SourceURI string
	SourceRev int

	TargetID  int
	TargetURI string

	Action      Action
	Failure     FailureReason
	Requirement PhaseRequirement
	Completed   PhaseSet

	// Marker is the back-link marker found on the target item during identification.
	Marker *Marker

	SourceItem *WorkItem
	TargetItem *WorkItem
}

func (r MigrationRecord) HasTarget() bool { return r.TargetID != 0 }

func (r MigrationRecord) Failed() bool { return r.Failure != FailureNone }

// NeedsPhase reports whether the record still has work in the given phase.
// Records carrying any failure never proceed.
func (r MigrationRecord) NeedsPhase(phase PhaseSet) bool {
	if r.Failed() || r.Completed.Has(phase) {
		return false
	}
	switch phase {
	case Phase1:
		return r.Action == ActionCreate ||
			(r.Action == ActionUpdate && r.Requirement.Has(NeedsPhase1Update))
	case Phase2:
		if !r.HasTarget() {
			return false
		}
		switch r.Action {
		case ActionCreate:
			return r.Completed.Has(Phase1)
		case ActionUpdate:
			return r.Requirement.Has(NeedsPhase2Update)
		}
		return false
	case Phase3:
		return r.Completed.Has(Phase1) || r.Completed.Has(Phase2)
	}
	return false
}
