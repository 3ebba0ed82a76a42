package types

import "time"

// DecisionKind identifies what sort of approval gate a Decision represents.
type DecisionKind string

const (
	DecisionMergeConflict DecisionKind = "merge_conflict"
	DecisionBuildFailure  DecisionKind = "build_failure"
	DecisionTestFailure   DecisionKind = "test_failure"
)

// DecisionStatus is the lifecycle state of a Decision.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// DecisionAction is the resolve request's requested outcome (spec §6).
type DecisionAction string

const (
	ActionApprove DecisionAction = "approve"
	ActionReject  DecisionAction = "reject"
)

// Decision is a pending human approval gate. It persists past resolution
// for audit, owned by the GMProject that raised it.
type Decision struct {
	DecisionID      string
	ProjectID       string
	Kind            DecisionKind
	Description     string
	ProposedAction  string
	Context         string
	Status          DecisionStatus
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}
