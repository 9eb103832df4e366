package models

// ReviewOutcome is the verdict of the Review step.
type ReviewOutcome string

const (
	// ReviewApproved allows the artifacts to be submitted.
	ReviewApproved ReviewOutcome = "APPROVED"
	// ReviewNeedsRevision means the artifacts have fixable defects.
	ReviewNeedsRevision ReviewOutcome = "NEEDS_REVISION"
	// ReviewRejected means the artifacts should be discarded.
	ReviewRejected ReviewOutcome = "REJECTED"
)

// Valid returns true if the outcome is a known value.
func (r ReviewOutcome) Valid() bool {
	switch r {
	case ReviewApproved, ReviewNeedsRevision, ReviewRejected:
		return true
	default:
		return false
	}
}

// ExecutionStatus describes the most recent Execute attempt.
type ExecutionStatus string

const (
	// ExecutionPending indicates Execute has not run for the current layer.
	ExecutionPending ExecutionStatus = "pending"
	// ExecutionAwaitingApproval indicates the change proposal is not approved yet.
	ExecutionAwaitingApproval ExecutionStatus = "awaiting-approval"
	// ExecutionSuccess indicates all artifacts ran against the layer target.
	ExecutionSuccess ExecutionStatus = "success"
	// ExecutionFailed indicates an artifact failed to run.
	ExecutionFailed ExecutionStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionPending, ExecutionAwaitingApproval, ExecutionSuccess, ExecutionFailed:
		return true
	default:
		return false
	}
}

// RunStatus is the overall status of a pipeline run.
type RunStatus string

const (
	// RunStatusRunning indicates the orchestrator is driving the run.
	RunStatusRunning RunStatus = "running"
	// RunStatusAwaitingApproval indicates the run is paused at Execute.
	RunStatusAwaitingApproval RunStatus = "awaiting-approval"
	// RunStatusCompleted indicates every layer completed without errors.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusCompletedWithWarnings indicates every layer completed but
	// recoverable errors were logged.
	RunStatusCompletedWithWarnings RunStatus = "completed-with-warnings"
	// RunStatusHalted indicates the run stopped early without a fatal error,
	// e.g. a review did not approve or a layer made no progress.
	RunStatusHalted RunStatus = "halted"
	// RunStatusFailed indicates a fatal orchestration error.
	RunStatusFailed RunStatus = "failed"
	// RunStatusDiscarded indicates the run was abandoned by its owner.
	RunStatusDiscarded RunStatus = "discarded"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusAwaitingApproval, RunStatusCompleted,
		RunStatusCompletedWithWarnings, RunStatusHalted, RunStatusFailed,
		RunStatusDiscarded:
		return true
	default:
		return false
	}
}

// Resumable returns true if the run may be re-entered.
func (s RunStatus) Resumable() bool {
	return s == RunStatusAwaitingApproval
}
