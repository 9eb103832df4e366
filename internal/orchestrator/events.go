package orchestrator

import (
	"time"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventRunStarted indicates Run was entered, fresh or resumed.
	EventRunStarted EventType = "run_started"
	// EventStepStarted indicates a step is about to run.
	EventStepStarted EventType = "step_started"
	// EventStepCompleted indicates a step returned without error.
	EventStepCompleted EventType = "step_completed"
	// EventStepFailed indicates a step returned an error.
	EventStepFailed EventType = "step_failed"
	// EventRunPaused indicates the run stopped to wait for approval.
	EventRunPaused EventType = "run_paused"
	// EventRunFinished indicates the run reached Finish.
	EventRunFinished EventType = "run_finished"
)

// Event is emitted as the orchestrator moves through the step graph.
// Events feed progress displays and logs; they carry no control flow.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RunID identifies the run.
	RunID string
	// Step is the step the event is about, if any.
	Step models.StepID
	// Layer is the layer being processed.
	Layer models.Layer
	// Completed is the number of completed layers at emission time.
	Completed int
	// Message provides additional context about the event.
	Message string
	// Err contains error details for failure events.
	Err error
	// Fatal marks failures that abort the run.
	Fatal bool
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
