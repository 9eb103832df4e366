package orchestrator

import (
	"fmt"
	"slices"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// Router selects the step that follows another. Routers read only fields
// already present in the state and never modify it.
type Router func(s *models.PipelineState) models.StepID

// always returns a router with a single unconditional edge.
func always(step models.StepID) Router {
	return func(*models.PipelineState) models.StepID { return step }
}

// transitions holds the outgoing edge of every step. Terminal steps have none.
var transitions = [models.StepCount]Router{
	models.StepPlan:     always(models.StepGenerate),
	models.StepGenerate: always(models.StepReview),
	models.StepReview:   RouteAfterReview,
	models.StepSubmit:   always(models.StepExecute),
	models.StepExecute:  RouteAfterExecute,
	models.StepEnrich:   RouteAfterEnrich,
}

func init() {
	if err := validateTable(transitions); err != nil {
		panic(err)
	}
}

// validateTable checks that every non-terminal step has an edge and that
// terminal steps have none.
func validateTable(table [models.StepCount]Router) error {
	if table[0] != nil {
		return fmt.Errorf("transition table: zero step has an edge")
	}
	for _, step := range models.AllSteps() {
		switch {
		case step.IsTerminal() && table[step] != nil:
			return fmt.Errorf("transition table: terminal step %s has an edge", step)
		case !step.IsTerminal() && table[step] == nil:
			return fmt.Errorf("transition table: step %s has no edge", step)
		}
	}
	return nil
}

// Next returns the step that follows from. It returns zero for terminal steps.
func Next(s *models.PipelineState, from models.StepID) models.StepID {
	if !from.Valid() || from.IsTerminal() {
		return 0
	}
	return transitions[from](s)
}

// RouteAfterReview submits approved artifacts and finishes otherwise.
// Only the outcome recorded by the Review step is consulted.
func RouteAfterReview(s *models.PipelineState) models.StepID {
	if s.ReviewOutcome == models.ReviewApproved {
		return models.StepSubmit
	}
	return models.StepFinish
}

// RouteAfterExecute pauses while the change proposal is pending.
func RouteAfterExecute(s *models.PipelineState) models.StepID {
	if s.ExecutionResult.Status == models.ExecutionAwaitingApproval {
		return models.StepAwaitApproval
	}
	return models.StepEnrich
}

// RouteAfterEnrich loops to the next layer when the current one completed
// and layers remain. A layer that did not complete finishes the run.
func RouteAfterEnrich(s *models.PipelineState) models.StepID {
	if !slices.Contains(s.LayersCompleted, s.CurrentLayer) {
		return models.StepFinish
	}
	if len(s.LayersRemaining) > 0 {
		return models.StepPlan
	}
	return models.StepFinish
}

// ResumePoint returns the step a paused state re-enters at: Submit when no
// proposal exists for the current layer yet, Execute otherwise.
func ResumePoint(s *models.PipelineState) models.StepID {
	if _, ok := s.SubmissionFor(s.CurrentLayer); !ok || s.ApprovalHandle.IsZero() {
		return models.StepSubmit
	}
	return models.StepExecute
}
