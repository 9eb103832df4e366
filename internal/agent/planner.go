package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// defaultTestPlan is used when the model's plan carries no test plan.
const defaultTestPlan = "Generate comprehensive unit tests covering edge cases and data quality"

// Planner produces the transformation plan for the current layer from the
// request and the immediately preceding layer's context.
type Planner struct {
	inference Inference
}

// NewPlanner creates a Planner.
func NewPlanner(inference Inference) *Planner {
	return &Planner{inference: inference}
}

// ID implements orchestrator.Step.
func (p *Planner) ID() models.StepID { return models.StepPlan }

// Run implements orchestrator.Step. An inference failure leaves the plan
// empty; a reply without the expected structure becomes the plan verbatim.
func (p *Planner) Run(ctx context.Context, s *models.PipelineState) error {
	s.CurrentPlan = models.Plan{}

	reply, err := p.inference.Complete(ctx, planSystemPrompt(s.CurrentLayer), planUserPrompt(s))
	if err != nil {
		return fmt.Errorf("plan %s layer: %w", s.CurrentLayer, err)
	}

	var out planOutput
	if err := decodeStructured(planSchema, reply, &out); err != nil {
		log.Printf("[agent] plan for %s is unstructured, using raw reply: %v", s.CurrentLayer, err)
		s.CurrentPlan = models.Plan{
			Transformation: strings.TrimSpace(reply),
			Tests:          defaultTestPlan,
		}
		return nil
	}

	plan := models.Plan{
		Transformation: strings.TrimSpace(out.TransformationPlan),
		Tests:          strings.TrimSpace(out.TestPlan),
	}
	if plan.Tests == "" {
		plan.Tests = defaultTestPlan
	}
	if len(out.KeyConsiderations) > 0 {
		plan.Transformation += "\n\nKey considerations:\n- " + strings.Join(out.KeyConsiderations, "\n- ")
	}
	s.CurrentPlan = plan
	log.Printf("[agent] planned %s layer (%d chars)", s.CurrentLayer, len(plan.Transformation))
	return nil
}
