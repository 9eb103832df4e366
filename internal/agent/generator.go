package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// manualTestsPlaceholder marks artifacts whose tests could not be recovered.
const manualTestsPlaceholder = "# Tests to be generated manually"

// Generator turns the current plan into executable artifacts.
type Generator struct {
	inference Inference
}

// NewGenerator creates a Generator.
func NewGenerator(inference Inference) *Generator {
	return &Generator{inference: inference}
}

// ID implements orchestrator.Step.
func (g *Generator) ID() models.StepID { return models.StepGenerate }

// Run implements orchestrator.Step. Without a plan it produces nothing. A
// reply without the expected structure is salvaged into unverified
// artifacts.
func (g *Generator) Run(ctx context.Context, s *models.PipelineState) error {
	s.CurrentArtifacts = models.Artifacts{}

	if s.CurrentPlan.Empty() {
		log.Printf("[agent] no plan for %s, skipping code generation", s.CurrentLayer)
		return nil
	}

	reply, err := g.inference.Complete(ctx, codegenSystemPrompt(s.CurrentLayer), codegenUserPrompt(s))
	if err != nil {
		return fmt.Errorf("generate %s code: %w", s.CurrentLayer, err)
	}

	var out codegenOutput
	if err := decodeStructured(codegenSchema, reply, &out); err != nil {
		log.Printf("[agent] code for %s is unstructured, salvaging: %v", s.CurrentLayer, err)
		s.CurrentArtifacts = salvageArtifacts(reply)
		return nil
	}

	s.CurrentArtifacts = models.Artifacts{
		SQL:        nonBlank(out.SQLQueries),
		Script:     strings.TrimSpace(out.PySparkCode),
		Tests:      strings.TrimSpace(out.TestCode),
		Validation: nonBlank(out.ValidationQueries),
	}
	log.Printf("[agent] generated %d statements for %s", len(s.CurrentArtifacts.SQL), s.CurrentLayer)
	return nil
}

// salvageArtifacts recovers fenced SQL from free text and keeps the whole
// reply as the script.
func salvageArtifacts(reply string) models.Artifacts {
	return models.Artifacts{
		SQL:        extractSQLBlocks(reply),
		Script:     strings.TrimSpace(reply),
		Tests:      manualTestsPlaceholder,
		Unverified: true,
	}
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
