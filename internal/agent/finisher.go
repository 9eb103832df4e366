package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// Finisher writes the run's executive summary.
type Finisher struct {
	inference Inference
}

// NewFinisher creates a Finisher. Without inference it writes the static
// summary.
func NewFinisher(inference Inference) *Finisher {
	return &Finisher{inference: inference}
}

// ID implements orchestrator.Step.
func (f *Finisher) ID() models.StepID { return models.StepFinish }

// Run implements orchestrator.Step. A failed or empty summary falls back to
// the static one and is not an error.
func (f *Finisher) Run(ctx context.Context, s *models.PipelineState) error {
	if f.inference == nil {
		s.Summary = StaticSummary(s)
		return nil
	}
	reply, err := f.inference.Complete(ctx, summarySystemPrompt, summaryUserPrompt(s))
	if err != nil || strings.TrimSpace(reply) == "" {
		log.Printf("[agent] summary unavailable for run %s, using static summary: %v", s.RunID, err)
		s.Summary = StaticSummary(s)
		return nil
	}
	s.Summary = strings.TrimSpace(reply)
	return nil
}

// StaticSummary describes a run without inference.
func StaticSummary(s *models.PipelineState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline run for %q processed %d of %d layers",
		s.Query, len(s.LayersCompleted), len(s.TargetLayers))
	if len(s.LayersCompleted) > 0 {
		fmt.Fprintf(&b, " (%s)", joinLayers(s.LayersCompleted))
	}
	b.WriteString(".")
	if len(s.LayersRemaining) > 0 {
		fmt.Fprintf(&b, " Remaining: %s.", joinLayers(s.LayersRemaining))
	}
	if n := len(s.ErrorLog); n > 0 {
		fmt.Fprintf(&b, " %d errors were recorded.", n)
	}
	b.WriteString(" Review the change proposals and execution logs for details.")
	return b.String()
}
