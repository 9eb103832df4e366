package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ShayCichocki/medallion/pkg/models"
)

const (
	// defectScoreCap is the highest score artifacts with a syntax defect get.
	defectScoreCap = 60
	// unstructuredCleanScore is given when the advisory reply is unusable
	// and every statement passed the syntax check.
	unstructuredCleanScore = 75
	// unstructuredDefectScore is given when the advisory reply is unusable
	// and a statement failed the syntax check.
	unstructuredDefectScore = 50
)

// Reviewer scores the current artifacts. An independent syntax check
// overrides the advisory model verdict: any defect forces NeedsRevision.
type Reviewer struct {
	inference Inference
	checker   SyntaxChecker
}

// NewReviewer creates a Reviewer. Syntax checks run when wh implements
// SyntaxChecker.
func NewReviewer(inference Inference, wh Warehouse) *Reviewer {
	r := &Reviewer{inference: inference}
	if c, ok := wh.(SyntaxChecker); ok {
		r.checker = c
	}
	return r
}

// ID implements orchestrator.Step.
func (r *Reviewer) ID() models.StepID { return models.StepReview }

// Run implements orchestrator.Step.
func (r *Reviewer) Run(ctx context.Context, s *models.PipelineState) error {
	s.ReviewOutcome = ""
	s.ReviewScore = 0
	s.ReviewComments = nil

	a := s.CurrentArtifacts
	if a.Empty() {
		r.record(s, models.ReviewNeedsRevision, 0, []string{"No executable statements to review."})
		return nil
	}

	defects := r.syntaxDefects(ctx, s)

	reply, err := r.inference.Complete(ctx, reviewSystemPrompt, reviewUserPrompt(s, defects))
	if err != nil {
		r.record(s, models.ReviewNeedsRevision, 0, []string{fmt.Sprintf("Review failed: %v", err)})
		return fmt.Errorf("review %s code: %w", s.CurrentLayer, err)
	}

	var (
		outcome  models.ReviewOutcome
		score    float64
		comments []string
		out      reviewOutput
	)
	if err := decodeStructured(reviewSchema, reply, &out); err != nil {
		log.Printf("[agent] review of %s is unstructured: %v", s.CurrentLayer, err)
		outcome, score = models.ReviewApproved, unstructuredCleanScore
		if len(defects) > 0 {
			outcome, score = models.ReviewNeedsRevision, unstructuredDefectScore
		}
		comments = []string{"Review completed with limited analysis."}
	} else {
		outcome = parseOutcome(out.Status)
		score = out.QualityScore
		comments = append(comments, out.Comments...)
		for _, issue := range out.SecurityIssues {
			comments = append(comments, "Security: "+issue)
		}
	}

	if len(defects) > 0 {
		outcome = models.ReviewNeedsRevision
		score = min(score, defectScoreCap)
		merged := append([]string{"SQL syntax validation failed."}, defects...)
		comments = append(merged, comments...)
	}
	if a.Unverified {
		comments = append(comments, "Artifacts were salvaged from an unstructured reply and need manual verification.")
	}

	r.record(s, outcome, score, comments)
	return nil
}

// syntaxDefects checks every statement with its tokens substituted. A check
// that cannot run counts as a defect.
func (r *Reviewer) syntaxDefects(ctx context.Context, s *models.PipelineState) []string {
	if r.checker == nil {
		return nil
	}
	source, target := layerIO(s)
	var defects []string
	for i, q := range s.CurrentArtifacts.SQL {
		if err := r.checker.ValidateSyntax(ctx, renderSQL(q, source, target)); err != nil {
			defects = append(defects, fmt.Sprintf("Statement %d: %v", i+1, err))
		}
	}
	return defects
}

func (r *Reviewer) record(s *models.PipelineState, outcome models.ReviewOutcome, score float64, comments []string) {
	s.ReviewOutcome = outcome
	s.ReviewScore = clampScore(score)
	s.ReviewComments = comments
	log.Printf("[agent] reviewed %s: %s (score %.0f/100)", s.CurrentLayer, outcome, s.ReviewScore)
}

// parseOutcome maps a model verdict onto the closed outcome set. Anything
// unrecognized needs revision.
func parseOutcome(status string) models.ReviewOutcome {
	norm := strings.ToUpper(strings.TrimSpace(status))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	if o := models.ReviewOutcome(norm); o.Valid() {
		return o
	}
	return models.ReviewNeedsRevision
}

func clampScore(score float64) float64 {
	return max(0, min(100, score))
}
