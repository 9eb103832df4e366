package agent

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/ShayCichocki/medallion/internal/archive"
	"github.com/ShayCichocki/medallion/internal/orchestrator"
	"github.com/ShayCichocki/medallion/internal/proposal"
	"github.com/ShayCichocki/medallion/pkg/models"
)

// maxTitleQueryLen bounds the request text quoted in proposal titles.
const maxTitleQueryLen = 60

// Submitter opens a change proposal for the reviewed artifacts. It submits
// each layer at most once per run.
type Submitter struct {
	proposals Proposals
	archive   Archive
	now       func() time.Time
}

// NewSubmitter creates a Submitter. The archive is optional.
func NewSubmitter(proposals Proposals, arch Archive, now func() time.Time) *Submitter {
	if now == nil {
		now = time.Now
	}
	return &Submitter{proposals: proposals, archive: arch, now: now}
}

// ID implements orchestrator.Step.
func (p *Submitter) ID() models.StepID { return models.StepSubmit }

// Run implements orchestrator.Step.
func (p *Submitter) Run(ctx context.Context, s *models.PipelineState) error {
	if rec, ok := s.SubmissionFor(s.CurrentLayer); ok {
		if s.ApprovalHandle.IsZero() {
			h := rec.Handle
			s.ApprovalHandle = &h
		}
		log.Printf("[agent] %s already submitted as %s", s.CurrentLayer, rec.Handle.ID)
		return nil
	}
	if s.ReviewOutcome != models.ReviewApproved {
		return orchestrator.Fatalf(models.StepSubmit, "layer %s reached submit with review outcome %q", s.CurrentLayer, s.ReviewOutcome)
	}

	req := proposal.Request{
		RunID:     s.RunID,
		Layer:     s.CurrentLayer,
		Title:     proposalTitle(s),
		Body:      proposalBody(s),
		Artifacts: s.CurrentArtifacts,
	}
	h, err := p.proposals.CreateProposal(ctx, req)
	if err != nil {
		return fmt.Errorf("submit %s: %w", s.CurrentLayer, err)
	}
	if h.ID == "" {
		return fmt.Errorf("submit %s: proposal service returned no handle", s.CurrentLayer)
	}
	// Approval is only ever taken from a status check.
	h.Approved = false

	s.ApprovalHandle = &h
	s.Submissions = append(s.Submissions, models.SubmissionRecord{
		Layer:     s.CurrentLayer,
		Handle:    h,
		Score:     s.ReviewScore,
		CreatedAt: p.now(),
	})
	log.Printf("[agent] submitted %s as %s", s.CurrentLayer, handleRef(&h))

	p.archiveArtifacts(ctx, req)
	return nil
}

func (p *Submitter) archiveArtifacts(ctx context.Context, req proposal.Request) {
	if p.archive == nil {
		return
	}
	for _, f := range proposal.Files("", req) {
		name := path.Base(f.Path)
		key := archive.Key(req.RunID, req.Layer, name)
		if err := p.archive.Put(ctx, key, []byte(f.Content), contentType(name)); err != nil {
			log.Printf("[agent] archive %s failed: %v", key, err)
		}
	}
}

func proposalTitle(s *models.PipelineState) string {
	q := strings.Join(strings.Fields(s.Query), " ")
	if len(q) > maxTitleQueryLen {
		q = truncate(q, maxTitleQueryLen) + "..."
	}
	return fmt.Sprintf("[%s] %s", s.CurrentLayer, q)
}

func proposalBody(s *models.PipelineState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s layer transformation\n\n", strings.ToUpper(string(s.CurrentLayer)))
	fmt.Fprintf(&b, "- **Run:** `%s`\n", s.RunID)
	fmt.Fprintf(&b, "- **Request:** %s\n", s.Query)
	source, target := layerIO(s)
	fmt.Fprintf(&b, "- **Input:** `%s`\n", source)
	fmt.Fprintf(&b, "- **Output:** `%s`\n", target)
	fmt.Fprintf(&b, "- **Review score:** %.0f/100\n\n", s.ReviewScore)

	fmt.Fprintf(&b, "### Plan\n\n%s\n\n", truncate(s.CurrentPlan.Transformation, maxPlanExcerpt))
	if s.CurrentPlan.Tests != "" {
		fmt.Fprintf(&b, "### Test plan\n\n%s\n\n", s.CurrentPlan.Tests)
	}
	if len(s.ReviewComments) > 0 {
		fmt.Fprintf(&b, "### Review\n\n- %s\n\n", strings.Join(s.ReviewComments, "\n- "))
	}
	b.WriteString("Merging this proposal approves execution of the layer. Resume the run afterwards.\n")
	return b.String()
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".sql":
		return "application/sql"
	case ".py":
		return "text/x-python"
	}
	return "text/plain"
}
