package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/medallion/internal/orchestrator"
	"github.com/ShayCichocki/medallion/pkg/models"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func approvedSilverState() *models.PipelineState {
	s := silverState()
	s.CurrentPlan = models.Plan{Transformation: "dedupe orders", Tests: "unique order_id"}
	s.CurrentArtifacts = models.Artifacts{
		SQL:        []string{"CREATE TABLE {{target}} AS SELECT DISTINCT * FROM {{source}}"},
		Tests:      "def test(): pass",
		Validation: []string{"SELECT COUNT(*) FROM {{target}}"},
	}
	s.ReviewOutcome = models.ReviewApproved
	s.ReviewScore = 85
	s.ReviewComments = []string{"clean"}
	return s
}

func TestSubmitterCreatesProposal(t *testing.T) {
	props := &fakeProposals{}
	arch := &fakeArchive{}
	s := approvedSilverState()

	if err := NewSubmitter(props, arch, fixedNow).Run(context.Background(), s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(props.created) != 1 {
		t.Fatalf("created %d proposals, want 1", len(props.created))
	}
	req := props.created[0]
	if req.Title != "[silver] clean customer orders" {
		t.Errorf("Title = %q", req.Title)
	}
	for _, want := range []string{"run-1234abcd", "raw.orders_bronze", "raw.orders_silver", "85/100", "dedupe orders"} {
		if !strings.Contains(req.Body, want) {
			t.Errorf("Body missing %q", want)
		}
	}

	if s.ApprovalHandle.IsZero() || s.ApprovalHandle.ID != "42" {
		t.Fatalf("ApprovalHandle = %+v", s.ApprovalHandle)
	}
	if s.ApprovalHandle.Approved {
		t.Error("a new proposal must not be marked approved")
	}
	if len(s.Submissions) != 1 {
		t.Fatalf("Submissions = %d, want 1", len(s.Submissions))
	}
	rec := s.Submissions[0]
	if rec.Layer != models.LayerSilver || rec.Score != 85 || !rec.CreatedAt.Equal(fixedNow()) {
		t.Errorf("Submission = %+v", rec)
	}
	if len(arch.keys) == 0 || !strings.HasPrefix(arch.keys[0], "runs/run-1234abcd/silver/") {
		t.Errorf("archive keys = %q", arch.keys)
	}
}

func TestSubmitterIsIdempotentPerLayer(t *testing.T) {
	props := &fakeProposals{}
	s := approvedSilverState()
	sub := NewSubmitter(props, nil, fixedNow)

	if err := sub.Run(context.Background(), s); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	s.ApprovalHandle = nil
	if err := sub.Run(context.Background(), s); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(props.created) != 1 {
		t.Errorf("created %d proposals, want 1", len(props.created))
	}
	if len(s.Submissions) != 1 {
		t.Errorf("Submissions = %d, want 1", len(s.Submissions))
	}
	if s.ApprovalHandle.IsZero() || s.ApprovalHandle.ID != "42" {
		t.Errorf("ApprovalHandle should be restored from the submission, got %+v", s.ApprovalHandle)
	}
}

func TestSubmitterRequiresApprovedReview(t *testing.T) {
	s := approvedSilverState()
	s.ReviewOutcome = models.ReviewNeedsRevision

	err := NewSubmitter(&fakeProposals{}, nil, fixedNow).Run(context.Background(), s)
	if !orchestrator.IsFatal(err) {
		t.Errorf("Run() error = %v, want a fatal error", err)
	}
}

func TestSubmitterCreateFailure(t *testing.T) {
	s := approvedSilverState()
	props := &fakeProposals{createErr: errors.New("403 forbidden")}

	err := NewSubmitter(props, nil, fixedNow).Run(context.Background(), s)
	if err == nil || orchestrator.IsFatal(err) {
		t.Fatalf("Run() error = %v, want a non-fatal error", err)
	}
	if !s.ApprovalHandle.IsZero() {
		t.Error("no handle should be set after a failed submission")
	}
	if len(s.Submissions) != 0 {
		t.Error("no submission should be recorded after a failed submission")
	}
}

func TestSubmitterArchiveFailureIsNotAnError(t *testing.T) {
	s := approvedSilverState()
	arch := &fakeArchive{err: errors.New("bucket unavailable")}

	if err := NewSubmitter(&fakeProposals{}, arch, fixedNow).Run(context.Background(), s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.ApprovalHandle.IsZero() {
		t.Error("submission should succeed when archiving fails")
	}
}

func TestProposalTitleTruncatesLongRequests(t *testing.T) {
	s := approvedSilverState()
	s.Query = strings.Repeat("word ", 40)
	title := proposalTitle(s)
	if !strings.HasSuffix(title, "...") {
		t.Errorf("proposalTitle() = %q, want a truncated title", title)
	}
	if len(title) > len("[silver] ")+maxTitleQueryLen+3 {
		t.Errorf("proposalTitle() is %d bytes", len(title))
	}
}
