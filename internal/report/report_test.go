package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/medallion/pkg/models"
)

func finishedState(t *testing.T) *models.PipelineState {
	t.Helper()
	s := models.NewPipelineState("run-1", "clean orders", "raw.orders")
	score := 91.5
	if err := s.ContextByLayer.Put(models.LayerContext{
		LayerName:         models.LayerBronze,
		OutputReference:   "raw.orders_bronze",
		RowCount:          1200,
		QualityMetrics:    models.QualityMetrics{Completeness: 0.5, AvgQualityScore: &score},
		ApprovalReference: "https://github.com/acme/dw/pull/7",
	}); err != nil {
		t.Fatal(err)
	}
	s.LayersCompleted = []models.Layer{models.LayerBronze}
	s.LayersRemaining = []models.Layer{models.LayerSilver, models.LayerGold}
	s.Submissions = append(s.Submissions, models.SubmissionRecord{
		Layer:  models.LayerBronze,
		Handle: models.ApprovalHandle{ID: "7", URL: "https://github.com/acme/dw/pull/7"},
		Score:  88,
	})
	s.ErrorLog = append(s.ErrorLog, "enrichment failed for silver: boom")
	s.Status = models.RunStatusHalted
	s.Summary = "Bronze landed."
	s.StepsTaken = 9
	s.RunStartedAt = time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	s.RunEndedAt = s.RunStartedAt.Add(90 * time.Second)
	return s
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	if err := Markdown(&buf, finishedState(t)); err != nil {
		t.Fatalf("Markdown() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# Pipeline run run-1",
		"- **Status:** halted",
		"- **Layers remaining:** silver, gold",
		"- **Duration:** 1m30s",
		"## Summary\n\nBronze landed.",
		"| bronze | `raw.orders_bronze` | 1200 | 50.0% | 91.5 | https://github.com/acme/dw/pull/7 |",
		"- bronze: https://github.com/acme/dw/pull/7 (review score 88)",
		"## Errors\n\n- enrichment failed for silver: boom",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Markdown() missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "Waiting on") {
		t.Error("Markdown() mentions a pending approval for a halted run")
	}
}

func TestMarkdownAwaiting(t *testing.T) {
	s := models.NewPipelineState("run-2", "q", "raw.t")
	s.Status = models.RunStatusAwaitingApproval
	s.ApprovalHandle = &models.ApprovalHandle{ID: "medallion/run-2/bronze", Branch: "medallion/run-2/bronze"}

	var buf bytes.Buffer
	if err := Markdown(&buf, s); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "- **Waiting on:** medallion/run-2/bronze") {
		t.Errorf("Markdown() = %s", buf.String())
	}
	if strings.Contains(buf.String(), "## Layers") {
		t.Error("Markdown() rendered an empty layers table")
	}
}

func TestTerminal(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	Terminal(&buf, finishedState(t))
	out := buf.String()

	if !strings.HasPrefix(out, "✗ run-1\n") {
		t.Errorf("Terminal() first line = %q", strings.SplitN(out, "\n", 2)[0])
	}
	if !strings.Contains(out, "  ! enrichment failed for silver: boom") {
		t.Errorf("Terminal() = %s", out)
	}
}

func TestStatusSymbol(t *testing.T) {
	tests := []struct {
		status models.RunStatus
		want   string
	}{
		{models.RunStatusCompleted, "✓"},
		{models.RunStatusCompletedWithWarnings, "⚠"},
		{models.RunStatusAwaitingApproval, "⚠"},
		{models.RunStatusFailed, "✗"},
		{models.RunStatusRunning, "•"},
	}
	for _, tt := range tests {
		if got := StatusSymbol(tt.status); got != tt.want {
			t.Errorf("StatusSymbol(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestHandleRef(t *testing.T) {
	tests := []struct {
		name string
		h    *models.ApprovalHandle
		want string
	}{
		{"nil", nil, ""},
		{"url", &models.ApprovalHandle{ID: "1", URL: "u", Branch: "b"}, "u"},
		{"branch", &models.ApprovalHandle{ID: "1", Branch: "b"}, "b"},
		{"id", &models.ApprovalHandle{ID: "1"}, "1"},
	}
	for _, tt := range tests {
		if got := HandleRef(tt.h); got != tt.want {
			t.Errorf("HandleRef(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDurationOpenRun(t *testing.T) {
	s := models.NewPipelineState("r", "q", "raw.t")
	s.RunStartedAt = time.Now()
	if d := Duration(s); d != 0 {
		t.Errorf("Duration() = %v for an open run", d)
	}
}

func TestMarkdownFatalAndNextSteps(t *testing.T) {
	s := models.NewPipelineState("run-3", "q", "raw.t")
	s.AppendFatal("plan: context canceled")
	s.Status = models.RunStatusFailed

	var buf bytes.Buffer
	if err := Markdown(&buf, s); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "- **fatal:** plan: context canceled") {
		t.Errorf("Markdown() did not flag the fatal error:\n%s", out)
	}
	if !strings.Contains(out, "## Next steps\n\n1. Fix the fatal error above") {
		t.Errorf("Markdown() next steps missing:\n%s", out)
	}
}

func TestNextStepsAwaiting(t *testing.T) {
	s := models.NewPipelineState("run-4", "q", "raw.t")
	s.Status = models.RunStatusAwaitingApproval
	s.ApprovalHandle = &models.ApprovalHandle{ID: "3", URL: "https://github.com/acme/dw/pull/3"}

	steps := NextSteps(s)
	if len(steps) != 2 {
		t.Fatalf("NextSteps() = %v", steps)
	}
	if steps[0] != "Review and merge the bronze change proposal: https://github.com/acme/dw/pull/3" {
		t.Errorf("steps[0] = %q", steps[0])
	}
	if steps[1] != "Resume the run: medallion resume run-4" {
		t.Errorf("steps[1] = %q", steps[1])
	}
}
