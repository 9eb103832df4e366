// Package report renders pipeline runs for people: a markdown document for
// sharing and a compact colored summary for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// Markdown writes a markdown report of s to w.
func Markdown(w io.Writer, s *models.PipelineState) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Pipeline run %s\n\n", s.RunID)
	fmt.Fprintf(&b, "- **Request:** %s\n", s.Query)
	fmt.Fprintf(&b, "- **Source:** `%s`\n", s.SourceReference)
	fmt.Fprintf(&b, "- **Status:** %s\n", s.Status)
	fmt.Fprintf(&b, "- **Layers completed:** %s\n", layerList(s.LayersCompleted))
	if len(s.LayersRemaining) > 0 {
		fmt.Fprintf(&b, "- **Layers remaining:** %s\n", layerList(s.LayersRemaining))
	}
	fmt.Fprintf(&b, "- **Steps taken:** %d\n", s.StepsTaken)
	if d := Duration(s); d > 0 {
		fmt.Fprintf(&b, "- **Duration:** %s\n", d.Round(time.Second))
	}
	if s.Status == models.RunStatusAwaitingApproval && !s.ApprovalHandle.IsZero() {
		fmt.Fprintf(&b, "- **Waiting on:** %s\n", HandleRef(s.ApprovalHandle))
	}
	b.WriteString("\n")

	if s.Summary != "" {
		fmt.Fprintf(&b, "## Summary\n\n%s\n\n", strings.TrimSpace(s.Summary))
	}

	if s.ContextByLayer != nil && s.ContextByLayer.Len() > 0 {
		b.WriteString("## Layers\n\n")
		b.WriteString("| Layer | Table | Rows | Completeness | Avg quality | Proposal |\n")
		b.WriteString("|---|---|---:|---:|---:|---|\n")
		for _, l := range s.ContextByLayer.Layers() {
			c, _ := s.ContextByLayer.Get(l)
			fmt.Fprintf(&b, "| %s | `%s` | %d | %s | %s | %s |\n",
				l, c.OutputReference, c.RowCount,
				Percent(c.QualityMetrics.Completeness),
				avgScore(c.QualityMetrics.AvgQualityScore),
				orDash(c.ApprovalReference))
		}
		b.WriteString("\n")
	}

	if len(s.Submissions) > 0 {
		b.WriteString("## Change proposals\n\n")
		for _, sub := range s.Submissions {
			fmt.Fprintf(&b, "- %s: %s (review score %.0f)\n", sub.Layer, HandleRef(&sub.Handle), sub.Score)
		}
		b.WriteString("\n")
	}

	if len(s.ErrorLog) > 0 {
		b.WriteString("## Errors\n\n")
		for _, e := range s.ErrorLog {
			if strings.HasPrefix(e, models.FatalMarker) {
				fmt.Fprintf(&b, "- **fatal:** %s\n", strings.TrimSpace(strings.TrimPrefix(e, models.FatalMarker)))
				continue
			}
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}

	if steps := NextSteps(s); len(steps) > 0 {
		b.WriteString("## Next steps\n\n")
		for i, step := range steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// NextSteps lists what the run's owner should do next.
func NextSteps(s *models.PipelineState) []string {
	switch s.Status {
	case models.RunStatusAwaitingApproval:
		steps := []string{}
		if ref := HandleRef(s.ApprovalHandle); ref != "" {
			steps = append(steps, fmt.Sprintf("Review and merge the %s change proposal: %s", s.CurrentLayer, ref))
		}
		return append(steps, fmt.Sprintf("Resume the run: medallion resume %s", s.RunID))
	case models.RunStatusHalted:
		return []string{
			"Check the review comments and errors above",
			"Adjust the request or the transformation rules and start a new run",
		}
	case models.RunStatusFailed:
		return []string{"Fix the fatal error above and start a new run"}
	case models.RunStatusCompletedWithWarnings:
		return []string{"Check the warnings above before relying on the output tables"}
	case models.RunStatusCompleted:
		if len(s.Submissions) > 0 {
			return []string{"Make sure every change proposal is merged"}
		}
	}
	return nil
}

// Terminal writes a short colored summary of s to w.
func Terminal(w io.Writer, s *models.PipelineState) {
	fmt.Fprintf(w, "%s %s\n", StatusColor(s.Status).Sprint(StatusSymbol(s.Status)), color.New(color.Bold).Sprint(s.RunID))
	fmt.Fprintf(w, "  status:    %s\n", StatusColor(s.Status).Sprint(s.Status))
	fmt.Fprintf(w, "  request:   %s\n", s.Query)
	fmt.Fprintf(w, "  source:    %s\n", s.SourceReference)
	fmt.Fprintf(w, "  completed: %s\n", layerList(s.LayersCompleted))
	if len(s.LayersRemaining) > 0 {
		fmt.Fprintf(w, "  remaining: %s\n", layerList(s.LayersRemaining))
	}
	if s.Status == models.RunStatusAwaitingApproval && !s.ApprovalHandle.IsZero() {
		fmt.Fprintf(w, "  waiting:   %s\n", color.YellowString(HandleRef(s.ApprovalHandle)))
	}
	for _, e := range s.ErrorLog {
		fmt.Fprintf(w, "  %s %s\n", color.RedString("!"), e)
	}
}

// StatusColor returns the color used for a run status.
func StatusColor(st models.RunStatus) *color.Color {
	switch st {
	case models.RunStatusCompleted:
		return color.New(color.FgGreen)
	case models.RunStatusCompletedWithWarnings, models.RunStatusAwaitingApproval:
		return color.New(color.FgYellow)
	case models.RunStatusFailed:
		return color.New(color.FgRed)
	case models.RunStatusHalted, models.RunStatusDiscarded:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgCyan)
	}
}

// StatusSymbol returns the one-character marker for a run status.
func StatusSymbol(st models.RunStatus) string {
	switch st {
	case models.RunStatusCompleted:
		return "✓"
	case models.RunStatusCompletedWithWarnings, models.RunStatusAwaitingApproval:
		return "⚠"
	case models.RunStatusFailed, models.RunStatusHalted, models.RunStatusDiscarded:
		return "✗"
	default:
		return "•"
	}
}

// Duration returns how long a finished run took. Zero for open runs.
func Duration(s *models.PipelineState) time.Duration {
	if s.RunStartedAt.IsZero() || s.RunEndedAt.IsZero() {
		return 0
	}
	return s.RunEndedAt.Sub(s.RunStartedAt)
}

// HandleRef returns the most useful reference to a change proposal.
func HandleRef(h *models.ApprovalHandle) string {
	if h.IsZero() {
		return ""
	}
	if h.URL != "" {
		return h.URL
	}
	if h.Branch != "" {
		return h.Branch
	}
	return h.ID
}

// Percent formats a 0..1 ratio.
func Percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func avgScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}

func layerList(layers []models.Layer) string {
	if len(layers) == 0 {
		return "none"
	}
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = string(l)
	}
	return strings.Join(names, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
