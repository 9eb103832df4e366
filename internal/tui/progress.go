package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/medallion/internal/orchestrator"
	"github.com/ShayCichocki/medallion/pkg/models"
)

// maxActivity bounds the activity log kept on screen.
const maxActivity = 12

// EventMsg wraps an orchestrator event for the TUI.
type EventMsg struct {
	Event orchestrator.Event
}

// RunDoneMsg signals that the run returned.
type RunDoneMsg struct {
	State *models.PipelineState
	Err   error
}

// layerState is the display state of one layer row.
type layerState int

const (
	layerPending layerState = iota
	layerActive
	layerWaiting
	layerDone
	layerFailed
)

type activity struct {
	at      time.Time
	message string
	failed  bool
}

// ProgressView displays one run's progress through the layers.
type ProgressView struct {
	runID   string
	query   string
	source  string
	layers  []models.Layer
	states  map[models.Layer]layerState
	steps   map[models.Layer]models.StepID
	current models.Layer
	log     []activity
	spinner spinner.Model

	done     bool
	final    *models.PipelineState
	finalErr error
	quitting bool
	width    int

	// Styles
	headerStyle  lipgloss.Style
	labelStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	pendingStyle lipgloss.Style
	activeStyle  lipgloss.Style
	doneStyle    lipgloss.Style
	waitStyle    lipgloss.Style
	failStyle    lipgloss.Style
	timeStyle    lipgloss.Style
	footerStyle  lipgloss.Style
}

// NewProgressView creates a view for a run on source.
func NewProgressView(query, source string) *ProgressView {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	layers := models.CanonicalLayers()
	states := make(map[models.Layer]layerState, len(layers))
	for _, l := range layers {
		states[l] = layerPending
	}

	return &ProgressView{
		query:   query,
		source:  source,
		layers:  layers,
		states:  states,
		steps:   make(map[models.Layer]models.StepID),
		spinner: s,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(10),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		pendingStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		activeStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
		doneStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		waitStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		failStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		timeStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		footerStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1),
	}
}

// Init implements tea.Model.
func (v *ProgressView) Init() tea.Cmd {
	return v.spinner.Tick
}

// Update implements tea.Model.
func (v *ProgressView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			v.quitting = true
			return v, tea.Quit
		}

	case tea.WindowSizeMsg:
		v.width = msg.Width

	case spinner.TickMsg:
		if v.done {
			return v, nil
		}
		var cmd tea.Cmd
		v.spinner, cmd = v.spinner.Update(msg)
		return v, cmd

	case EventMsg:
		v.handleEvent(msg.Event)

	case RunDoneMsg:
		v.done = true
		v.final = msg.State
		v.finalErr = msg.Err
		if msg.State != nil {
			v.syncFinal(msg.State)
		}
	}
	return v, nil
}

func (v *ProgressView) handleEvent(e orchestrator.Event) {
	if e.RunID != "" {
		v.runID = e.RunID
	}
	layer := e.Layer
	if layer != "" {
		v.current = layer
	}

	switch e.Type {
	case orchestrator.EventRunStarted:
		v.addActivity(e.Timestamp, fmt.Sprintf("run started (%s)", e.Message), false)
	case orchestrator.EventStepStarted:
		if layer != "" && e.Step != models.StepFinish {
			v.states[layer] = layerActive
			v.steps[layer] = e.Step
		}
	case orchestrator.EventStepCompleted:
		if layer != "" && e.Step == models.StepEnrich {
			v.states[layer] = layerDone
		}
		v.addActivity(e.Timestamp, fmt.Sprintf("%s %s done in %s", layer, e.Step, e.Message), false)
	case orchestrator.EventStepFailed:
		if layer != "" && (e.Fatal || e.Step == models.StepEnrich) {
			v.states[layer] = layerFailed
		}
		v.addActivity(e.Timestamp, fmt.Sprintf("%s %s failed: %s", layer, e.Step, e.Message), true)
	case orchestrator.EventRunPaused:
		if layer != "" {
			v.states[layer] = layerWaiting
		}
		v.addActivity(e.Timestamp, fmt.Sprintf("%s paused: %s", layer, e.Message), false)
	case orchestrator.EventRunFinished:
		v.addActivity(e.Timestamp, "run finished: "+e.Message, false)
	}
}

// syncFinal makes the rows agree with the returned state.
func (v *ProgressView) syncFinal(s *models.PipelineState) {
	v.runID = s.RunID
	for _, l := range s.LayersCompleted {
		v.states[l] = layerDone
	}
	if s.Status == models.RunStatusAwaitingApproval {
		v.states[s.CurrentLayer] = layerWaiting
	}
	for _, l := range v.layers {
		if v.states[l] == layerActive {
			v.states[l] = layerFailed
		}
	}
}

func (v *ProgressView) addActivity(at time.Time, message string, failed bool) {
	if at.IsZero() {
		at = time.Now()
	}
	v.log = append(v.log, activity{at: at, message: strings.TrimSpace(message), failed: failed})
	if len(v.log) > maxActivity {
		v.log = v.log[len(v.log)-maxActivity:]
	}
}

// View implements tea.Model.
func (v *ProgressView) View() string {
	if v.quitting && !v.done {
		return "Detached. The run continues in the background until it pauses or finishes.\n"
	}

	var b strings.Builder
	b.WriteString(v.headerStyle.Render("Medallion pipeline"))
	b.WriteString("\n")

	v.writeField(&b, "Run:", orDash(v.runID))
	v.writeField(&b, "Request:", v.query)
	v.writeField(&b, "Source:", v.source)
	b.WriteString("\n")

	completed := 0
	for _, l := range v.layers {
		if v.states[l] == layerDone {
			completed++
		}
		b.WriteString(v.renderLayer(l))
		b.WriteString("\n")
	}
	b.WriteString(v.renderProgressBar(float64(completed)/float64(len(v.layers))*100, 30))
	b.WriteString("\n")

	if len(v.log) > 0 {
		b.WriteString("\n")
		for _, a := range v.log {
			style := v.valueStyle.UnsetBold()
			if a.failed {
				style = v.failStyle
			}
			b.WriteString("  ")
			b.WriteString(v.timeStyle.Render(a.at.Format("15:04:05")))
			b.WriteString(" ")
			b.WriteString(style.Render(a.message))
			b.WriteString("\n")
		}
	}

	if v.done {
		b.WriteString("\n")
		b.WriteString(v.renderResult())
		b.WriteString("\n")
	}

	b.WriteString(v.footerStyle.Render("q: quit"))
	return b.String()
}

func (v *ProgressView) writeField(b *strings.Builder, label, value string) {
	b.WriteString(v.labelStyle.Render(label))
	b.WriteString(v.valueStyle.Render(value))
	b.WriteString("\n")
}

func (v *ProgressView) renderLayer(l models.Layer) string {
	name := fmt.Sprintf("%-7s", strings.ToUpper(string(l)))
	switch v.states[l] {
	case layerActive:
		return fmt.Sprintf("  %s %s %s", v.spinner.View(), v.activeStyle.Render(name), v.activeStyle.Render(v.steps[l].String()))
	case layerWaiting:
		return fmt.Sprintf("  %s %s %s", v.waitStyle.Render("⏸"), v.waitStyle.Render(name), v.waitStyle.Render("awaiting approval"))
	case layerDone:
		return fmt.Sprintf("  %s %s %s", v.doneStyle.Render("✓"), v.doneStyle.Render(name), v.doneStyle.Render("done"))
	case layerFailed:
		return fmt.Sprintf("  %s %s %s", v.failStyle.Render("✗"), v.failStyle.Render(name), v.failStyle.Render("stopped"))
	default:
		return fmt.Sprintf("  %s %s %s", v.pendingStyle.Render("·"), v.pendingStyle.Render(name), v.pendingStyle.Render("pending"))
	}
}

func (v *ProgressView) renderResult() string {
	if v.finalErr != nil {
		return v.failStyle.Render("Error: " + v.finalErr.Error())
	}
	if v.final == nil {
		return ""
	}
	s := v.final
	switch s.Status {
	case models.RunStatusCompleted:
		return v.doneStyle.Render(fmt.Sprintf("Completed %d layers.", len(s.LayersCompleted)))
	case models.RunStatusAwaitingApproval:
		ref := ""
		if !s.ApprovalHandle.IsZero() {
			ref = s.ApprovalHandle.URL
			if ref == "" {
				ref = s.ApprovalHandle.ID
			}
		}
		return v.waitStyle.Render(fmt.Sprintf("Waiting for approval of %s. Resume with: medallion resume %s", ref, s.RunID))
	case models.RunStatusCompletedWithWarnings:
		return v.waitStyle.Render(fmt.Sprintf("Completed with %d warnings.", len(s.ErrorLog)))
	default:
		return v.failStyle.Render(fmt.Sprintf("Run %s.", s.Status))
	}
}

// renderProgressBar creates a visual progress bar.
func (v *ProgressView) renderProgressBar(pct float64, width int) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	filled := int(pct / 100 * float64(width))
	empty := width - filled

	bar := v.doneStyle.Render(strings.Repeat("█", filled)) +
		v.pendingStyle.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("  %s %.0f%%", bar, pct)
}

// Final returns the state the run returned, once done.
func (v *ProgressView) Final() (*models.PipelineState, error) {
	return v.final, v.finalErr
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
