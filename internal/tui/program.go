package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/medallion/internal/orchestrator"
)

// NewProgressProgram creates a TUI program for a run.
func NewProgressProgram(query, source string) (*tea.Program, *ProgressView) {
	view := NewProgressView(query, source)
	p := tea.NewProgram(view, tea.WithAltScreen())
	return p, view
}

// Sender is the part of tea.Program used to deliver messages.
type Sender interface {
	Send(msg tea.Msg)
}

// ForwardEvents delivers orchestrator events to the program until the
// channel is closed.
func ForwardEvents(p Sender, events <-chan orchestrator.Event) {
	for e := range events {
		p.Send(EventMsg{Event: e})
	}
}
