package orchestrator

import (
	"context"
	"time"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// Checkpointer persists the state after every step so a paused or crashed
// run can be picked up by another process.
type Checkpointer interface {
	Checkpoint(ctx context.Context, s *models.PipelineState) error
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*Orchestrator)

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithEvents sets the event emitter.
func WithEvents(e *EventEmitter) Option {
	return func(o *Orchestrator) { o.events = e }
}

// WithCheckpointer sets the store that receives a copy of the state after
// every step.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *Orchestrator) { o.checkpointer = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}
