package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// MaxSteps bounds the steps one invocation of Run may take: every layer
// passes through each per-layer step once, plus Finish.
var MaxSteps = len(models.CanonicalLayers())*models.LayerStepCount + 1

// Step is one node of the pipeline graph. Run reads and updates the state.
// A returned error is recorded in the error log; errors matching ErrFatal
// abort the run.
type Step interface {
	ID() models.StepID
	Run(ctx context.Context, s *models.PipelineState) error
}

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	Step models.StepID
	Fn   func(ctx context.Context, s *models.PipelineState) error
}

// ID implements Step.
func (f StepFunc) ID() models.StepID { return f.Step }

// Run implements Step.
func (f StepFunc) Run(ctx context.Context, s *models.PipelineState) error { return f.Fn(ctx, s) }

// Orchestrator drives pipeline states through the step graph. It keeps no
// per-run data and may be shared by concurrent runs with distinct states.
type Orchestrator struct {
	steps        [models.StepCount]Step
	logger       *DebugLogger
	events       *EventEmitter
	checkpointer Checkpointer
	now          func() time.Time
}

// New creates an Orchestrator. Every step except AwaitApproval must be
// provided exactly once.
func New(steps []Step, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		logger: NopLogger(),
		now:    time.Now,
	}
	for _, st := range steps {
		id := st.ID()
		if !id.Valid() || id == models.StepAwaitApproval {
			return nil, fmt.Errorf("register step: %s is not a runnable step", id)
		}
		if o.steps[id] != nil {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, id)
		}
		o.steps[id] = st
	}
	for _, id := range models.AllSteps() {
		if id != models.StepAwaitApproval && o.steps[id] == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingStep, id)
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run drives s until it reaches Finish or pauses for approval, and returns
// it. A fresh state enters at Plan; a paused state (ResumeStep set) enters
// at its resume point without repeating Plan, Generate or Review.
func (o *Orchestrator) Run(ctx context.Context, s *models.PipelineState) *models.PipelineState {
	if s == nil {
		s = models.NewPipelineState("", "", "")
		s.AppendFatal("run started without a pipeline state")
		s.RunStartedAt = o.now()
		o.finish(ctx, s)
		return s
	}
	if s.ContextByLayer == nil {
		s.ContextByLayer = models.NewContextStore()
	}
	if s.RunStartedAt.IsZero() {
		s.RunStartedAt = o.now()
	}

	current, err := o.entry(s)
	s.ResumeStep = 0
	s.Status = models.RunStatusRunning
	o.emit(s, Event{Type: EventRunStarted, Step: current, Message: fmt.Sprintf("entering at %s", current)})
	if err != nil {
		o.fatal(s, 0, err)
		current = models.StepFinish
	}

	taken := 0
	for {
		if current == models.StepAwaitApproval {
			o.pause(ctx, s)
			return s
		}
		if current == models.StepFinish {
			o.finish(ctx, s)
			return s
		}
		if err := ctx.Err(); err != nil {
			o.fatal(s, current, fmt.Errorf("run cancelled before %s: %w", current, err))
			current = models.StepFinish
			continue
		}
		if taken >= MaxSteps {
			o.fatal(s, current, fmt.Errorf("step limit %d reached before %s", MaxSteps, current))
			current = models.StepFinish
			continue
		}
		taken++

		before := takeSnapshot(s)
		err := o.runStep(ctx, current, s)
		if IsFatal(err) {
			o.fatal(s, current, err)
			current = models.StepFinish
			continue
		}
		if err != nil {
			s.AppendError("%s (%s): %v", current, s.CurrentLayer, err)
		}
		if verr := checkStep(current, before, s); verr != nil {
			o.fatal(s, current, verr)
			current = models.StepFinish
			continue
		}
		o.checkpoint(ctx, s)

		next := Next(s, current)
		o.logger.Log("[%s] %s/%s -> %s", s.RunID, s.CurrentLayer, current, next)
		if current == models.StepEnrich && next == models.StepPlan {
			s.BeginLayer(s.LayersRemaining[0])
			log.Printf("[orchestrator] run %s: moving to layer %s (completed: %v)", s.RunID, s.CurrentLayer, s.LayersCompleted)
		}
		current = next
	}
}

// entry returns the first step of this invocation.
func (o *Orchestrator) entry(s *models.PipelineState) (models.StepID, error) {
	if s.ResumeStep == 0 {
		if err := checkFreshState(s); err != nil {
			return models.StepPlan, fmt.Errorf("invalid initial state: %w", err)
		}
		return models.StepPlan, nil
	}
	if err := checkResumableState(s); err != nil {
		return s.ResumeStep, fmt.Errorf("invalid resume state: %w", err)
	}
	return s.ResumeStep, nil
}

// runStep runs one step, converting a panic into a fatal error.
func (o *Orchestrator) runStep(ctx context.Context, id models.StepID, s *models.PipelineState) (err error) {
	st := o.steps[id]
	o.emit(s, Event{Type: EventStepStarted, Step: id})
	start := o.now()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[orchestrator] run %s: step %s panicked: %v", s.RunID, id, r)
			err = Fatalf(id, "panic: %v", r)
		}
		if err != nil {
			o.emit(s, Event{Type: EventStepFailed, Step: id, Err: err, Fatal: IsFatal(err), Message: err.Error()})
			return
		}
		o.emit(s, Event{Type: EventStepCompleted, Step: id, Message: o.now().Sub(start).Round(time.Millisecond).String()})
	}()

	s.StepsTaken++
	return st.Run(ctx, s)
}

// fatal records a fatal error. Its message carries the fatal marker.
func (o *Orchestrator) fatal(s *models.PipelineState, step models.StepID, err error) {
	var fe *FatalError
	if !errors.As(err, &fe) && step.Valid() {
		err = &FatalError{Step: step, Err: err}
	}
	s.AppendFatal(err.Error())
	log.Printf("[orchestrator] run %s: fatal: %v", s.RunID, err)
	o.logger.Log("[%s] FATAL %v", s.RunID, err)
}

// pause records the resume point and stops without running Finish.
func (o *Orchestrator) pause(ctx context.Context, s *models.PipelineState) {
	s.ResumeStep = ResumePoint(s)
	s.Status = models.RunStatusAwaitingApproval
	log.Printf("[orchestrator] run %s: layer %s awaiting approval, resume at %s", s.RunID, s.CurrentLayer, s.ResumeStep)
	o.checkpoint(ctx, s)
	o.emit(s, Event{Type: EventRunPaused, Step: models.StepAwaitApproval, Message: "awaiting approval"})
}

// finish runs the Finish step and seals the run.
func (o *Orchestrator) finish(ctx context.Context, s *models.PipelineState) {
	s.Status = FinalStatus(s)
	if st := o.steps[models.StepFinish]; st != nil {
		// Finish runs even after cancellation so the caller gets a summary.
		err := o.runStep(context.WithoutCancel(ctx), models.StepFinish, s)
		if err != nil {
			s.AppendError("%s: %v", models.StepFinish, err)
		}
	}
	s.ResumeStep = 0
	s.Status = FinalStatus(s)
	s.RunEndedAt = o.now()
	o.checkpoint(ctx, s)
	o.emit(s, Event{Type: EventRunFinished, Step: models.StepFinish, Message: string(s.Status)})
	log.Printf("[orchestrator] run %s finished: %s (%d/%d layers)", s.RunID, s.Status, len(s.LayersCompleted), len(s.TargetLayers))
}

// FinalStatus derives the terminal status of a finished run.
func FinalStatus(s *models.PipelineState) models.RunStatus {
	switch {
	case s.HasFatal():
		return models.RunStatusFailed
	case len(s.TargetLayers) > 0 && len(s.LayersRemaining) == 0 && len(s.ErrorLog) == 0:
		return models.RunStatusCompleted
	case len(s.TargetLayers) > 0 && len(s.LayersRemaining) == 0:
		return models.RunStatusCompletedWithWarnings
	default:
		return models.RunStatusHalted
	}
}

func (o *Orchestrator) checkpoint(ctx context.Context, s *models.PipelineState) {
	if o.checkpointer == nil {
		return
	}
	if err := o.checkpointer.Checkpoint(context.WithoutCancel(ctx), s); err != nil {
		log.Printf("[orchestrator] run %s: checkpoint failed: %v", s.RunID, err)
	}
}

func (o *Orchestrator) emit(s *models.PipelineState, e Event) {
	if o.events == nil {
		return
	}
	e.RunID = s.RunID
	e.Layer = s.CurrentLayer
	e.Completed = len(s.LayersCompleted)
	e.Timestamp = o.now()
	o.events.Emit(e)
}
