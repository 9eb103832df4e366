// Package pipeline wires the steps, the orchestrator and the run store into
// the entry points used by the CLI and the MCP server.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/medallion/internal/agent"
	"github.com/ShayCichocki/medallion/internal/orchestrator"
	"github.com/ShayCichocki/medallion/pkg/models"
)

// ErrNoStore is returned by operations that need a run store when none is
// configured.
var ErrNoStore = errors.New("no run store configured")

// Store loads and persists runs.
type Store interface {
	orchestrator.Checkpointer
	Get(ctx context.Context, id string) (*models.PipelineState, error)
}

// Config holds everything a Pipeline is built from.
type Config struct {
	// Steps holds the step collaborators.
	Steps agent.Config
	// Store is optional. Without one, callers keep paused states themselves.
	Store Store
	// Events is optional.
	Events *orchestrator.EventEmitter
	// Logger is optional.
	Logger *orchestrator.DebugLogger
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID defaults to random UUIDs.
	NewID func() string
}

// Request starts a run.
type Request struct {
	Query           string
	SourceReference string
	Rules           string
}

// Validate checks the request fields.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return errors.New("query is required")
	}
	if strings.TrimSpace(r.SourceReference) == "" {
		return errors.New("source reference is required")
	}
	return nil
}

// Pipeline runs and resumes medallion pipeline runs. It holds no per-run
// data and is safe for concurrent runs.
type Pipeline struct {
	orch  *orchestrator.Orchestrator
	store Store
	now   func() time.Time
	newID func() string
}

// New builds a Pipeline from its collaborators.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Steps.Now == nil {
		cfg.Steps.Now = cfg.Now
	}

	steps, err := agent.NewSteps(cfg.Steps)
	if err != nil {
		return nil, fmt.Errorf("build steps: %w", err)
	}

	opts := []orchestrator.Option{orchestrator.WithClock(cfg.Now)}
	if cfg.Store != nil {
		opts = append(opts, orchestrator.WithCheckpointer(cfg.Store))
	}
	if cfg.Events != nil {
		opts = append(opts, orchestrator.WithEvents(cfg.Events))
	}
	if cfg.Logger != nil {
		opts = append(opts, orchestrator.WithLogger(cfg.Logger))
	}
	orch, err := orchestrator.New(steps, opts...)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	return &Pipeline{
		orch:  orch,
		store: cfg.Store,
		now:   cfg.Now,
		newID: cfg.NewID,
	}, nil
}

// NewState builds the initial state of a run.
func (p *Pipeline) NewState(req Request) (*models.PipelineState, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	s := models.NewPipelineState(p.newID(), strings.TrimSpace(req.Query), strings.TrimSpace(req.SourceReference))
	s.Rules = req.Rules
	s.RunStartedAt = p.now()
	return s, nil
}

// Start runs a new pipeline until it finishes or pauses for approval.
func (p *Pipeline) Start(ctx context.Context, req Request) (*models.PipelineState, error) {
	s, err := p.NewState(req)
	if err != nil {
		return nil, err
	}
	log.Printf("[pipeline] starting run %s for %s", s.RunID, s.SourceReference)
	return p.orch.Run(ctx, s), nil
}

// Continue re-enters a state the caller kept from an earlier pause.
func (p *Pipeline) Continue(ctx context.Context, s *models.PipelineState) (*models.PipelineState, error) {
	if s == nil {
		return nil, errors.New("continue: no state")
	}
	if !s.Status.Resumable() || s.ResumeStep == 0 {
		return s, fmt.Errorf("continue run %s: %w (status %s)", s.RunID, orchestrator.ErrNotResumable, s.Status)
	}
	return p.orch.Run(ctx, s), nil
}

// Resume loads a paused run from the store and re-enters it.
func (p *Pipeline) Resume(ctx context.Context, runID string) (*models.PipelineState, error) {
	if p.store == nil {
		return nil, ErrNoStore
	}
	s, err := p.store.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("resume run %s: %w", runID, err)
	}
	log.Printf("[pipeline] resuming run %s at %s (%s layer)", runID, s.ResumeStep, s.CurrentLayer)
	return p.Continue(ctx, s)
}
