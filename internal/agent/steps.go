package agent

import (
	"errors"
	"time"

	"github.com/ShayCichocki/medallion/internal/orchestrator"
)

// Config holds the collaborators the steps run against.
type Config struct {
	Inference Inference
	Warehouse Warehouse
	Proposals Proposals
	Analyzer  Analyzer
	// Archive is optional.
	Archive Archive
	// SampleSize is the number of rows Enrich samples per layer.
	SampleSize int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Validate checks that every required collaborator is set.
func (c Config) Validate() error {
	var errs []error
	if c.Inference == nil {
		errs = append(errs, errors.New("inference is required"))
	}
	if c.Warehouse == nil {
		errs = append(errs, errors.New("warehouse is required"))
	}
	if c.Proposals == nil {
		errs = append(errs, errors.New("proposals is required"))
	}
	if c.Analyzer == nil {
		errs = append(errs, errors.New("analyzer is required"))
	}
	return errors.Join(errs...)
}

// NewSteps returns one implementation of every runnable step.
func NewSteps(c Config) ([]orchestrator.Step, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}
	return []orchestrator.Step{
		NewPlanner(c.Inference),
		NewGenerator(c.Inference),
		NewReviewer(c.Inference, c.Warehouse),
		NewSubmitter(c.Proposals, c.Archive, now),
		NewExecutor(c.Warehouse, c.Proposals, now),
		NewEnricher(c.Analyzer, c.SampleSize, now),
		NewFinisher(c.Inference),
	}, nil
}

var (
	_ orchestrator.Step = (*Planner)(nil)
	_ orchestrator.Step = (*Generator)(nil)
	_ orchestrator.Step = (*Reviewer)(nil)
	_ orchestrator.Step = (*Submitter)(nil)
	_ orchestrator.Step = (*Executor)(nil)
	_ orchestrator.Step = (*Enricher)(nil)
	_ orchestrator.Step = (*Finisher)(nil)
)
