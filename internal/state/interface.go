package state

import (
	"context"
	"io"

	"github.com/ShayCichocki/medallion/internal/orchestrator"
	"github.com/ShayCichocki/medallion/pkg/models"
)

// RunStore handles run persistence operations.
type RunStore interface {
	orchestrator.Checkpointer
	Get(ctx context.Context, id string) (*models.PipelineState, error)
	List(ctx context.Context, status *models.RunStatus) ([]RunSummary, error)
	Discard(ctx context.Context, id, reason string) (*models.PipelineState, error)
	FindBySubmission(ctx context.Context, ref string) (string, models.Layer, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for state persistence.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ RunStore   = (*DB)(nil)
)
