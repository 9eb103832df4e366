package state

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// DefaultStaleAfter is how long a running run may go without a checkpoint
// before it is considered interrupted.
const DefaultStaleAfter = 30 * time.Minute

// InterruptedRun describes a run whose process stopped mid-step.
type InterruptedRun struct {
	RunID        string
	StartedAt    time.Time
	LastActivity time.Time
	Layer        models.Layer
}

// RecoveryManager handles detection and cleanup of interrupted runs. Only
// runs paused for approval can be resumed; a run that died while running is
// closed as failed.
type RecoveryManager struct {
	db         *DB
	staleAfter time.Duration
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB, staleAfter time.Duration) *RecoveryManager {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &RecoveryManager{db: db, staleAfter: staleAfter}
}

// CheckForInterrupted lists running runs with no checkpoint within the stale
// window.
func (rm *RecoveryManager) CheckForInterrupted(ctx context.Context) ([]InterruptedRun, error) {
	status := models.RunStatusRunning
	runs, err := rm.db.List(ctx, &status)
	if err != nil {
		return nil, fmt.Errorf("list running runs: %w", err)
	}

	cutoff := rm.db.now().Add(-rm.staleAfter)
	var out []InterruptedRun
	for _, r := range runs {
		if r.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, InterruptedRun{
			RunID:        r.ID,
			StartedAt:    r.StartedAt,
			LastActivity: r.UpdatedAt,
			Layer:        r.CurrentLayer,
		})
	}
	return out, nil
}

// Clean closes an interrupted run as failed.
func (rm *RecoveryManager) Clean(ctx context.Context, runID string) error {
	s, err := rm.db.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if s.Status != models.RunStatusRunning {
		return fmt.Errorf("run %s is %s, not running", runID, s.Status)
	}

	s.AppendFatal(fmt.Sprintf("run interrupted during %s layer", s.CurrentLayer))
	s.Status = models.RunStatusFailed
	s.ResumeStep = 0
	s.RunEndedAt = rm.db.now()
	if err := rm.db.Checkpoint(ctx, s); err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}

	log.Printf("[state] run %s interrupted during %s, marked failed", runID, s.CurrentLayer)
	return nil
}
