package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// ErrRunFinished is returned when a finished run is discarded.
var ErrRunFinished = errors.New("run already finished")

// ErrRunDiscarded is returned when a checkpoint targets a run that was
// discarded. The stored copy is left as it is.
var ErrRunDiscarded = errors.New("run was discarded")

// RunSummary is the indexed view of a stored run.
type RunSummary struct {
	ID              string           `json:"id"`
	Query           string           `json:"query"`
	SourceReference string           `json:"source_reference"`
	Status          models.RunStatus `json:"status"`
	CurrentLayer    models.Layer     `json:"current_layer"`
	ResumeStep      string           `json:"resume_step,omitempty"`
	LayersCompleted int              `json:"layers_completed"`
	LayersTotal     int              `json:"layers_total"`
	StartedAt       time.Time        `json:"started_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	EndedAt         time.Time        `json:"ended_at,omitempty"`
}

// Checkpoint stores a copy of the run state, replacing any earlier copy. It
// also indexes the run's submissions so runs can be found by proposal. A
// discarded run is never overwritten.
func (db *DB) Checkpoint(ctx context.Context, s *models.PipelineState) error {
	if s.RunID == "" {
		return errors.New("checkpoint: run has no ID")
	}
	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", s.RunID, err)
	}

	resume := ""
	if s.ResumeStep != 0 {
		resume = s.ResumeStep.String()
	}
	now := db.now()
	started := s.RunStartedAt
	if started.IsZero() {
		started = now
	}

	return db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, query, source_reference, status, current_layer, resume_step,
				layers_completed, layers_total, started_at, updated_at, ended_at, state)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				current_layer = excluded.current_layer,
				resume_step = excluded.resume_step,
				layers_completed = excluded.layers_completed,
				layers_total = excluded.layers_total,
				updated_at = excluded.updated_at,
				ended_at = excluded.ended_at,
				state = excluded.state
			WHERE runs.status != 'discarded'
		`, s.RunID, s.Query, s.SourceReference, string(s.Status), string(s.CurrentLayer), resume,
			len(s.LayersCompleted), len(s.TargetLayers), formatTime(started), formatTime(now),
			nullableTime(s.RunEndedAt), data)
		if err != nil {
			return fmt.Errorf("checkpoint %s: %w", s.RunID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checkpoint %s: %w", s.RunID, err)
		}
		if n == 0 {
			return fmt.Errorf("checkpoint %s: %w", s.RunID, ErrRunDiscarded)
		}

		for _, sub := range s.Submissions {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO submissions (run_id, layer, handle_id, url, branch, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(run_id, layer) DO NOTHING
			`, s.RunID, string(sub.Layer), sub.Handle.ID, sub.Handle.URL, sub.Handle.Branch, formatTime(sub.CreatedAt))
			if err != nil {
				return fmt.Errorf("checkpoint %s submission %s: %w", s.RunID, sub.Layer, err)
			}
		}
		return nil
	})
}

// Get loads the latest state of a run.
func (db *DB) Get(ctx context.Context, id string) (*models.PipelineState, error) {
	var data []byte
	err := db.QueryRow(ctx, "SELECT state FROM runs WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	s, err := models.UnmarshalState(data)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return s, nil
}

// List returns stored runs, most recently updated first, optionally
// filtered by status.
func (db *DB) List(ctx context.Context, status *models.RunStatus) ([]RunSummary, error) {
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `id, query, source_reference, status, current_layer, resume_step,
		layers_completed, layers_total, started_at, updated_at, ended_at`

	if status != nil {
		rows, err = db.Query(ctx, `SELECT `+cols+` FROM runs WHERE status = ? ORDER BY updated_at DESC`, string(*status))
	} else {
		rows, err = db.Query(ctx, `SELECT `+cols+` FROM runs ORDER BY updated_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r                RunSummary
			started, updated string
			ended            sql.NullString
			st, layer        string
		)
		if err := rows.Scan(&r.ID, &r.Query, &r.SourceReference, &st, &layer, &r.ResumeStep,
			&r.LayersCompleted, &r.LayersTotal, &started, &updated, &ended); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = models.RunStatus(st)
		r.CurrentLayer = models.Layer(layer)
		r.StartedAt, _ = parseTime(started)
		r.UpdatedAt, _ = parseTime(updated)
		r.EndedAt = parseNullableTime(ended)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Discard abandons a paused run so it can no longer be resumed. Finished
// runs cannot be discarded.
func (db *DB) Discard(ctx context.Context, id, reason string) (*models.PipelineState, error) {
	s, err := db.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case models.RunStatusCompleted, models.RunStatusCompletedWithWarnings,
		models.RunStatusHalted, models.RunStatusFailed, models.RunStatusDiscarded:
		return nil, fmt.Errorf("discard run %s: %w (%s)", id, ErrRunFinished, s.Status)
	}

	if reason == "" {
		reason = "discarded by operator"
	}
	s.AppendError("run discarded: %s", reason)
	s.Status = models.RunStatusDiscarded
	s.ResumeStep = 0
	s.RunEndedAt = db.now()
	if err := db.Checkpoint(ctx, s); err != nil {
		return nil, fmt.Errorf("discard run %s: %w", id, err)
	}
	log.Printf("[state] run %s discarded: %s", id, reason)
	return s, nil
}

// FindBySubmission returns the run that submitted the proposal with the
// given handle ID or branch.
func (db *DB) FindBySubmission(ctx context.Context, ref string) (string, models.Layer, error) {
	var runID, layer string
	err := db.QueryRow(ctx, `
		SELECT run_id, layer FROM submissions
		WHERE handle_id = ? OR branch = ? OR url = ?
		ORDER BY created_at DESC LIMIT 1
	`, ref, ref, ref).Scan(&runID, &layer)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%w: no submission %s", ErrRunNotFound, ref)
	}
	if err != nil {
		return "", "", fmt.Errorf("find submission %s: %w", ref, err)
	}
	return runID, models.Layer(layer), nil
}
