package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ShayCichocki/medallion/internal/analysis"
	"github.com/ShayCichocki/medallion/internal/warehouse"
	"github.com/ShayCichocki/medallion/pkg/models"
)

// Executor runs the approved artifacts of the current layer. It never runs
// anything until the layer's change proposal has been observed approved.
type Executor struct {
	warehouse Warehouse
	proposals Proposals
	now       func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(wh Warehouse, proposals Proposals, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{warehouse: wh, proposals: proposals, now: now}
}

// ID implements orchestrator.Step.
func (e *Executor) ID() models.StepID { return models.StepExecute }

// Run implements orchestrator.Step.
func (e *Executor) Run(ctx context.Context, s *models.PipelineState) error {
	if s.LayerTarget == "" {
		s.LayerTarget = models.OutputReference(s.SourceReference, s.CurrentLayer)
	}
	source, target := layerIO(s)

	approved, err := e.checkApproval(ctx, s)
	if !approved {
		s.ExecutionResult = models.ExecutionResult{
			Status:          models.ExecutionAwaitingApproval,
			OutputReference: target,
			Message:         awaitingMessage(s.ApprovalHandle),
		}
		return err
	}

	res := models.ExecutionResult{
		Status:           models.ExecutionFailed,
		OutputReference:  target,
		ApprovalObserved: true,
	}
	stmts := s.CurrentArtifacts.SQL
	for i, q := range stmts {
		if _, err := e.warehouse.ExecuteQuery(ctx, renderSQL(q, source, target)); err != nil {
			res.Message = fmt.Sprintf("statement %d of %d failed", i+1, len(stmts))
			res.CompletedAt = e.now()
			s.ExecutionResult = res
			return fmt.Errorf("execute %s statement %d of %d: %w", s.CurrentLayer, i+1, len(stmts), err)
		}
	}

	rows, err := e.warehouse.GetRowCount(ctx, target)
	if err != nil {
		res.Message = "output table could not be counted"
		res.CompletedAt = e.now()
		s.ExecutionResult = res
		return fmt.Errorf("count %s output: %w", s.CurrentLayer, err)
	}

	res.Status = models.ExecutionSuccess
	res.RowsProcessed = rows
	res.Quality.AvgQualityScore = e.averageQualityScore(ctx, s.CurrentLayer, target)
	res.CompletedAt = e.now()

	var failed []string
	for i, q := range s.CurrentArtifacts.Validation {
		if _, err := e.warehouse.ExecuteQuery(ctx, renderSQL(q, source, target)); err != nil {
			failed = append(failed, fmt.Sprintf("validation %d: %v", i+1, err))
		}
	}
	res.Message = fmt.Sprintf("%d statements executed, %d rows in %s", len(stmts), rows, target)
	s.ExecutionResult = res
	log.Printf("[agent] executed %s: %d rows in %s", s.CurrentLayer, rows, target)

	if len(failed) > 0 {
		return fmt.Errorf("%s output failed validation: %s", s.CurrentLayer, strings.Join(failed, "; "))
	}
	return nil
}

// checkApproval reports whether the current proposal is approved, asking the
// proposal service unless approval was already observed. A status error is
// returned alongside false and is never read as approval.
func (e *Executor) checkApproval(ctx context.Context, s *models.PipelineState) (bool, error) {
	h := s.ApprovalHandle
	if h.IsZero() {
		return false, errors.New("no change proposal to wait on")
	}
	if h.Approved {
		return true, nil
	}

	st, err := e.proposals.GetStatus(ctx, *h)
	if err != nil {
		return false, fmt.Errorf("check proposal %s: %w", h.ID, err)
	}
	h.State = st.State
	h.CheckedAt = e.now()
	if st.URL != "" && h.URL == "" {
		h.URL = st.URL
	}
	if !st.Approved {
		log.Printf("[agent] proposal %s for %s is %s, pausing", h.ID, s.CurrentLayer, st.State)
		return false, nil
	}
	h.Approved = true
	log.Printf("[agent] proposal %s for %s approved", h.ID, s.CurrentLayer)
	return true, nil
}

// averageQualityScore reads the mean quality score of a silver output. It is
// best effort: a missing column or failed query yields nil.
func (e *Executor) averageQualityScore(ctx context.Context, layer models.Layer, target string) *float64 {
	if layer != models.LayerSilver {
		return nil
	}
	schema, err := e.warehouse.GetSchema(ctx, target)
	if err != nil || !schema.Has(analysis.QualityScoreColumn) {
		return nil
	}
	ref, err := warehouse.ParseRef(target)
	if err != nil {
		return nil
	}
	res, err := e.warehouse.ExecuteQuery(ctx, fmt.Sprintf("SELECT AVG(%s) FROM %s",
		warehouse.QuoteIdent(analysis.QualityScoreColumn), ref.Sanitize()))
	if err != nil || len(res.Rows) == 0 || len(res.Rows[0]) == 0 || res.Rows[0][0] == nil {
		log.Printf("[agent] quality score of %s unavailable: %v", target, err)
		return nil
	}
	var v float64
	if _, err := fmt.Sscan(fmt.Sprint(res.Rows[0][0]), &v); err != nil {
		return nil
	}
	return &v
}

// layerIO returns the input and output tables of the current layer. The
// input is the predecessor's output, or the source dataset for the first
// layer.
func layerIO(s *models.PipelineState) (source, target string) {
	source = s.SourceReference
	if prev, ok := s.PredecessorContext(); ok && prev.OutputReference != "" {
		source = prev.OutputReference
	}
	target = s.LayerTarget
	if target == "" {
		target = models.OutputReference(s.SourceReference, s.CurrentLayer)
	}
	return source, target
}

// renderSQL substitutes the input and output tables into a statement.
func renderSQL(q, source, target string) string {
	return strings.NewReplacer(SourceToken, source, TargetToken, target).Replace(q)
}

func awaitingMessage(h *models.ApprovalHandle) string {
	if h.IsZero() {
		return "no change proposal was created"
	}
	state := h.State
	if state == "" {
		state = "pending"
	}
	return fmt.Sprintf("proposal %s is %s", handleRef(h), state)
}
