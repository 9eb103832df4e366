package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/medallion/internal/analysis"
	"github.com/ShayCichocki/medallion/internal/orchestrator"
	"github.com/ShayCichocki/medallion/pkg/models"
)

// maxSummaryLen bounds the plan kept as a layer's transformation summary.
const maxSummaryLen = 2000

// Enricher inspects a successfully executed layer and records its context.
// It is the only step that completes layers.
type Enricher struct {
	analyzer   Analyzer
	sampleSize int
	now        func() time.Time
}

// NewEnricher creates an Enricher.
func NewEnricher(analyzer Analyzer, sampleSize int, now func() time.Time) *Enricher {
	if sampleSize <= 0 {
		sampleSize = analysis.DefaultSampleSize
	}
	if now == nil {
		now = time.Now
	}
	return &Enricher{analyzer: analyzer, sampleSize: sampleSize, now: now}
}

// ID implements orchestrator.Step.
func (e *Enricher) ID() models.StepID { return models.StepEnrich }

// Run implements orchestrator.Step. It fails closed: unless execution
// succeeded and analysis returns, the layer stays remaining.
func (e *Enricher) Run(ctx context.Context, s *models.PipelineState) error {
	res := s.ExecutionResult
	if res.Status != models.ExecutionSuccess {
		return fmt.Errorf("enrichment skipped for %s: execution status is %s", s.CurrentLayer, res.Status)
	}
	target := res.OutputReference
	if target == "" {
		target = s.LayerTarget
	}

	rep, err := e.analyzer.Analyze(ctx, target, e.sampleSize)
	if err != nil {
		return fmt.Errorf("enrichment failed for %s: %w", s.CurrentLayer, err)
	}

	quality := rep.Quality.Clone()
	if quality.AvgQualityScore == nil && res.Quality.AvgQualityScore != nil {
		v := *res.Quality.AvgQualityScore
		quality.AvgQualityScore = &v
	}

	lc := models.LayerContext{
		LayerName:             s.CurrentLayer,
		OutputReference:       target,
		SchemaSummary:         rep.Schema,
		SampleRows:            rep.Sample,
		RowCount:              rep.RowCount,
		QualityMetrics:        quality,
		TransformationSummary: truncate(s.CurrentPlan.Transformation, maxSummaryLen),
		CreatedAt:             e.now(),
	}
	if h := s.ApprovalHandle; h != nil {
		lc.ApprovalReference = handleRef(h)
		lc.ApprovalSatisfied = h.Approved
	}

	if err := s.CompleteLayer(lc); err != nil {
		return orchestrator.Fatal(models.StepEnrich, err)
	}
	log.Printf("[agent] %s context recorded: %d rows, %d columns, %.1f%% complete",
		s.CurrentLayer, lc.RowCount, len(lc.SchemaSummary), lc.QualityMetrics.Completeness*100)
	return nil
}
