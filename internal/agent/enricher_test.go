package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/ShayCichocki/medallion/internal/analysis"
	"github.com/ShayCichocki/medallion/internal/orchestrator"
	"github.com/ShayCichocki/medallion/pkg/models"
)

func executedSilverState() *models.PipelineState {
	s := submittedSilverState()
	s.ApprovalHandle.Approved = true
	s.LayerTarget = "raw.orders_silver"
	score := 91.0
	s.ExecutionResult = models.ExecutionResult{
		Status:           models.ExecutionSuccess,
		RowsProcessed:    90,
		OutputReference:  "raw.orders_silver",
		ApprovalObserved: true,
		Quality:          models.QualityMetrics{AvgQualityScore: &score},
	}
	return s
}

func TestEnricherRecordsContext(t *testing.T) {
	an := &fakeAnalyzer{report: analysis.Report{
		Schema:   []models.Column{{Name: "order_id", Type: "bigint"}},
		Sample:   []map[string]any{{"order_id": int64(1)}},
		RowCount: 90,
		Quality:  models.QualityMetrics{Completeness: 1, ColumnsChecked: 1},
	}}
	s := executedSilverState()

	if err := NewEnricher(an, 5, fixedNow).Run(context.Background(), s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(an.refs) != 1 || an.refs[0] != "raw.orders_silver" {
		t.Errorf("analyzed %q, want raw.orders_silver", an.refs)
	}
	lc, ok := s.ContextByLayer.Get(models.LayerSilver)
	if !ok {
		t.Fatal("silver context not recorded")
	}
	if lc.RowCount != 90 || lc.OutputReference != "raw.orders_silver" {
		t.Errorf("context = %+v", lc)
	}
	if lc.ApprovalReference != "https://github.com/acme/warehouse/pull/42" || !lc.ApprovalSatisfied {
		t.Errorf("approval = %q/%v", lc.ApprovalReference, lc.ApprovalSatisfied)
	}
	if lc.QualityMetrics.AvgQualityScore == nil || *lc.QualityMetrics.AvgQualityScore != 91 {
		t.Errorf("AvgQualityScore = %v, want 91", lc.QualityMetrics.AvgQualityScore)
	}
	if lc.TransformationSummary != "dedupe orders" {
		t.Errorf("TransformationSummary = %q", lc.TransformationSummary)
	}
	want := []models.Layer{models.LayerBronze, models.LayerSilver}
	if len(s.LayersCompleted) != 2 || s.LayersCompleted[1] != want[1] {
		t.Errorf("LayersCompleted = %v, want %v", s.LayersCompleted, want)
	}
	if len(s.LayersRemaining) != 1 || s.LayersRemaining[0] != models.LayerGold {
		t.Errorf("LayersRemaining = %v, want [gold]", s.LayersRemaining)
	}
}

func TestEnricherFailsClosed(t *testing.T) {
	tests := []struct {
		name   string
		status models.ExecutionStatus
		err    error
	}{
		{name: "execution failed", status: models.ExecutionFailed},
		{name: "awaiting approval", status: models.ExecutionAwaitingApproval},
		{name: "analysis failed", status: models.ExecutionSuccess, err: errors.New("table not found")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := executedSilverState()
			s.ExecutionResult.Status = tt.status

			err := NewEnricher(&fakeAnalyzer{err: tt.err}, 0, fixedNow).Run(context.Background(), s)
			if err == nil {
				t.Fatal("Run() should fail")
			}
			if orchestrator.IsFatal(err) {
				t.Errorf("Run() error = %v, want non-fatal", err)
			}
			if s.ContextByLayer.Has(models.LayerSilver) {
				t.Error("no context should be recorded")
			}
			if len(s.LayersRemaining) != 2 {
				t.Errorf("LayersRemaining = %v, want silver still remaining", s.LayersRemaining)
			}
		})
	}
}

func TestEnricherDuplicateContextIsFatal(t *testing.T) {
	s := executedSilverState()
	s.CurrentLayer = models.LayerBronze

	err := NewEnricher(&fakeAnalyzer{}, 0, fixedNow).Run(context.Background(), s)
	if !orchestrator.IsFatal(err) {
		t.Errorf("Run() error = %v, want a fatal error", err)
	}
}
