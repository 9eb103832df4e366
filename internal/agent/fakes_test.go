package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ShayCichocki/medallion/internal/analysis"
	"github.com/ShayCichocki/medallion/internal/proposal"
	"github.com/ShayCichocki/medallion/internal/warehouse"
	"github.com/ShayCichocki/medallion/pkg/models"
)

// fakeInference returns replies in order; the last reply repeats.
type fakeInference struct {
	replies []string
	err     error
	calls   []string
}

func (f *fakeInference) Complete(_ context.Context, system, user string) (string, error) {
	f.calls = append(f.calls, user)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r, nil
}

type fakeWarehouse struct {
	mu        sync.Mutex
	executed  []string
	failOn    string
	schemas   map[string]warehouse.Schema
	rowCounts map[string]int64
	syntaxErr map[string]error
	avgScore  any
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		schemas:   map[string]warehouse.Schema{},
		rowCounts: map[string]int64{},
		syntaxErr: map[string]error{},
	}
}

func (f *fakeWarehouse) ExecuteQuery(_ context.Context, q string) (warehouse.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, q)
	if f.failOn != "" && strings.Contains(q, f.failOn) {
		return warehouse.Result{}, errors.New("relation does not exist")
	}
	if strings.HasPrefix(q, "SELECT AVG(") && f.avgScore != nil {
		return warehouse.Result{Columns: []string{"avg"}, Rows: [][]any{{f.avgScore}}}, nil
	}
	return warehouse.Result{}, nil
}

func (f *fakeWarehouse) GetSchema(_ context.Context, ref string) (warehouse.Schema, error) {
	s, ok := f.schemas[ref]
	if !ok {
		return warehouse.Schema{}, warehouse.ErrTableNotFound
	}
	return s, nil
}

func (f *fakeWarehouse) GetRowCount(_ context.Context, ref string) (int64, error) {
	n, ok := f.rowCounts[ref]
	if !ok {
		return 0, warehouse.ErrTableNotFound
	}
	return n, nil
}

func (f *fakeWarehouse) ValidateSyntax(_ context.Context, q string) error {
	for frag, err := range f.syntaxErr {
		if strings.Contains(q, frag) {
			return err
		}
	}
	return nil
}

type fakeProposals struct {
	created   []proposal.Request
	createErr error
	status    proposal.Status
	statusErr error
	checks    int
}

func (f *fakeProposals) CreateProposal(_ context.Context, req proposal.Request) (models.ApprovalHandle, error) {
	if f.createErr != nil {
		return models.ApprovalHandle{}, f.createErr
	}
	f.created = append(f.created, req)
	return models.ApprovalHandle{
		ID:     "42",
		Number: 42,
		URL:    "https://github.com/acme/warehouse/pull/42",
		Branch: proposal.BranchName(req.RunID, req.Layer),
		// Backends never report approval at creation time.
		Approved: true,
	}, nil
}

func (f *fakeProposals) GetStatus(_ context.Context, _ models.ApprovalHandle) (proposal.Status, error) {
	f.checks++
	return f.status, f.statusErr
}

type fakeAnalyzer struct {
	report analysis.Report
	err    error
	refs   []string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, ref string, _ int) (analysis.Report, error) {
	f.refs = append(f.refs, ref)
	if f.err != nil {
		return analysis.Report{}, f.err
	}
	r := f.report
	r.Reference = ref
	return r, nil
}

type fakeArchive struct {
	keys []string
	err  error
}

func (f *fakeArchive) Put(_ context.Context, key string, _ []byte, _ string) error {
	f.keys = append(f.keys, key)
	return f.err
}

// silverState returns a state positioned at silver with bronze completed.
func silverState() *models.PipelineState {
	s := models.NewPipelineState("run-1234abcd", "clean customer orders", "raw.orders")
	err := s.CompleteLayer(models.LayerContext{
		LayerName:       models.LayerBronze,
		OutputReference: "raw.orders_bronze",
		SchemaSummary: []models.Column{
			{Name: "order_id", Type: "bigint"},
			{Name: "email", Type: "text", Nullable: true},
		},
		SampleRows: []map[string]any{{"order_id": 1, "email": nil}},
		RowCount:   100,
		QualityMetrics: models.QualityMetrics{
			Completeness:     0.95,
			NullCounts:       map[string]int64{"email": 10},
			RecordsWithNulls: 10,
			ColumnsChecked:   2,
		},
	})
	if err != nil {
		panic(err)
	}
	s.BeginLayer(models.LayerSilver)
	return s
}
