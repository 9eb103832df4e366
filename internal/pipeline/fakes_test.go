package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ShayCichocki/medallion/internal/analysis"
	"github.com/ShayCichocki/medallion/internal/proposal"
	"github.com/ShayCichocki/medallion/internal/warehouse"
	"github.com/ShayCichocki/medallion/pkg/models"
)

// scriptedInference answers each prompt kind with a canned reply. Review
// verdicts can be set per layer.
type scriptedInference struct {
	mu       sync.Mutex
	verdicts map[models.Layer]string
	prompts  map[string]int
}

func newScriptedInference() *scriptedInference {
	return &scriptedInference{verdicts: map[models.Layer]string{}, prompts: map[string]int{}}
}

func (f *scriptedInference) Complete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(system, "planning one layer"):
		f.prompts["plan"]++
		return `{"transformation_plan": "Transform the layer.", "test_plan": "Count rows."}`, nil
	case strings.Contains(system, "expert SQL developer"):
		f.prompts["generate"]++
		return `{"sql_queries": ["CREATE TABLE {{target}} AS SELECT * FROM {{source}}"], "test_code": "def test(): pass"}`, nil
	case strings.Contains(system, "reviewer"):
		f.prompts["review"]++
		verdict := "APPROVED"
		for layer, v := range f.verdicts {
			if strings.Contains(user, fmt.Sprintf("Review the %s layer", strings.ToUpper(string(layer)))) {
				verdict = v
			}
		}
		return fmt.Sprintf(`{"status": %q, "quality_score": 82, "comments": ["ok"]}`, verdict), nil
	case strings.Contains(system, "executive summaries"):
		f.prompts["summary"]++
		return "The pipeline ran.", nil
	}
	return "", errors.New("unexpected prompt")
}

func (f *scriptedInference) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[kind]
}

type memWarehouse struct {
	mu       sync.Mutex
	executed []string
}

func (w *memWarehouse) ExecuteQuery(_ context.Context, q string) (warehouse.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.executed = append(w.executed, q)
	return warehouse.Result{}, nil
}

func (w *memWarehouse) GetSchema(_ context.Context, ref string) (warehouse.Schema, error) {
	return warehouse.Schema{Reference: ref, Columns: []models.Column{{Name: "id", Type: "bigint"}}}, nil
}

func (w *memWarehouse) GetRowCount(context.Context, string) (int64, error) {
	return 100, nil
}

func (w *memWarehouse) statements() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.executed...)
}

// gatedProposals approves a layer's proposal only once the test opens its gate.
type gatedProposals struct {
	mu       sync.Mutex
	approved map[models.Layer]bool
	all      bool
	created  []proposal.Request
}

func newGatedProposals(all bool) *gatedProposals {
	return &gatedProposals{approved: map[models.Layer]bool{}, all: all}
}

func (p *gatedProposals) CreateProposal(_ context.Context, req proposal.Request) (models.ApprovalHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, req)
	n := len(p.created)
	return models.ApprovalHandle{
		ID:     string(req.Layer),
		Number: n,
		URL:    fmt.Sprintf("https://github.com/acme/warehouse/pull/%d", n),
	}, nil
}

func (p *gatedProposals) GetStatus(_ context.Context, h models.ApprovalHandle) (proposal.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ok := p.all || p.approved[models.Layer(h.ID)]
	state := "open"
	if ok {
		state = "merged"
	}
	return proposal.Status{Approved: ok, State: state, URL: h.URL}, nil
}

func (p *gatedProposals) approve(layer models.Layer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approved[layer] = true
}

func (p *gatedProposals) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created)
}

type failingAnalyzer struct {
	failFor models.Layer
}

func (a *failingAnalyzer) Analyze(_ context.Context, ref string, _ int) (analysis.Report, error) {
	if a.failFor != "" && strings.HasSuffix(ref, "_"+string(a.failFor)) {
		return analysis.Report{}, errors.New("relation does not exist")
	}
	return analysis.Report{
		Reference: ref,
		Schema:    []models.Column{{Name: "id", Type: "bigint"}},
		Sample:    []map[string]any{{"id": int64(1)}},
		RowCount:  100,
		Quality:   models.QualityMetrics{Completeness: 1, ColumnsChecked: 1, NullCounts: map[string]int64{}},
	}, nil
}
