package agent

import (
	"testing"

	"github.com/ShayCichocki/medallion/pkg/models"
)

func TestNewSteps(t *testing.T) {
	steps, err := NewSteps(Config{
		Inference: &fakeInference{},
		Warehouse: newFakeWarehouse(),
		Proposals: &fakeProposals{},
		Analyzer:  &fakeAnalyzer{},
	})
	if err != nil {
		t.Fatalf("NewSteps() error = %v", err)
	}
	seen := map[models.StepID]bool{}
	for _, st := range steps {
		if seen[st.ID()] {
			t.Errorf("step %s returned twice", st.ID())
		}
		seen[st.ID()] = true
	}
	for _, id := range models.AllSteps() {
		if id != models.StepAwaitApproval && !seen[id] {
			t.Errorf("step %s missing", id)
		}
	}
}

func TestNewStepsRequiresCollaborators(t *testing.T) {
	if _, err := NewSteps(Config{Inference: &fakeInference{}}); err == nil {
		t.Error("NewSteps() should fail without a warehouse, proposals and analyzer")
	}
}
