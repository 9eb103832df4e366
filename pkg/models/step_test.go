package models

import (
	"encoding/json"
	"testing"
)

func TestStepID_String(t *testing.T) {
	tests := []struct {
		step StepID
		want string
	}{
		{StepPlan, "plan"},
		{StepGenerate, "generate"},
		{StepReview, "review"},
		{StepSubmit, "submit"},
		{StepExecute, "execute"},
		{StepEnrich, "enrich"},
		{StepFinish, "finish"},
		{StepAwaitApproval, "await-approval"},
		{StepID(0), "step(0)"},
		{StepID(99), "step(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.step.String(); got != tt.want {
				t.Errorf("StepID(%d).String() = %q, want %q", int(tt.step), got, tt.want)
			}
		})
	}
}

func TestStepID_IsTerminal(t *testing.T) {
	for _, s := range AllSteps() {
		want := s == StepFinish || s == StepAwaitApproval
		if got := s.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, want)
		}
	}
}

func TestAllSteps(t *testing.T) {
	steps := AllSteps()
	if len(steps) != StepCount-1 {
		t.Fatalf("len(AllSteps()) = %d, want %d", len(steps), StepCount-1)
	}
	for _, s := range steps {
		if !s.Valid() {
			t.Errorf("%d is not valid", int(s))
		}
	}
}

func TestStepID_JSON(t *testing.T) {
	type wrapper struct {
		Step StepID `json:"step"`
	}

	data, err := json.Marshal(wrapper{Step: StepExecute})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"step":"execute"}` {
		t.Errorf("Marshal = %s", data)
	}

	var w wrapper
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if w.Step != StepExecute {
		t.Errorf("Step = %v, want execute", w.Step)
	}

	if err := json.Unmarshal([]byte(`{"step":"teleport"}`), &w); err == nil {
		t.Error("expected error for unknown step name")
	}
}

func TestParseStep(t *testing.T) {
	for _, s := range AllSteps() {
		got, err := ParseStep(s.String())
		if err != nil {
			t.Fatalf("ParseStep(%q) failed: %v", s, err)
		}
		if got != s {
			t.Errorf("ParseStep(%q) = %v", s, got)
		}
	}
}

func TestLayer_Valid(t *testing.T) {
	tests := []struct {
		layer Layer
		want  bool
	}{
		{LayerBronze, true},
		{LayerSilver, true},
		{LayerGold, true},
		{Layer(""), false},
		{Layer("platinum"), false},
		{Layer("Bronze"), false},
	}

	for _, tt := range tests {
		if got := tt.layer.Valid(); got != tt.want {
			t.Errorf("Layer(%q).Valid() = %v, want %v", tt.layer, got, tt.want)
		}
	}
}

func TestOutputReference(t *testing.T) {
	tests := []struct {
		source string
		layer  Layer
		want   string
	}{
		{"main.sales.orders", LayerBronze, "main.sales.orders_bronze"},
		{"main.sales.orders", LayerGold, "main.sales.orders_gold"},
		{"main.sales.orders_bronze", LayerSilver, "main.sales.orders_silver"},
		{"orders", LayerSilver, "orders_silver"},
	}

	for _, tt := range tests {
		if got := OutputReference(tt.source, tt.layer); got != tt.want {
			t.Errorf("OutputReference(%q, %s) = %q, want %q", tt.source, tt.layer, got, tt.want)
		}
	}
}

func TestReviewOutcome_Valid(t *testing.T) {
	for _, r := range []ReviewOutcome{ReviewApproved, ReviewNeedsRevision, ReviewRejected} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if ReviewOutcome("approved").Valid() {
		t.Error("lowercase outcome should be invalid")
	}
}

func TestRunStatus_Resumable(t *testing.T) {
	if !RunStatusAwaitingApproval.Resumable() {
		t.Error("awaiting-approval should be resumable")
	}
	for _, s := range []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusHalted, RunStatusDiscarded} {
		if s.Resumable() {
			t.Errorf("%q should not be resumable", s)
		}
	}
}
