package models

import "fmt"

// StepID identifies a node in the pipeline step graph.
// The zero value means "no step" and is never a valid graph node.
type StepID int

const (
	// StepPlan produces the transformation plan for the current layer.
	StepPlan StepID = iota + 1
	// StepGenerate turns the plan into executable artifacts.
	StepGenerate
	// StepReview scores the artifacts and decides whether they may be submitted.
	StepReview
	// StepSubmit opens an external change proposal for the artifacts.
	StepSubmit
	// StepExecute runs the artifacts once the proposal is approved.
	StepExecute
	// StepEnrich inspects the executed layer and records its context.
	StepEnrich
	// StepFinish summarizes the run. Terminal.
	StepFinish
	// StepAwaitApproval is the resumable pause after Execute. Terminal for
	// the current invocation.
	StepAwaitApproval

	stepSentinel
)

// StepCount is the number of graph nodes, used to size transition tables.
const StepCount = int(stepSentinel)

// LayerStepCount is the number of steps each layer passes through on the
// happy path: Plan, Generate, Review, Submit, Execute, Enrich.
const LayerStepCount = 6

var stepNames = [...]string{
	StepPlan:          "plan",
	StepGenerate:      "generate",
	StepReview:        "review",
	StepSubmit:        "submit",
	StepExecute:       "execute",
	StepEnrich:        "enrich",
	StepFinish:        "finish",
	StepAwaitApproval: "await-approval",
}

// AllSteps returns every valid step in graph order.
func AllSteps() []StepID {
	steps := make([]StepID, 0, StepCount-1)
	for s := StepPlan; s < stepSentinel; s++ {
		steps = append(steps, s)
	}
	return steps
}

// Valid returns true if the step is a known graph node.
func (s StepID) Valid() bool {
	return s >= StepPlan && s < stepSentinel
}

// IsTerminal returns true if reaching this step ends the current invocation.
func (s StepID) IsTerminal() bool {
	return s == StepFinish || s == StepAwaitApproval
}

// String returns the step name.
func (s StepID) String() string {
	if !s.Valid() {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// MarshalText encodes the step by name. The zero value encodes as "".
func (s StepID) MarshalText() ([]byte, error) {
	if s == 0 {
		return []byte{}, nil
	}
	if !s.Valid() {
		return nil, fmt.Errorf("marshal step: unknown step %d", int(s))
	}
	return []byte(stepNames[s]), nil
}

// UnmarshalText decodes a step name.
func (s *StepID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = 0
		return nil
	}
	id, err := ParseStep(string(text))
	if err != nil {
		return err
	}
	*s = id
	return nil
}

// ParseStep resolves a step name.
func ParseStep(name string) (StepID, error) {
	for _, s := range AllSteps() {
		if stepNames[s] == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown step %q", name)
}
