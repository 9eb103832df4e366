package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// StateVersion is the current PipelineState schema version.
const StateVersion = 1

// FatalMarker prefixes errorLog entries produced by fatal orchestration errors.
const FatalMarker = "[FATAL]"

// Plan is the output of the Plan step.
type Plan struct {
	Transformation string `json:"transformation"`
	Tests          string `json:"tests"`
}

// Empty reports whether no plan was produced.
func (p Plan) Empty() bool {
	return strings.TrimSpace(p.Transformation) == ""
}

// Artifacts are the executable units produced by the Generate step.
type Artifacts struct {
	// SQL holds the transformation statements, executed in order.
	SQL []string `json:"sql"`
	// Script is optional non-SQL transformation code.
	Script string `json:"script,omitempty"`
	// Tests is the verification suite for the layer.
	Tests string `json:"tests,omitempty"`
	// Validation holds queries that check the output after execution.
	Validation []string `json:"validation,omitempty"`
	// Unverified marks artifacts recovered from malformed model output.
	Unverified bool `json:"unverified,omitempty"`
}

// Empty reports whether there is nothing to execute.
func (a Artifacts) Empty() bool {
	for _, q := range a.SQL {
		if strings.TrimSpace(q) != "" {
			return false
		}
	}
	return true
}

// ApprovalHandle references an external change proposal.
type ApprovalHandle struct {
	ID     string `json:"id"`
	Number int    `json:"number,omitempty"`
	URL    string `json:"url,omitempty"`
	Branch string `json:"branch,omitempty"`
	// Approved is set only from an explicit approved status report.
	Approved  bool      `json:"approved"`
	State     string    `json:"state,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// IsZero reports whether no proposal has been created.
func (h *ApprovalHandle) IsZero() bool {
	return h == nil || h.ID == ""
}

// ExecutionResult records the most recent Execute attempt.
type ExecutionResult struct {
	Status          ExecutionStatus `json:"status"`
	RowsProcessed   int64           `json:"rows_processed"`
	Quality         QualityMetrics  `json:"quality"`
	OutputReference string          `json:"output_reference,omitempty"`
	Message         string          `json:"message,omitempty"`
	// ApprovalObserved is true once Execute saw the proposal approved.
	ApprovalObserved bool      `json:"approval_observed"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
}

// SubmissionRecord is one entry of the append-only submission history.
type SubmissionRecord struct {
	Layer     Layer          `json:"layer"`
	Handle    ApprovalHandle `json:"handle"`
	Score     float64        `json:"score"`
	CreatedAt time.Time      `json:"created_at"`
}

// PipelineState is the single record threaded through every step of a run.
type PipelineState struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`

	Query           string `json:"query"`
	SourceReference string `json:"source_reference"`
	Rules           string `json:"rules,omitempty"`

	TargetLayers    []Layer `json:"target_layers"`
	CurrentLayer    Layer   `json:"current_layer"`
	LayersCompleted []Layer `json:"layers_completed"`
	LayersRemaining []Layer `json:"layers_remaining"`

	ContextByLayer *ContextStore `json:"context_by_layer"`

	// Layer-scoped fields, reset at the start of each layer.
	LayerTarget      string          `json:"layer_target,omitempty"`
	CurrentPlan      Plan            `json:"current_plan"`
	CurrentArtifacts Artifacts       `json:"current_artifacts"`
	ReviewOutcome    ReviewOutcome   `json:"review_outcome,omitempty"`
	ReviewScore      float64         `json:"review_score"`
	ReviewComments   []string        `json:"review_comments,omitempty"`
	ApprovalHandle   *ApprovalHandle `json:"approval_handle,omitempty"`
	ExecutionResult  ExecutionResult `json:"execution_result"`

	Submissions []SubmissionRecord `json:"submissions"`
	ErrorLog    []string           `json:"error_log"`

	ResumeStep StepID    `json:"resume_step,omitempty"`
	Status     RunStatus `json:"status"`
	Summary    string    `json:"summary,omitempty"`
	StepsTaken int       `json:"steps_taken"`

	RunStartedAt time.Time `json:"run_started_at"`
	RunEndedAt   time.Time `json:"run_ended_at,omitempty"`
}

// NewPipelineState creates the initial state of a run.
func NewPipelineState(runID, query, sourceRef string) *PipelineState {
	layers := CanonicalLayers()
	return &PipelineState{
		Version:         StateVersion,
		RunID:           runID,
		Query:           query,
		SourceReference: sourceRef,
		TargetLayers:    layers,
		CurrentLayer:    layers[0],
		LayersCompleted: []Layer{},
		LayersRemaining: slices.Clone(layers),
		ContextByLayer:  NewContextStore(),
		ExecutionResult: ExecutionResult{Status: ExecutionPending},
		Submissions:     []SubmissionRecord{},
		ErrorLog:        []string{},
		Status:          RunStatusRunning,
	}
}

// LayerIndex returns the position of a layer in TargetLayers, or -1.
func (s *PipelineState) LayerIndex(layer Layer) int {
	return slices.Index(s.TargetLayers, layer)
}

// PredecessorContext returns the context of the layer immediately before
// CurrentLayer. The first layer has no predecessor.
func (s *PipelineState) PredecessorContext() (LayerContext, bool) {
	idx := s.LayerIndex(s.CurrentLayer)
	if idx <= 0 {
		return LayerContext{}, false
	}
	return s.ContextByLayer.Get(s.TargetLayers[idx-1])
}

// ResetLayerFields clears the fields scoped to a single layer iteration.
func (s *PipelineState) ResetLayerFields() {
	s.LayerTarget = ""
	s.CurrentPlan = Plan{}
	s.CurrentArtifacts = Artifacts{}
	s.ReviewOutcome = ""
	s.ReviewScore = 0
	s.ReviewComments = nil
	s.ApprovalHandle = nil
	s.ExecutionResult = ExecutionResult{Status: ExecutionPending}
}

// BeginLayer makes layer current and resets layer-scoped fields.
func (s *PipelineState) BeginLayer(layer Layer) {
	s.CurrentLayer = layer
	s.ResetLayerFields()
}

// CompleteLayer records the context of CurrentLayer and moves the layer from
// LayersRemaining to LayersCompleted. The layer must be the head of
// LayersRemaining.
func (s *PipelineState) CompleteLayer(ctx LayerContext) error {
	if ctx.LayerName != s.CurrentLayer {
		return fmt.Errorf("complete layer: context for %q while %q is current", ctx.LayerName, s.CurrentLayer)
	}
	if len(s.LayersRemaining) == 0 || s.LayersRemaining[0] != s.CurrentLayer {
		return fmt.Errorf("complete layer: %q is not the next remaining layer", s.CurrentLayer)
	}
	if s.ContextByLayer == nil {
		s.ContextByLayer = NewContextStore()
	}
	if err := s.ContextByLayer.Put(ctx); err != nil {
		return err
	}
	s.LayersCompleted = append(s.LayersCompleted, s.CurrentLayer)
	s.LayersRemaining = slices.Clone(s.LayersRemaining[1:])
	return nil
}

// SubmissionFor returns the submission recorded for a layer in this run.
func (s *PipelineState) SubmissionFor(layer Layer) (SubmissionRecord, bool) {
	for _, r := range s.Submissions {
		if r.Layer == layer {
			return r, true
		}
	}
	return SubmissionRecord{}, false
}

// AppendError adds an entry to the error log.
func (s *PipelineState) AppendError(format string, args ...any) {
	s.ErrorLog = append(s.ErrorLog, fmt.Sprintf(format, args...))
}

// AppendFatal adds a fatal entry to the error log.
func (s *PipelineState) AppendFatal(msg string) {
	s.ErrorLog = append(s.ErrorLog, FatalMarker+" "+msg)
}

// HasFatal reports whether any fatal error was recorded.
func (s *PipelineState) HasFatal() bool {
	for _, e := range s.ErrorLog {
		if strings.HasPrefix(e, FatalMarker) {
			return true
		}
	}
	return false
}

// CheckPartition verifies that LayersCompleted and LayersRemaining split
// TargetLayers: completed is a prefix, remaining is the matching suffix.
func (s *PipelineState) CheckPartition() error {
	n := len(s.LayersCompleted)
	if n+len(s.LayersRemaining) != len(s.TargetLayers) {
		return fmt.Errorf("partition: %d completed + %d remaining != %d target layers",
			n, len(s.LayersRemaining), len(s.TargetLayers))
	}
	if !slices.Equal(s.LayersCompleted, s.TargetLayers[:n]) {
		return fmt.Errorf("partition: completed layers %v are not a prefix of %v", s.LayersCompleted, s.TargetLayers)
	}
	if !slices.Equal(s.LayersRemaining, s.TargetLayers[n:]) {
		return fmt.Errorf("partition: remaining layers %v are not a suffix of %v", s.LayersRemaining, s.TargetLayers)
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s *PipelineState) Clone() *PipelineState {
	out := *s
	out.TargetLayers = slices.Clone(s.TargetLayers)
	out.LayersCompleted = slices.Clone(s.LayersCompleted)
	out.LayersRemaining = slices.Clone(s.LayersRemaining)
	out.ContextByLayer = s.ContextByLayer.Clone()
	out.CurrentArtifacts.SQL = slices.Clone(s.CurrentArtifacts.SQL)
	out.CurrentArtifacts.Validation = slices.Clone(s.CurrentArtifacts.Validation)
	out.ReviewComments = slices.Clone(s.ReviewComments)
	if s.ApprovalHandle != nil {
		h := *s.ApprovalHandle
		out.ApprovalHandle = &h
	}
	out.ExecutionResult.Quality = s.ExecutionResult.Quality.Clone()
	out.Submissions = slices.Clone(s.Submissions)
	out.ErrorLog = slices.Clone(s.ErrorLog)
	return &out
}

// Marshal encodes the state for durable storage.
func (s *PipelineState) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline state: %w", err)
	}
	return data, nil
}

// UnmarshalState decodes a stored state and checks its version.
func UnmarshalState(data []byte) (*PipelineState, error) {
	var s PipelineState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline state: %w", err)
	}
	if s.Version != StateVersion {
		return nil, fmt.Errorf("unmarshal pipeline state: unsupported version %d", s.Version)
	}
	if s.ContextByLayer == nil {
		s.ContextByLayer = NewContextStore()
	}
	return &s, nil
}
