package orchestrator

import (
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// snapshot captures the run-scoped fields a step must not rewrite.
type snapshot struct {
	targets     []models.Layer
	contexts    map[models.Layer]models.LayerContext
	errorLog    []string
	submissions []models.SubmissionRecord
}

func takeSnapshot(s *models.PipelineState) snapshot {
	snap := snapshot{
		targets:     slices.Clone(s.TargetLayers),
		contexts:    make(map[models.Layer]models.LayerContext),
		errorLog:    slices.Clone(s.ErrorLog),
		submissions: slices.Clone(s.Submissions),
	}
	for _, l := range s.ContextByLayer.Layers() {
		c, _ := s.ContextByLayer.Get(l)
		snap.contexts[l] = c
	}
	return snap
}

// checkFreshState validates the contract of a state entering at Plan.
func checkFreshState(s *models.PipelineState) error {
	if !slices.Equal(s.TargetLayers, models.CanonicalLayers()) {
		return fmt.Errorf("target layers %v are not %v", s.TargetLayers, models.CanonicalLayers())
	}
	if s.CurrentLayer != s.TargetLayers[0] {
		return fmt.Errorf("current layer %q is not the first target layer %q", s.CurrentLayer, s.TargetLayers[0])
	}
	if len(s.LayersCompleted) != 0 {
		return fmt.Errorf("run starts with completed layers %v", s.LayersCompleted)
	}
	if !slices.Equal(s.LayersRemaining, s.TargetLayers) {
		return fmt.Errorf("run starts with remaining layers %v, want %v", s.LayersRemaining, s.TargetLayers)
	}
	if s.ContextByLayer.Len() != 0 {
		return fmt.Errorf("run starts with %d layer contexts", s.ContextByLayer.Len())
	}
	return nil
}

// checkResumableState validates a state re-entering mid-layer.
func checkResumableState(s *models.PipelineState) error {
	if s.Status == models.RunStatusDiscarded {
		return fmt.Errorf("%w: run was discarded", ErrNotResumable)
	}
	if s.ResumeStep != models.StepSubmit && s.ResumeStep != models.StepExecute {
		return fmt.Errorf("%w: cannot resume at %s", ErrNotResumable, s.ResumeStep)
	}
	if err := checkLayout(s); err != nil {
		return err
	}
	if len(s.LayersRemaining) == 0 || s.LayersRemaining[0] != s.CurrentLayer {
		return fmt.Errorf("%w: current layer %q is not the next remaining layer", ErrNotResumable, s.CurrentLayer)
	}
	if s.ReviewOutcome != models.ReviewApproved {
		return fmt.Errorf("%w: layer %q was not approved by review", ErrNotResumable, s.CurrentLayer)
	}
	if s.CurrentArtifacts.Empty() {
		return fmt.Errorf("%w: layer %q has no artifacts", ErrNotResumable, s.CurrentLayer)
	}
	if s.ResumeStep == models.StepExecute && s.ApprovalHandle.IsZero() {
		return fmt.Errorf("%w: layer %q has no change proposal", ErrNotResumable, s.CurrentLayer)
	}
	return nil
}

// checkLayout verifies the layer fields that hold for every reachable state.
func checkLayout(s *models.PipelineState) error {
	if s.LayerIndex(s.CurrentLayer) < 0 {
		return fmt.Errorf("current layer %q is not in target layers %v", s.CurrentLayer, s.TargetLayers)
	}
	return s.CheckPartition()
}

// checkStep verifies the state after step ran, against the snapshot taken
// before it ran.
func checkStep(step models.StepID, before snapshot, s *models.PipelineState) error {
	var errs []error

	if !slices.Equal(before.targets, s.TargetLayers) {
		errs = append(errs, fmt.Errorf("target layers changed from %v to %v", before.targets, s.TargetLayers))
	}
	if err := checkLayout(s); err != nil {
		errs = append(errs, err)
	}

	for layer, was := range before.contexts {
		now, ok := s.ContextByLayer.Get(layer)
		if !ok {
			errs = append(errs, fmt.Errorf("context for %q was removed", layer))
			continue
		}
		if !reflect.DeepEqual(was, now) {
			errs = append(errs, fmt.Errorf("context for %q was overwritten", layer))
		}
	}
	added := s.ContextByLayer.Len() - len(before.contexts)
	switch {
	case added > 0 && step != models.StepEnrich:
		errs = append(errs, fmt.Errorf("%s wrote a layer context", step))
	case added > 1:
		errs = append(errs, fmt.Errorf("%s wrote %d layer contexts", step, added))
	case added == 1 && !s.ContextByLayer.Has(s.CurrentLayer):
		errs = append(errs, fmt.Errorf("%s wrote context for a layer other than %q", step, s.CurrentLayer))
	}
	for _, l := range s.LayersCompleted {
		if !s.ContextByLayer.Has(l) {
			errs = append(errs, fmt.Errorf("completed layer %q has no context", l))
		}
	}

	if len(s.ErrorLog) < len(before.errorLog) || !slices.Equal(before.errorLog, s.ErrorLog[:len(before.errorLog)]) {
		errs = append(errs, errors.New("error log was rewritten"))
	}

	if len(s.Submissions) < len(before.submissions) ||
		!slices.EqualFunc(before.submissions, s.Submissions[:len(before.submissions)], sameSubmission) {
		errs = append(errs, errors.New("submission history was rewritten"))
	}
	seen := make(map[models.Layer]bool)
	for _, r := range s.Submissions {
		if seen[r.Layer] {
			errs = append(errs, fmt.Errorf("layer %q was submitted twice", r.Layer))
		}
		seen[r.Layer] = true
	}

	if s.ExecutionResult.Status == models.ExecutionSuccess &&
		(s.ApprovalHandle == nil || !s.ApprovalHandle.Approved || !s.ExecutionResult.ApprovalObserved) {
		errs = append(errs, fmt.Errorf("layer %q executed without observed approval", s.CurrentLayer))
	}

	return errors.Join(errs...)
}

func sameSubmission(a, b models.SubmissionRecord) bool {
	return reflect.DeepEqual(a, b)
}
