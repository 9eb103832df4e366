package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/medallion/pkg/models"
)

var (
	// ErrFatal matches every fatal orchestration error.
	ErrFatal = errors.New("fatal orchestration error")
	// ErrMissingStep is returned by New when a required step is not provided.
	ErrMissingStep = errors.New("missing step")
	// ErrDuplicateStep is returned by New when a step is provided twice.
	ErrDuplicateStep = errors.New("duplicate step")
	// ErrNotResumable is recorded when a state cannot be re-entered.
	ErrNotResumable = errors.New("state is not resumable")
)

// FatalError is an orchestration invariant violation. It aborts the run.
type FatalError struct {
	Step models.StepID
	Err  error
}

// Error implements error.
func (e *FatalError) Error() string {
	if e.Step.Valid() {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrFatal.
func (e *FatalError) Is(target error) bool {
	return target == ErrFatal
}

// Fatal wraps err as a fatal error raised by step.
func Fatal(step models.StepID, err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Step: step, Err: err}
}

// Fatalf formats a fatal error raised by step.
func Fatalf(step models.StepID, format string, args ...any) error {
	return &FatalError{Step: step, Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err aborts the run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
