package saga

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExecuted is returned when Execute or AddStep is called on a
	// saga that has already run.
	ErrAlreadyExecuted = errors.New("saga: already executed")

	// ErrInvalidStep is returned by AddStep for an unnamed, duplicate or
	// action-less step.
	ErrInvalidStep = errors.New("saga: invalid step")

	// ErrPanic wraps a panic recovered from a step action or compensation.
	ErrPanic = errors.New("saga: step panicked")
)

// StepFailure reports that a step's action failed. Cause is the action's
// original error. Compensations lists the rollback actions that also failed;
// an empty list does not by itself prove that every effect was undone.
type StepFailure struct {
	Saga          string
	Step          string
	Cause         error
	Compensations []*CompensationFailure
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("saga %s: step %s failed: %v", e.Saga, e.Step, e.Cause)
}

func (e *StepFailure) Unwrap() error {
	return e.Cause
}

// RolledBackCleanly reports whether every compensation that ran succeeded.
func (e *StepFailure) RolledBackCleanly() bool {
	return len(e.Compensations) == 0
}

// CompensationFailure reports that a compensating action failed during
// rollback. It is logged and attached to the StepFailure, never returned on
// its own.
type CompensationFailure struct {
	Saga  string
	Step  string
	Cause error
}

func (e *CompensationFailure) Error() string {
	return fmt.Sprintf("saga %s: compensation of %s failed: %v", e.Saga, e.Step, e.Cause)
}

func (e *CompensationFailure) Unwrap() error {
	return e.Cause
}

// FailedStep returns the name of the step that failed if err carries a
// *StepFailure.
func FailedStep(err error) (string, bool) {
	var sf *StepFailure
	if errors.As(err, &sf) {
		return sf.Step, true
	}
	return "", false
}
