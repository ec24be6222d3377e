package simulation

import (
	"context"
	"errors"
	"fmt"

	"github.com/nvandessel/cellsim/internal/module"
)

var (
	// ErrNegativeConcentration is returned when a merged delta would drive
	// a concentration below -Tolerance.
	ErrNegativeConcentration = errors.New("simulation: negative concentration")

	// ErrNonFinite is returned when a merged concentration is NaN or Inf.
	ErrNonFinite = errors.New("simulation: non-finite concentration")

	// ErrInvalidTarget is returned when a delta addresses a subsection the
	// Updatable's region does not have.
	ErrInvalidTarget = errors.New("simulation: delta targets unknown subsection")

	// ErrDuplicateModule is returned when two modules share a name.
	ErrDuplicateModule = errors.New("simulation: duplicate module name")

	// ErrInvalidConfig is returned for unusable driver settings.
	ErrInvalidConfig = errors.New("simulation: invalid configuration")
)

// StepError reports a step that was computed but not applied.
type StepError struct {
	Step       uint64
	Identifier module.Identifier
	Value      float64
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: %s/%s/%d = %g: %v",
		e.Step, e.Identifier.Updatable, e.Identifier.Subsection, e.Identifier.Entity, e.Value, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// reason is the metrics label for err.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrNegativeConcentration):
		return "negative_concentration"
	case errors.Is(err, ErrNonFinite):
		return "non_finite"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "module_error"
	}
}
