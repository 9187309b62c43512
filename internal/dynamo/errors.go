package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for trajectory optimization.
var (
	// ErrConfiguration indicates a malformed problem definition, mesh or bound set.
	ErrConfiguration = errors.New("dynamo: invalid configuration")

	// ErrDynamicsEvaluation indicates the system returned an error, NaN or Inf.
	ErrDynamicsEvaluation = errors.New("dynamo: dynamics evaluation failed")

	// ErrSolverDivergence indicates the NLP solver stopped without converging.
	ErrSolverDivergence = errors.New("dynamo: solver did not converge")

	// ErrMaxRefinementsExceeded indicates mesh refinement ran out of rounds
	// before the discretization error met its tolerance.
	ErrMaxRefinementsExceeded = errors.New("dynamo: maximum mesh refinements exceeded")

	// ErrDimensionMismatch indicates mismatched state/control dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between vector and system")

	// ErrInvalidState indicates a vector with NaN or Inf entries.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")
)

// ConfigurationError reports which part of a definition is malformed.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// Configf builds a ConfigurationError for field.
func Configf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// EvaluationKind names the oracle call that failed.
type EvaluationKind string

const (
	EvalDynamics            EvaluationKind = "dynamics"
	EvalIntegrandCost       EvaluationKind = "integrand cost"
	EvalEndpointCost        EvaluationKind = "endpoint cost"
	EvalPathConstraints     EvaluationKind = "path constraints"
	EvalEndpointConstraints EvaluationKind = "endpoint constraints"
	EvalHorizon             EvaluationKind = "horizon"
)

// DynamicsEvaluationError wraps an oracle failure with the mesh point and
// the values it was evaluated at. Point is -1 for endpoint evaluations and
// Midpoint is set for Hermite-Simpson interior nodes.
type DynamicsEvaluationError struct {
	Kind     EvaluationKind
	Point    int
	Midpoint bool
	Time     float64
	State    State
	Control  Control
	Wrapped  error
}

func (e *DynamicsEvaluationError) Error() string {
	where := fmt.Sprintf("mesh point %d", e.Point)
	if e.Midpoint {
		where = fmt.Sprintf("midpoint of interval %d", e.Point)
	} else if e.Point < 0 {
		where = "endpoints"
	}
	msg := fmt.Sprintf("%s: %s at %s (t=%.6g)", ErrDynamicsEvaluation, e.Kind, where, e.Time)
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *DynamicsEvaluationError) Unwrap() []error {
	if e.Wrapped == nil {
		return []error{ErrDynamicsEvaluation}
	}
	return []error{ErrDynamicsEvaluation, e.Wrapped}
}

// SolverDivergenceError is returned when the solver stops in a terminal
// state other than convergence. The last iterate is still available.
type SolverDivergenceError struct {
	Status     string
	Iterations int
}

func (e *SolverDivergenceError) Error() string {
	return fmt.Sprintf("%s: status %s after %d iterations", ErrSolverDivergence, e.Status, e.Iterations)
}

func (e *SolverDivergenceError) Unwrap() error {
	return ErrSolverDivergence
}
