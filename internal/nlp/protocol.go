// Package nlp defines the callback protocol between a sparse interior-point
// solver and a transcribed problem, and the Adapter that serves it.
//
// All index and value slices are 0-based. Equality rows have gl = gu;
// one-sided rows use ±Inf for the missing bound.
package nlp

import (
	"context"
	"fmt"
	"time"
)

// Status is the solver's terminal report.
type Status int

const (
	Converged Status = iota
	MaxIterations
	UserTerminated
	LineSearchFailed
	Diverging
	EvaluationFailed
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case MaxIterations:
		return "max-iterations"
	case UserTerminated:
		return "user-terminated"
	case LineSearchFailed:
		return "line-search-failed"
	case Diverging:
		return "diverging"
	case EvaluationFailed:
		return "evaluation-failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// IterationStats is reported once per accepted iterate.
type IterationStats struct {
	Iteration      int
	Objective      float64
	InfPr          float64
	InfDu          float64
	Mu             float64
	StepSize       float64
	Regularization float64
	// Rejections counts trial points rejected so far because the problem
	// could not be evaluated there.
	Rejections int
	Elapsed    time.Duration
}

// Solution is the last iterate and its multipliers. Lambda follows the
// sign convention ∇f + Jᵀλ - zL + zU = 0.
type Solution struct {
	Status     Status
	X          []float64
	G          []float64
	Lambda     []float64
	ZL         []float64
	ZU         []float64
	Objective  float64
	Iterations int
	Rejections int
}

// Callbacks is everything a solver may ask of a problem. Evaluation
// methods return an error when the point cannot be evaluated; the solver
// rejects such trial points. Structure methods return the same ordering on
// every call.
type Callbacks interface {
	Dimensions() (n, m int)
	Bounds(xl, xu, gl, gu []float64)
	StartingPoint(x []float64)

	EvalObjective(x []float64) (float64, error)
	EvalObjectiveGradient(x, grad []float64) error
	EvalConstraints(x, g []float64) error

	JacobianStructure() (rows, cols []int)
	EvalConstraintsJacobian(x, values []float64) error

	// HessianStructure is the lower triangle of the Lagrangian Hessian.
	HessianStructure() (rows, cols []int)
	EvalHessian(x []float64, sigma float64, lambda, values []float64) error

	// OnIterationFinished returns false to stop after this iteration.
	OnIterationFinished(stats IterationStats) bool
	FinalizeSolution(sol *Solution)
}

// Solver runs to a terminal status. An error is returned only when no
// iterate could be produced at all.
type Solver interface {
	Solve(ctx context.Context, cb Callbacks) (Status, error)
}
