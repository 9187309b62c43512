package nlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/san-kum/trajopt/internal/derivative"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/transcription"
)

// Phase is the adapter lifecycle:
//
//	Uninitialized -> Configured -> Solving -> Converged | Failed | Terminated
type Phase int

const (
	Uninitialized Phase = iota
	Configured
	Solving
	PhaseConverged
	PhaseFailed
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Configured:
		return "configured"
	case Solving:
		return "solving"
	case PhaseConverged:
		return "converged"
	case PhaseFailed:
		return "failed"
	case PhaseTerminated:
		return "user-terminated"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Hook sees every finished iteration and returns false to stop the solve.
type Hook func(IterationStats) bool

// Adapter serves the callback protocol for one transcription. It is used
// for exactly one solve.
type Adapter struct {
	tr     *transcription.Engine
	de     *derivative.Engine
	logger *slog.Logger

	hooks    []Hook
	deadline time.Time
	start    []float64

	phase      Phase
	ctx        context.Context
	began      time.Time
	rejections int
	last       IterationStats
	stopReason error
	solution   *Solution
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.logger = l } }

// WithHook adds an iteration hook. Hooks run in the order added.
func WithHook(h Hook) Option { return func(a *Adapter) { a.hooks = append(a.hooks, h) } }

// WithDeadline stops the solve at the first iteration boundary after t.
func WithDeadline(t time.Time) Option { return func(a *Adapter) { a.deadline = t } }

// WithStartingPoint replaces the engine's default guess.
func WithStartingPoint(x []float64) Option {
	return func(a *Adapter) { a.start = slices.Clone(x) }
}

// New binds a transcription and its derivative engine. The sparsity
// patterns are already fixed by the derivative engine, so the adapter is
// Configured on return.
func New(tr *transcription.Engine, de *derivative.Engine, opts ...Option) (*Adapter, error) {
	if tr == nil || de == nil {
		return nil, dynamo.Configf("adapter", "nil engine")
	}
	a := &Adapter{tr: tr, de: de, phase: Configured}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.start != nil && len(a.start) != tr.VariableCount() {
		return nil, dynamo.Configf("start", "starting point has %d values, want %d", len(a.start), tr.VariableCount())
	}
	return a, nil
}

func (a *Adapter) Phase() Phase { return a.phase }

// Rejections counts evaluations that failed at a solver-requested point.
func (a *Adapter) Rejections() int { return a.rejections }

// Last is the most recent iteration report.
func (a *Adapter) Last() IterationStats { return a.last }

// StopReason explains a UserTerminated status: a hook, context error or
// context.DeadlineExceeded for the adapter deadline.
func (a *Adapter) StopReason() error { return a.stopReason }

var errHookStop = errors.New("stopped by iteration hook")

// Solve runs solver against the adapter and returns the final iterate. A
// non-nil Solution is returned whenever the solver produced one, even
// alongside an error.
func (a *Adapter) Solve(ctx context.Context, solver Solver) (*Solution, error) {
	if a.phase != Configured {
		return nil, fmt.Errorf("nlp: solve in phase %v: %w", a.phase, dynamo.ErrInvalidState)
	}
	n, m := a.Dimensions()
	a.logger.Info("nlp solve",
		"variables", n,
		"constraints", m,
		"jacobian_nnz", a.de.JacobianPattern().Len(),
		"hessian_nnz", a.de.HessianPattern().Len())

	a.phase = Solving
	a.ctx = ctx
	a.began = time.Now()

	status, err := solver.Solve(ctx, a)
	if err != nil {
		a.phase = PhaseFailed
		return a.solution, fmt.Errorf("nlp: %w", err)
	}
	if a.solution == nil {
		a.phase = PhaseFailed
		return nil, fmt.Errorf("nlp: solver returned %v without a solution: %w", status, dynamo.ErrInvalidState)
	}

	switch status {
	case Converged:
		a.phase = PhaseConverged
	case UserTerminated:
		a.phase = PhaseTerminated
	default:
		a.phase = PhaseFailed
	}
	a.logger.Info("nlp finished",
		"status", status,
		"iterations", a.solution.Iterations,
		"objective", a.solution.Objective,
		"rejections", a.rejections)
	return a.solution, nil
}

func (a *Adapter) Dimensions() (n, m int) {
	return a.tr.VariableCount(), a.tr.ConstraintCount()
}

func (a *Adapter) Bounds(xl, xu, gl, gu []float64) {
	a.tr.VariableBounds(xl, xu)
	a.tr.ConstraintBounds(gl, gu)
}

func (a *Adapter) StartingPoint(x []float64) {
	if a.start != nil {
		copy(x, a.start)
		return
	}
	copy(x, a.tr.Guess())
}

func (a *Adapter) check() error {
	if a.phase != Solving {
		return fmt.Errorf("nlp: evaluation in phase %v: %w", a.phase, dynamo.ErrInvalidState)
	}
	return nil
}

// failed records a rejected evaluation and passes the error on.
func (a *Adapter) failed(what string, err error) error {
	if errors.Is(err, dynamo.ErrDynamicsEvaluation) {
		a.rejections++
		a.logger.Debug("evaluation rejected", "callback", what, "err", err)
	}
	return err
}

func (a *Adapter) EvalObjective(x []float64) (float64, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	f, err := a.tr.Objective(x)
	if err != nil {
		return 0, a.failed("objective", err)
	}
	return f, nil
}

func (a *Adapter) EvalObjectiveGradient(x, grad []float64) error {
	if err := a.check(); err != nil {
		return err
	}
	if err := a.de.Gradient(x, grad); err != nil {
		return a.failed("gradient", err)
	}
	return nil
}

func (a *Adapter) EvalConstraints(x, g []float64) error {
	if err := a.check(); err != nil {
		return err
	}
	if err := a.tr.Constraints(x, g); err != nil {
		return a.failed("constraints", err)
	}
	return nil
}

func (a *Adapter) JacobianStructure() (rows, cols []int) {
	p := a.de.JacobianPattern()
	return slices.Clone(p.Rows), slices.Clone(p.Cols)
}

func (a *Adapter) EvalConstraintsJacobian(x, values []float64) error {
	if err := a.check(); err != nil {
		return err
	}
	if err := a.de.Jacobian(x, values); err != nil {
		return a.failed("jacobian", err)
	}
	return nil
}

func (a *Adapter) HessianStructure() (rows, cols []int) {
	p := a.de.HessianPattern()
	return slices.Clone(p.Rows), slices.Clone(p.Cols)
}

func (a *Adapter) EvalHessian(x []float64, sigma float64, lambda, values []float64) error {
	if err := a.check(); err != nil {
		return err
	}
	if err := a.de.Hessian(x, sigma, lambda, values); err != nil {
		return a.failed("hessian", err)
	}
	return nil
}

func (a *Adapter) OnIterationFinished(stats IterationStats) bool {
	stats.Rejections = a.rejections
	stats.Elapsed = time.Since(a.began)
	a.last = stats

	a.logger.Debug("iteration",
		"iter", stats.Iteration,
		"objective", stats.Objective,
		"inf_pr", stats.InfPr,
		"inf_du", stats.InfDu,
		"mu", stats.Mu,
		"alpha", stats.StepSize,
		"reg", stats.Regularization,
		"rejections", stats.Rejections)

	for _, h := range a.hooks {
		if !h(stats) {
			a.stopReason = errHookStop
			return false
		}
	}
	if a.ctx != nil {
		if err := a.ctx.Err(); err != nil {
			a.stopReason = err
			return false
		}
	}
	if !a.deadline.IsZero() && time.Now().After(a.deadline) {
		a.stopReason = context.DeadlineExceeded
		return false
	}
	return true
}

func (a *Adapter) FinalizeSolution(sol *Solution) {
	sol.Rejections = a.rejections
	a.solution = sol
}

// IsHookStop reports whether err is the reason recorded for a hook stop.
func IsHookStop(err error) bool { return errors.Is(err, errHookStop) }
