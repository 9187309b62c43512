// Package ipm is a primal-dual interior-point method for sparse nonlinear
// programs served through nlp.Callbacks.
//
// Inequality rows get slack variables, fixed variables are held as
// parameters, and each iteration solves the full primal-dual Newton system
// with a dense LU factorization. Steps are limited by the
// fraction-to-boundary rule and accepted by backtracking on an ℓ1 merit
// function. A trial point whose evaluation fails is rejected and the step
// halved; a failure at the starting point is fatal.
package ipm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/trajopt/internal/nlp"
)

var (
	errEmptyBounds = errors.New("ipm: lower bound exceeds upper bound")
	errKKT         = errors.New("ipm: newton system could not be solved")
)

type Solver struct {
	opts Options
}

func New(opts Options) *Solver {
	return &Solver{opts: opts.withDefaults()}
}

// Solve iterates until the scaled KKT error drops below Tol or another
// terminal status is reached. An error is returned only when the starting
// point cannot be evaluated or the bounds are inconsistent.
func (s *Solver) Solve(ctx context.Context, cb nlp.Callbacks) (nlp.Status, error) {
	r, err := newRun(cb, s.opts)
	if err != nil {
		return nlp.EvaluationFailed, err
	}
	if err := r.start(); err != nil {
		return nlp.EvaluationFailed, err
	}
	return r.loop(ctx), nil
}

type run struct {
	cb   nlp.Callbacks
	opts Options
	log  *slog.Logger

	n, m   int
	xl, xu []float64
	gl, gu []float64

	free  []int // y index -> x index
	pos   []int // x index -> y index, -1 when fixed
	slack []int // row -> y index of its slack, -1 for equalities
	ny    int
	lo    []float64
	hi    []float64

	jrows, jcols []int
	hrows, hcols []int

	x, y   []float64
	lam    []float64
	zl, zu []float64
	f      float64
	g      []float64
	grad   []float64
	jac    []float64
	hess   []float64

	mu, tau, nu float64
	reg         float64
	rejections  int
	iter        int
}

func newRun(cb nlp.Callbacks, opts Options) (*run, error) {
	n, m := cb.Dimensions()
	r := &run{
		cb:    cb,
		opts:  opts,
		log:   opts.Logger,
		n:     n,
		m:     m,
		xl:    make([]float64, n),
		xu:    make([]float64, n),
		gl:    make([]float64, m),
		gu:    make([]float64, m),
		pos:   make([]int, n),
		slack: make([]int, m),
	}
	cb.Bounds(r.xl, r.xu, r.gl, r.gu)

	for j := range n {
		switch {
		case r.xl[j] > r.xu[j]:
			return nil, fmt.Errorf("%w: variable %d", errEmptyBounds, j)
		case r.xl[j] == r.xu[j]:
			r.pos[j] = -1
		default:
			r.pos[j] = len(r.free)
			r.free = append(r.free, j)
			r.lo = append(r.lo, r.xl[j])
			r.hi = append(r.hi, r.xu[j])
		}
	}
	for i := range m {
		switch {
		case r.gl[i] > r.gu[i]:
			return nil, fmt.Errorf("%w: constraint %d", errEmptyBounds, i)
		case r.gl[i] == r.gu[i]:
			r.slack[i] = -1
		default:
			r.slack[i] = len(r.lo)
			r.lo = append(r.lo, r.gl[i])
			r.hi = append(r.hi, r.gu[i])
		}
	}
	r.ny = len(r.lo)

	r.jrows, r.jcols = cb.JacobianStructure()
	r.hrows, r.hcols = cb.HessianStructure()

	r.x = make([]float64, n)
	r.y = make([]float64, r.ny)
	r.lam = make([]float64, m)
	r.zl = make([]float64, r.ny)
	r.zu = make([]float64, r.ny)
	r.g = make([]float64, m)
	r.grad = make([]float64, n)
	r.jac = make([]float64, len(r.jrows))
	r.hess = make([]float64, len(r.hrows))
	return r, nil
}

func hasLower(l float64) bool { return !math.IsInf(l, -1) }
func hasUpper(u float64) bool { return !math.IsInf(u, 1) }

// push moves v strictly inside [l, u].
func (r *run) push(v, l, u float64) float64 {
	switch {
	case hasLower(l) && hasUpper(u):
		pl := math.Min(r.opts.BoundPush*math.Max(1, math.Abs(l)), r.opts.BoundFrac*(u-l))
		pu := math.Min(r.opts.BoundPush*math.Max(1, math.Abs(u)), r.opts.BoundFrac*(u-l))
		return math.Min(math.Max(v, l+pl), u-pu)
	case hasLower(l):
		return math.Max(v, l+r.opts.BoundPush*math.Max(1, math.Abs(l)))
	case hasUpper(u):
		return math.Min(v, u-r.opts.BoundPush*math.Max(1, math.Abs(u)))
	}
	return v
}

func (r *run) start() error {
	x0 := make([]float64, r.n)
	r.cb.StartingPoint(x0)
	for j := range r.n {
		if r.pos[j] < 0 {
			r.x[j] = r.xl[j]
			continue
		}
		r.x[j] = r.push(x0[j], r.xl[j], r.xu[j])
		r.y[r.pos[j]] = r.x[j]
	}

	f, err := r.cb.EvalObjective(r.x)
	if err == nil && !isFinite(f) {
		err = fmt.Errorf("objective is %v", f)
	}
	if err == nil {
		err = r.cb.EvalConstraints(r.x, r.g)
	}
	if err == nil {
		err = r.cb.EvalObjectiveGradient(r.x, r.grad)
	}
	if err == nil {
		err = r.cb.EvalConstraintsJacobian(r.x, r.jac)
	}
	if err != nil {
		return fmt.Errorf("ipm: starting point: %w", err)
	}
	r.f = f

	for i, k := range r.slack {
		if k >= 0 {
			r.y[k] = r.push(r.g[i], r.gl[i], r.gu[i])
		}
	}
	for k := range r.ny {
		if hasLower(r.lo[k]) {
			r.zl[k] = 1
		}
		if hasUpper(r.hi[k]) {
			r.zu[k] = 1
		}
	}
	r.mu = r.opts.InitialMu
	r.tau = math.Max(tauMin, 1-r.mu)
	r.nu = 1
	return nil
}

func (r *run) loop(ctx context.Context) nlp.Status {
	if r.ny == 0 {
		// Nothing can move: the fixed point is the answer only if it is
		// feasible.
		c := make([]float64, r.m)
		r.residual(r.g, r.y, c)
		if infPr := floats.Norm(c, math.Inf(1)); r.m > 0 && !(infPr <= r.opts.Tol) {
			r.log.Warn("all variables fixed and constraints violated", "inf_pr", infPr)
			return r.finish(nlp.Diverging)
		}
		return r.finish(nlp.Converged)
	}
	for {
		total, _, _ := r.kktError(0)
		if total <= r.opts.Tol {
			return r.finish(nlp.Converged)
		}
		if r.iter >= r.opts.MaxIter {
			return r.finish(nlp.MaxIterations)
		}
		if ctx.Err() != nil {
			return r.finish(nlp.UserTerminated)
		}

		for r.mu > r.opts.Tol/10 {
			e, _, _ := r.kktError(r.mu)
			if e > kappaEps*r.mu {
				break
			}
			r.mu = math.Max(r.opts.Tol/10, math.Min(kappaMu*r.mu, math.Pow(r.mu, thetaMu)))
			r.tau = math.Max(tauMin, 1-r.mu)
		}

		if err := r.cb.EvalHessian(r.x, 1, r.lam, r.hess); err != nil {
			r.log.Debug("hessian unavailable, using first-order model", "iter", r.iter, "err", err)
			clear(r.hess)
		}

		st, err := r.newton()
		if err != nil {
			r.log.Warn("newton step failed", "iter", r.iter, "err", err)
			return r.finish(nlp.LineSearchFailed)
		}
		alpha, ok := r.lineSearch(st)
		if !ok {
			return r.finish(nlp.LineSearchFailed)
		}
		r.iter++

		if floats.Norm(r.x, math.Inf(1)) > divergence {
			return r.finish(nlp.Diverging)
		}

		_, infPr, infDu := r.kktError(r.mu)
		stats := nlp.IterationStats{
			Iteration:      r.iter,
			Objective:      r.f,
			InfPr:          infPr,
			InfDu:          infDu,
			Mu:             r.mu,
			StepSize:       alpha,
			Regularization: st.reg,
			Rejections:     r.rejections,
		}
		if !r.cb.OnIterationFinished(stats) {
			return r.finish(nlp.UserTerminated)
		}
	}
}

// finish hands the current iterate to the callbacks.
func (r *run) finish(status nlp.Status) nlp.Status {
	zl := make([]float64, r.n)
	zu := make([]float64, r.n)
	jtl := r.jacobianT(r.jac, r.lam)
	for j := range r.n {
		k := r.pos[j]
		if k >= 0 {
			zl[j], zu[j] = r.zl[k], r.zu[k]
			continue
		}
		if d := r.grad[j] + jtl[j]; d > 0 {
			zl[j] = d
		} else {
			zu[j] = -d
		}
	}
	r.cb.FinalizeSolution(&nlp.Solution{
		Status:     status,
		X:          slices.Clone(r.x),
		G:          slices.Clone(r.g),
		Lambda:     slices.Clone(r.lam),
		ZL:         zl,
		ZU:         zu,
		Objective:  r.f,
		Iterations: r.iter,
		Rejections: r.rejections,
	})
	return status
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
