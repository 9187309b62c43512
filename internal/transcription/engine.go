// Package transcription maps a continuous optimal control problem onto a
// finite-dimensional nonlinear program by direct collocation.
//
// Variable layout (fixed for an Engine's lifetime):
//
//	[t0, tf, p..., x0, u0, (ū0), x1, u1, (ū1), ..., xN, uN]
//
// where ū are Hermite-Simpson midpoint controls. Constraint rows are the
// defect blocks (one per interval), path blocks (one per mesh point), the
// periodicity rows and the endpoint constraint rows, in that order.
package transcription

import (
	"errors"
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/mesh"
	"github.com/san-kum/trajopt/internal/problem"
)

var errEmptyHorizon = errors.New("final time does not exceed initial time")

type Engine struct {
	prob   *problem.Problem
	sys    dynamo.System
	mesh   *mesh.Mesh
	scheme Scheme

	nx, nu, np, nc, ne int

	offsets []int
	nVars   int
	blocks  []Block
	nCons   int
	nTerms  int

	workers int
	cache   evalCache
}

// Option configures an Engine.
type Option func(*Engine)

// WithScheme selects the collocation rule. The default is Trapezoidal.
func WithScheme(s Scheme) Option { return func(e *Engine) { e.scheme = s } }

// WithWorkers bounds the goroutines used to evaluate mesh points. Zero
// means GOMAXPROCS; one evaluates inline.
func WithWorkers(n int) Option { return func(e *Engine) { e.workers = n } }

// New validates the problem against the oracle and freezes the layout.
// No oracle method is called.
func New(prob *problem.Problem, sys dynamo.System, m *mesh.Mesh, opts ...Option) (*Engine, error) {
	if prob == nil {
		return nil, dynamo.Configf("problem", "nil problem")
	}
	if m == nil {
		return nil, dynamo.Configf("mesh", "nil mesh")
	}
	if err := prob.Validate(); err != nil {
		return nil, err
	}
	if err := prob.CheckSystem(sys); err != nil {
		return nil, err
	}

	e := &Engine{
		prob: prob.Clone(),
		sys:  sys,
		mesh: m,
		nx:   prob.NumStates,
		nu:   prob.NumControls,
		np:   prob.NumParams,
		nc:   prob.NumPath,
		ne:   prob.NumEndpoint,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.scheme != Trapezoidal && e.scheme != HermiteSimpson {
		return nil, dynamo.Configf("scheme", "unsupported scheme %v", e.scheme)
	}

	e.buildLayout()
	return e, nil
}

func (e *Engine) Problem() *problem.Problem { return e.prob }
func (e *Engine) System() dynamo.System     { return e.sys }
func (e *Engine) Mesh() *mesh.Mesh          { return e.mesh }
func (e *Engine) Scheme() Scheme            { return e.scheme }
func (e *Engine) Workers() int              { return e.workers }

// Constraints evaluates the constraint vector into g.
func (e *Engine) Constraints(x, g []float64) error {
	ev, err := e.evaluate(x, true)
	if err != nil {
		return err
	}
	e.fillConstraints(x, ev, g)
	return nil
}

// ObjectiveTerms evaluates the additive pieces of the objective: one
// quadrature term per mesh point, one per midpoint for Hermite-Simpson,
// and the endpoint cost last.
func (e *Engine) ObjectiveTerms(x, terms []float64) error {
	ev, err := e.evaluate(x, true)
	if err != nil {
		return err
	}
	e.fillTerms(x, ev, terms)
	return nil
}

// Objective returns the sum of the objective terms.
func (e *Engine) Objective(x []float64) (float64, error) {
	terms := make([]float64, e.nTerms)
	if err := e.ObjectiveTerms(x, terms); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, v := range terms {
		sum += v
	}
	return sum, nil
}

// Stack evaluates [constraints; objective terms] into out without touching
// the cache. It is safe for concurrent use and is what the derivative
// engine perturbs.
func (e *Engine) Stack(x, out []float64) error {
	ev, err := e.evaluate(x, false)
	if err != nil {
		return err
	}
	e.fillConstraints(x, ev, out[:e.nCons])
	e.fillTerms(x, ev, out[e.nCons:e.nCons+e.nTerms])
	return nil
}

// StackLen is ConstraintCount()+TermCount().
func (e *Engine) StackLen() int { return e.nCons + e.nTerms }

func (e *Engine) fillConstraints(x []float64, ev *evaluation, g []float64) {
	last := e.mesh.Len() - 1
	span := ev.tf - ev.t0
	for _, b := range e.blocks {
		out := g[b.Start:b.End]
		switch b.Kind {
		case DefectBlock:
			k := b.Index
			h := span * e.mesh.Width(k)
			xk, xk1 := e.StateAt(x, k), e.StateAt(x, k+1)
			fk, fk1 := ev.points[k].f, ev.points[k+1].f
			if e.scheme == HermiteSimpson {
				fc := ev.mids[k].f
				for i := range out {
					out[i] = 1.5*(xk1[i]-xk[i])/h - 0.25*(fk[i]+fk1[i]) - fc[i]
				}
			} else {
				for i := range out {
					out[i] = (xk1[i]-xk[i])/h - 0.5*(fk[i]+fk1[i])
				}
			}
		case PathBlock:
			copy(out, ev.points[b.Index].path)
		case PeriodicBlock:
			for r, idx := range e.prob.Periodic {
				out[r] = x[e.StateIndex(last, idx)] - x[e.StateIndex(0, idx)]
			}
		case EndpointBlock:
			copy(out, ev.endpoint)
		}
	}
}

func (e *Engine) fillTerms(x []float64, ev *evaluation, terms []float64) {
	last := e.mesh.Len() - 1
	span := ev.tf - ev.t0
	div := 2.0
	if e.scheme == HermiteSimpson {
		div = 6.0
	}
	for k := 0; k <= last; k++ {
		w := 0.0
		if k > 0 {
			w += e.mesh.Width(k - 1)
		}
		if k < last {
			w += e.mesh.Width(k)
		}
		terms[k] = span * w / div * ev.points[k].cost
	}
	idx := last + 1
	if e.scheme == HermiteSimpson {
		for k := 0; k < last; k++ {
			terms[idx+k] = span * e.mesh.Width(k) * 4.0 / 6.0 * ev.mids[k].cost
		}
		idx += last
	}
	terms[idx] = ev.endpointCost
}

// InitialTime returns t0 stored in x.
func (e *Engine) InitialTime(x []float64) float64 { return x[initialTimeIndex] }

// FinalTime returns tf stored in x.
func (e *Engine) FinalTime(x []float64) float64 { return x[finalTimeIndex] }

// Params returns a view of the static parameters in x.
func (e *Engine) Params(x []float64) dynamo.Params {
	return dynamo.Params(x[paramOffset : paramOffset+e.np])
}

// StateAt returns a view of the state at mesh point k.
func (e *Engine) StateAt(x []float64, k int) dynamo.State {
	o := e.offsets[k]
	return dynamo.State(x[o : o+e.nx])
}

// ControlAt returns a view of the control at mesh point k.
func (e *Engine) ControlAt(x []float64, k int) dynamo.Control {
	o := e.offsets[k] + e.nx
	return dynamo.Control(x[o : o+e.nu])
}

// MidControlAt returns a view of the midpoint control of interval k, or
// nil for schemes without one.
func (e *Engine) MidControlAt(x []float64, k int) dynamo.Control {
	if e.scheme != HermiteSimpson {
		return nil
	}
	o := e.offsets[k] + e.nx + e.nu
	return dynamo.Control(x[o : o+e.nu])
}

// Times returns the absolute mesh times encoded by x.
func (e *Engine) Times(x []float64) []float64 {
	t0, tf := x[initialTimeIndex], x[finalTimeIndex]
	out := make([]float64, e.mesh.Len())
	for k := range out {
		out[k] = t0 + (tf-t0)*e.mesh.At(k)
	}
	return out
}

// MidState returns the cubic Hermite interpolant of the state at the
// midpoint of interval k given the endpoint derivatives.
func MidState(xk, xk1, fk, fk1 dynamo.State, h float64) dynamo.State {
	xc := make(dynamo.State, len(xk))
	for i := range xc {
		xc[i] = 0.5*(xk[i]+xk1[i]) + h/8*(fk[i]-fk1[i])
	}
	return xc
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
