package transcription

import (
	"fmt"
	"slices"
	"sync"

	"github.com/san-kum/trajopt/internal/dynamo"
)

type nodeEval struct {
	f    dynamo.State
	cost float64
	path []float64
}

// evaluation holds every oracle output needed at one variable vector.
type evaluation struct {
	t0, tf       float64
	points       []nodeEval
	mids         []nodeEval
	endpoint     []float64
	endpointCost float64
}

// evalCache memoizes the oracle outputs at the most recent base point.
// Perturbed evaluations from the derivative engine bypass it.
type evalCache struct {
	mu     sync.Mutex
	x      []float64
	ev     *evaluation
	err    error
	hits   int64
	misses int64
}

// CacheStats reports how many cached evaluations were served and computed.
func (e *Engine) CacheStats() (hits, misses int64) {
	e.cache.mu.Lock()
	defer e.cache.mu.Unlock()
	return e.cache.hits, e.cache.misses
}

// InvalidateCache drops the memoized evaluation.
func (e *Engine) InvalidateCache() {
	e.cache.mu.Lock()
	e.cache.x, e.cache.ev, e.cache.err = nil, nil, nil
	e.cache.mu.Unlock()
}

func (e *Engine) evaluate(x []float64, cached bool) (*evaluation, error) {
	if len(x) != e.nVars {
		return nil, fmt.Errorf("%w: variable vector has %d entries, want %d", dynamo.ErrDimensionMismatch, len(x), e.nVars)
	}
	if !cached {
		return e.compute(x)
	}

	c := &e.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.x != nil && slices.Equal(c.x, x) {
		c.hits++
		return c.ev, c.err
	}
	c.misses++
	c.ev, c.err = e.compute(x)
	c.x = append(c.x[:0], x...)
	return c.ev, c.err
}

func (e *Engine) compute(x []float64) (*evaluation, error) {
	n := e.mesh.Len()
	ev := &evaluation{
		t0:     x[initialTimeIndex],
		tf:     x[finalTimeIndex],
		points: make([]nodeEval, n),
	}
	span := ev.tf - ev.t0
	if !(span > 0) {
		return nil, &dynamo.DynamicsEvaluationError{Kind: dynamo.EvalHorizon, Point: -1, Time: ev.tf, Wrapped: errEmptyHorizon}
	}
	p := e.Params(x)

	errs := make([]error, n)
	dynamo.ParallelFor(n, e.workers, func(start, end int) {
		for k := start; k < end; k++ {
			t := ev.t0 + span*e.mesh.At(k)
			ev.points[k], errs[k] = e.node(k, false, t, e.StateAt(x, k), e.ControlAt(x, k), p)
		}
	})
	if err := firstError(errs); err != nil {
		return nil, err
	}

	if e.scheme == HermiteSimpson {
		ev.mids = make([]nodeEval, n-1)
		errs = errs[:n-1]
		dynamo.ParallelFor(n-1, e.workers, func(start, end int) {
			for k := start; k < end; k++ {
				h := span * e.mesh.Width(k)
				t := ev.t0 + span*e.mesh.At(k) + 0.5*h
				xc := MidState(e.StateAt(x, k), e.StateAt(x, k+1), ev.points[k].f, ev.points[k+1].f, h)
				ev.mids[k], errs[k] = e.node(k, true, t, xc, e.MidControlAt(x, k), p)
			}
		})
		if err := firstError(errs); err != nil {
			return nil, err
		}
	}

	if err := e.endpoints(x, ev, p); err != nil {
		return nil, err
	}
	return ev, nil
}

func (e *Engine) node(k int, mid bool, t float64, x dynamo.State, u dynamo.Control, p dynamo.Params) (nodeEval, error) {
	fail := func(kind dynamo.EvaluationKind, err error) error {
		return &dynamo.DynamicsEvaluationError{
			Kind: kind, Point: k, Midpoint: mid, Time: t,
			State: x.Clone(), Control: u.Clone(), Wrapped: err,
		}
	}

	var out nodeEval
	f, err := e.sys.Derive(t, x, u, p)
	switch {
	case err != nil:
		return out, fail(dynamo.EvalDynamics, err)
	case len(f) != e.nx:
		return out, fail(dynamo.EvalDynamics, fmt.Errorf("%w: derivative has %d entries, want %d", dynamo.ErrDimensionMismatch, len(f), e.nx))
	case !f.IsValid():
		return out, fail(dynamo.EvalDynamics, dynamo.ErrInvalidState)
	}
	out.f = f

	if c, ok := e.sys.(dynamo.IntegrandCoster); ok {
		v, err := c.IntegrandCost(t, x, u, p)
		if err != nil {
			return out, fail(dynamo.EvalIntegrandCost, err)
		}
		if !finite(v) {
			return out, fail(dynamo.EvalIntegrandCost, dynamo.ErrInvalidState)
		}
		out.cost = v
	}

	if mid || e.nc == 0 {
		return out, nil
	}
	pc := e.sys.(dynamo.PathConstrainer)
	vals, err := pc.PathConstraints(t, x, u, p)
	switch {
	case err != nil:
		return out, fail(dynamo.EvalPathConstraints, err)
	case len(vals) != e.nc:
		return out, fail(dynamo.EvalPathConstraints, fmt.Errorf("%w: %d path values, want %d", dynamo.ErrDimensionMismatch, len(vals), e.nc))
	case !dynamo.State(vals).IsValid():
		return out, fail(dynamo.EvalPathConstraints, dynamo.ErrInvalidState)
	}
	out.path = vals
	return out, nil
}

func (e *Engine) endpoints(x []float64, ev *evaluation, p dynamo.Params) error {
	last := e.mesh.Len() - 1
	x0, xf := e.StateAt(x, 0), e.StateAt(x, last)
	fail := func(kind dynamo.EvaluationKind, err error) error {
		return &dynamo.DynamicsEvaluationError{Kind: kind, Point: -1, Time: ev.tf, State: xf.Clone(), Wrapped: err}
	}

	if c, ok := e.sys.(dynamo.EndpointCoster); ok {
		v, err := c.EndpointCost(ev.t0, x0, ev.tf, xf, p)
		if err != nil {
			return fail(dynamo.EvalEndpointCost, err)
		}
		if !finite(v) {
			return fail(dynamo.EvalEndpointCost, dynamo.ErrInvalidState)
		}
		ev.endpointCost = v
	}

	if e.ne == 0 {
		return nil
	}
	vals, err := e.sys.(dynamo.EndpointConstrainer).EndpointConstraints(ev.t0, x0, ev.tf, xf, p)
	switch {
	case err != nil:
		return fail(dynamo.EvalEndpointConstraints, err)
	case len(vals) != e.ne:
		return fail(dynamo.EvalEndpointConstraints, fmt.Errorf("%w: %d endpoint values, want %d", dynamo.ErrDimensionMismatch, len(vals), e.ne))
	case !dynamo.State(vals).IsValid():
		return fail(dynamo.EvalEndpointConstraints, dynamo.ErrInvalidState)
	}
	ev.endpoint = vals
	return nil
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
