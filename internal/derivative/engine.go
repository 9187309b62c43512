// Package derivative computes sparse first and second derivatives of a
// transcribed problem by colored finite differences.
//
// All patterns are derived once from the block supports of the
// transcription and never change afterwards: value slices handed to
// callers are always ordered like the corresponding Pattern.
package derivative

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/transcription"
)

var (
	sqrtEps   = math.Sqrt(0x1p-52)
	cubeEps   = math.Cbrt(0x1p-52)
	fourthEps = math.Sqrt(sqrtEps)
)

// Method selects the difference formula.
type Method int

const (
	Forward Method = iota
	Central
)

func (m Method) String() string {
	switch m {
	case Forward:
		return "forward"
	case Central:
		return "central"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod accepts "forward" and "central".
func ParseMethod(name string) (Method, error) {
	switch name {
	case "", "forward":
		return Forward, nil
	case "central":
		return Central, nil
	}
	return 0, dynamo.Configf("method", "unknown difference method %q", name)
}

// Function is the stacked vector [constraints; objective terms] together
// with its block supports. *transcription.Engine satisfies it.
type Function interface {
	VariableCount() int
	ConstraintCount() int
	TermCount() int
	Supports() []transcription.Support
	Stack(x, out []float64) error
}

type Engine struct {
	fn      Function
	method  Method
	workers int
	upper   []float64

	n, m, nt int

	stack    Pattern
	jac      Pattern
	hess     Pattern
	stackCol Coloring
	hessCol  Coloring
	byColor  [][]int // stack entries grouped by the color of their column
	termRows []int   // stack entries that belong to objective terms
	hessAdj  [][]int

	mu     sync.Mutex
	lastX  []float64
	lastJ  []float64
	evals  atomic.Int64
	sweeps atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithMethod selects forward (default) or central differences for the
// Jacobian and the outer Hessian differences.
func WithMethod(m Method) Option { return func(e *Engine) { e.method = m } }

// WithWorkers bounds the goroutines used per color sweep.
func WithWorkers(n int) Option { return func(e *Engine) { e.workers = n } }

// WithUpperBounds makes forward steps flip to backward steps for columns
// that would cross their upper bound.
func WithUpperBounds(xu []float64) Option {
	return func(e *Engine) { e.upper = slices.Clone(xu) }
}

// New computes every pattern and coloring. The function is not evaluated.
func New(fn Function, opts ...Option) (*Engine, error) {
	e := &Engine{
		fn: fn,
		n:  fn.VariableCount(),
		m:  fn.ConstraintCount(),
		nt: fn.TermCount(),
	}
	for _, opt := range opts {
		opt(e)
	}

	supports := fn.Supports()
	e.stack = JacobianSparsity(supports)
	e.jac = e.stack.prefix(e.m)
	e.hess = HessianSparsity(supports)

	var err error
	if e.stackCol, err = colorColumns(e.n, rowsOf(e.stack, e.m+e.nt)); err != nil {
		return nil, err
	}
	e.byColor = make([][]int, e.stackCol.Len())
	for idx, c := range e.stack.Cols {
		k := e.stackCol.Of[c]
		e.byColor[k] = append(e.byColor[k], idx)
	}
	for idx := e.jac.Len(); idx < e.stack.Len(); idx++ {
		e.termRows = append(e.termRows, idx)
	}

	e.hessAdj = symmetric(e.hess, e.n)
	if e.hessCol, err = colorColumns(e.n, e.hessAdj); err != nil {
		return nil, err
	}

	return e, nil
}

// JacobianPattern is the constraint Jacobian structure.
func (e *Engine) JacobianPattern() Pattern { return e.jac }

// HessianPattern is the lower triangle of the Lagrangian Hessian.
func (e *Engine) HessianPattern() Pattern { return e.hess }

// Colors returns the Jacobian and Hessian color counts.
func (e *Engine) Colors() (jacobian, hessian int) {
	return e.stackCol.Len(), e.hessCol.Len()
}

// Evaluations is the number of stacked function evaluations so far.
func (e *Engine) Evaluations() int64 { return e.evals.Load() }

// Sweeps is the number of full colored Jacobian sweeps so far.
func (e *Engine) Sweeps() int64 { return e.sweeps.Load() }

func (e *Engine) eval(x, out []float64) error {
	e.evals.Add(1)
	return e.fn.Stack(x, out)
}

// Jacobian writes constraint Jacobian values in JacobianPattern order.
func (e *Engine) Jacobian(x, values []float64) error {
	full, err := e.stackedJacobian(x)
	if err != nil {
		return err
	}
	copy(values, full[:e.jac.Len()])
	return nil
}

// Gradient writes the objective gradient, the column sums of the
// objective-term rows.
func (e *Engine) Gradient(x, grad []float64) error {
	full, err := e.stackedJacobian(x)
	if err != nil {
		return err
	}
	clear(grad[:e.n])
	for _, idx := range e.termRows {
		grad[e.stack.Cols[idx]] += full[idx]
	}
	return nil
}

// stackedJacobian returns the last sweep when x has not changed. The
// returned slice must not be modified.
func (e *Engine) stackedJacobian(x []float64) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastJ != nil && slices.Equal(e.lastX, x) {
		return e.lastJ, nil
	}

	vals := make([]float64, e.stack.Len())
	if err := e.sweep(x, e.method, e.workers, vals); err != nil {
		e.lastJ = nil
		return nil, err
	}
	e.lastX = append(e.lastX[:0], x...)
	e.lastJ = vals
	return vals, nil
}

func (e *Engine) step(x []float64, j int, method Method) float64 {
	scale := math.Max(1, math.Abs(x[j]))
	if method == Central {
		return cubeEps * scale
	}
	h := sqrtEps * scale
	if e.upper != nil && x[j]+h > e.upper[j] {
		h = -h
	}
	return h
}

// sweep fills the stacked Jacobian with one (forward) or two (central)
// evaluations per color class.
func (e *Engine) sweep(x []float64, method Method, workers int, vals []float64) error {
	e.sweeps.Add(1)
	rows := e.m + e.nt

	var base []float64
	if method == Forward {
		base = make([]float64, rows)
		if err := e.eval(x, base); err != nil {
			return err
		}
	}

	classes := e.stackCol.Classes
	errs := make([]error, len(classes))
	dynamo.ParallelFor(len(classes), workers, func(start, end int) {
		xp := slices.Clone(x)
		fp := make([]float64, rows)
		var fm []float64
		if method == Central {
			fm = make([]float64, rows)
		}
		h := make([]float64, e.n)

		for k := start; k < end; k++ {
			for _, j := range classes[k] {
				h[j] = e.step(x, j, method)
				xp[j] = x[j] + h[j]
			}
			if err := e.eval(xp, fp); err != nil {
				errs[k] = err
				restore(xp, x, classes[k])
				continue
			}
			if method == Central {
				for _, j := range classes[k] {
					xp[j] = x[j] - h[j]
				}
				if err := e.eval(xp, fm); err != nil {
					errs[k] = err
					restore(xp, x, classes[k])
					continue
				}
			}
			restore(xp, x, classes[k])

			for _, idx := range e.byColor[k] {
				r, c := e.stack.Rows[idx], e.stack.Cols[idx]
				if method == Central {
					vals[idx] = (fp[r] - fm[r]) / (2 * h[c])
				} else {
					vals[idx] = (fp[r] - base[r]) / h[c]
				}
			}
		}
	})

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func restore(xp, x []float64, cols []int) {
	for _, j := range cols {
		xp[j] = x[j]
	}
}
