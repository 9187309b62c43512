// Package goal builds objective terms from weighted goals and attaches
// them to a dynamics oracle.
package goal

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"

	"gonum.org/v1/gonum/interp"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Goal is one weighted objective term. A goal contributes to the Lagrange
// term, the Mayer term, or both.
type Goal interface {
	Name() string
	check(nx, nu int) error
}

type integrand interface {
	integrand(t float64, x dynamo.State, u dynamo.Control) float64
}

type endpoint interface {
	endpoint(t0 float64, x0 dynamo.State, tf float64, xf dynamo.State) float64
}

func checkWeight(name string, w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return dynamo.Configf(name, "weight must be finite and non-negative, got %g", w)
	}
	return nil
}

func checkIndices(name string, idx []int, n int) error {
	for _, i := range idx {
		if i < 0 || i >= n {
			return dynamo.Configf(name, "index %d out of range [0, %d)", i, n)
		}
	}
	return nil
}

func indices(sel []int, n int) []int {
	if sel != nil {
		return sel
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	return all
}

// ControlEffort integrates Weight * Σ |u_j|^Exponent over the selected
// controls (all when Controls is nil). Exponent defaults to 2.
type ControlEffort struct {
	Weight   float64
	Exponent float64
	Controls []int
}

func (g *ControlEffort) Name() string { return "control_effort" }

func (g *ControlEffort) check(nx, nu int) error {
	if err := checkWeight(g.Name(), g.Weight); err != nil {
		return err
	}
	if g.Exponent < 0 || (g.Exponent > 0 && g.Exponent < 1) {
		return dynamo.Configf(g.Name(), "exponent must be at least 1, got %g", g.Exponent)
	}
	return checkIndices(g.Name(), g.Controls, nu)
}

func (g *ControlEffort) integrand(t float64, x dynamo.State, u dynamo.Control) float64 {
	exp := g.Exponent
	if exp == 0 {
		exp = 2
	}
	sum := 0.0
	for _, j := range indices(g.Controls, len(u)) {
		if exp == 2 {
			sum += u[j] * u[j]
			continue
		}
		sum += math.Pow(math.Abs(u[j]), exp)
	}
	return g.Weight * sum
}

// StateTracking integrates Weight * Σ w_i (x_i - r_i(t))^2 against
// piecewise linear references. The reference is held constant outside its
// time span.
type StateTracking struct {
	Weight float64
	// Times are the reference sample times, strictly increasing.
	Times []float64
	// Reference maps a state index to its samples at Times.
	Reference map[int][]float64
	// Weights overrides w_i for individual tracked states; others use 1.
	Weights map[int]float64
	// ScaleWithRange divides each w_i by the range (max - min) of its
	// reference, so flat references weigh more. Constant references keep
	// their weight.
	ScaleWithRange bool

	once    sync.Once
	err     error
	state   []int
	weights []float64
	refs    []interp.PiecewiseLinear
}

func (g *StateTracking) Name() string { return "state_tracking" }

func (g *StateTracking) fit() error {
	g.once.Do(func() {
		if len(g.Times) < 2 {
			g.err = dynamo.Configf(g.Name(), "need at least 2 reference times, have %d", len(g.Times))
			return
		}
		for k := 1; k < len(g.Times); k++ {
			if !(g.Times[k] > g.Times[k-1]) {
				g.err = dynamo.Configf(g.Name(), "times not strictly increasing at %d: %g after %g", k, g.Times[k], g.Times[k-1])
				return
			}
		}
		for _, i := range slices.Sorted(maps.Keys(g.Reference)) {
			ys := g.Reference[i]
			var pl interp.PiecewiseLinear
			if len(ys) != len(g.Times) {
				g.err = dynamo.Configf(g.Name(), "state %d has %d samples for %d times", i, len(ys), len(g.Times))
				return
			}
			if err := pl.Fit(g.Times, ys); err != nil {
				g.err = dynamo.Configf(g.Name(), "state %d: %v", i, err)
				return
			}
			w, ok := g.Weights[i]
			if !ok {
				w = 1
			}
			if g.ScaleWithRange {
				if span := slices.Max(ys) - slices.Min(ys); span > 0 {
					w /= span
				}
			}
			g.state = append(g.state, i)
			g.weights = append(g.weights, w)
			g.refs = append(g.refs, pl)
		}
	})
	return g.err
}

func (g *StateTracking) check(nx, nu int) error {
	if err := checkWeight(g.Name(), g.Weight); err != nil {
		return err
	}
	for i := range g.Reference {
		if i < 0 || i >= nx {
			return dynamo.Configf(g.Name(), "state index %d out of range [0, %d)", i, nx)
		}
	}
	for i, w := range g.Weights {
		if _, ok := g.Reference[i]; !ok {
			return dynamo.Configf(g.Name(), "weight for untracked state %d", i)
		}
		if err := checkWeight(g.Name(), w); err != nil {
			return err
		}
	}
	return g.fit()
}

// At returns the reference of state i at t.
func (g *StateTracking) At(i int, t float64) (float64, bool) {
	if g.fit() != nil {
		return 0, false
	}
	t = math.Max(g.Times[0], math.Min(t, g.Times[len(g.Times)-1]))
	for k, s := range g.state {
		if s == i {
			return g.refs[k].Predict(t), true
		}
	}
	return 0, false
}

func (g *StateTracking) integrand(t float64, x dynamo.State, u dynamo.Control) float64 {
	t = math.Max(g.Times[0], math.Min(t, g.Times[len(g.Times)-1]))
	sum := 0.0
	for k, i := range g.state {
		d := x[i] - g.refs[k].Predict(t)
		sum += g.weights[k] * d * d
	}
	return g.Weight * sum
}

// FinalTime adds Weight * tf.
type FinalTime struct {
	Weight float64
}

func (g *FinalTime) Name() string           { return "final_time" }
func (g *FinalTime) check(nx, nu int) error { return checkWeight(g.Name(), g.Weight) }
func (g *FinalTime) endpoint(t0 float64, x0 dynamo.State, tf float64, xf dynamo.State) float64 {
	return g.Weight * tf
}

// TerminalState adds Weight * Σ (xf_i - Target_i)^2. NaN targets are
// ignored.
type TerminalState struct {
	Weight float64
	Target []float64
}

func (g *TerminalState) Name() string { return "terminal_state" }

func (g *TerminalState) check(nx, nu int) error {
	if err := checkWeight(g.Name(), g.Weight); err != nil {
		return err
	}
	if len(g.Target) != nx {
		return dynamo.Configf(g.Name(), "target has %d entries, system has %d states", len(g.Target), nx)
	}
	return nil
}

func (g *TerminalState) endpoint(t0 float64, x0 dynamo.State, tf float64, xf dynamo.State) float64 {
	sum := 0.0
	for i, v := range g.Target {
		if math.IsNaN(v) {
			continue
		}
		d := xf[i] - v
		sum += d * d
	}
	return g.Weight * sum
}

// Composite is a System whose costs are the system's own costs plus the
// weighted sum of its goals. Constraints and parameters pass through.
type Composite struct {
	dynamo.System
	goals      []Goal
	integrands []integrand
	endpoints  []endpoint
}

// Compose validates goals against sys and attaches them.
func Compose(sys dynamo.System, goals ...Goal) (*Composite, error) {
	if sys == nil {
		return nil, dynamo.Configf("system", "nil system")
	}
	c := &Composite{System: sys, goals: goals}
	seen := make(map[string]bool)
	for _, g := range goals {
		if err := g.check(sys.StateDim(), sys.ControlDim()); err != nil {
			return nil, err
		}
		if seen[g.Name()] {
			return nil, dynamo.Configf("goals", "duplicate goal %q", g.Name())
		}
		seen[g.Name()] = true
		if in, ok := g.(integrand); ok {
			c.integrands = append(c.integrands, in)
		}
		if ep, ok := g.(endpoint); ok {
			c.endpoints = append(c.endpoints, ep)
		}
	}
	return c, nil
}

// Goals returns the attached goals.
func (c *Composite) Goals() []Goal { return c.goals }

func (c *Composite) IntegrandCost(t float64, x dynamo.State, u dynamo.Control, p dynamo.Params) (float64, error) {
	sum := 0.0
	if ic, ok := c.System.(dynamo.IntegrandCoster); ok {
		v, err := ic.IntegrandCost(t, x, u, p)
		if err != nil {
			return 0, err
		}
		sum = v
	}
	for _, g := range c.integrands {
		sum += g.integrand(t, x, u)
	}
	return sum, nil
}

func (c *Composite) EndpointCost(t0 float64, x0 dynamo.State, tf float64, xf dynamo.State, p dynamo.Params) (float64, error) {
	sum := 0.0
	if ec, ok := c.System.(dynamo.EndpointCoster); ok {
		v, err := ec.EndpointCost(t0, x0, tf, xf, p)
		if err != nil {
			return 0, err
		}
		sum = v
	}
	for _, g := range c.endpoints {
		sum += g.endpoint(t0, x0, tf, xf)
	}
	return sum, nil
}

func (c *Composite) ParamDim() int { return dynamo.ParamDim(c.System) }

func (c *Composite) PathConstraintDim() int { return dynamo.PathDim(c.System) }

func (c *Composite) PathConstraints(t float64, x dynamo.State, u dynamo.Control, p dynamo.Params) ([]float64, error) {
	pc, ok := c.System.(dynamo.PathConstrainer)
	if !ok {
		return nil, nil
	}
	return pc.PathConstraints(t, x, u, p)
}

func (c *Composite) EndpointConstraintDim() int { return dynamo.EndpointDim(c.System) }

func (c *Composite) EndpointConstraints(t0 float64, x0 dynamo.State, tf float64, xf dynamo.State, p dynamo.Params) ([]float64, error) {
	ec, ok := c.System.(dynamo.EndpointConstrainer)
	if !ok {
		return nil, nil
	}
	return ec.EndpointConstraints(t0, x0, tf, xf, p)
}

func (c *Composite) String() string {
	return fmt.Sprintf("%T with %d goals", c.System, len(c.goals))
}
