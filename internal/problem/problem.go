// Package problem holds the continuous optimal control problem definition:
// dimensions and the bounds on times, states, controls, parameters and path
// constraints.
package problem

import (
	"fmt"
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Bounds is a closed interval. Infinite ends are allowed.
type Bounds struct {
	Lower float64 `yaml:"lower" json:"lower"`
	Upper float64 `yaml:"upper" json:"upper"`
}

// Free returns the unbounded interval.
func Free() Bounds { return Bounds{Lower: math.Inf(-1), Upper: math.Inf(1)} }

// Fixed returns the degenerate interval [v, v].
func Fixed(v float64) Bounds { return Bounds{Lower: v, Upper: v} }

// Range returns [lo, hi].
func Range(lo, hi float64) Bounds { return Bounds{Lower: lo, Upper: hi} }

func (b Bounds) IsFixed() bool { return b.Lower == b.Upper }

func (b Bounds) Contains(v float64) bool { return v >= b.Lower && v <= b.Upper }

// Intersect returns the tighter of b and o.
func (b Bounds) Intersect(o Bounds) Bounds {
	return Bounds{Lower: math.Max(b.Lower, o.Lower), Upper: math.Min(b.Upper, o.Upper)}
}

// Midpoint returns a finite representative of the interval, used for
// initial guesses.
func (b Bounds) Midpoint() float64 {
	lo, hi := b.Lower, b.Upper
	switch {
	case !math.IsInf(lo, 0) && !math.IsInf(hi, 0):
		return 0.5 * (lo + hi)
	case !math.IsInf(lo, 0):
		return math.Max(lo, 0)
	case !math.IsInf(hi, 0):
		return math.Min(hi, 0)
	default:
		return 0
	}
}

func (b Bounds) validate(field string) error {
	if math.IsNaN(b.Lower) || math.IsNaN(b.Upper) {
		return dynamo.Configf(field, "bound is NaN")
	}
	if b.Lower > b.Upper {
		return dynamo.Configf(field, "lower %g > upper %g", b.Lower, b.Upper)
	}
	return nil
}

// Problem is immutable once handed to a transcription engine.
type Problem struct {
	Name string

	NumStates   int
	NumControls int
	NumParams   int
	NumPath     int
	NumEndpoint int

	InitialTime Bounds
	FinalTime   Bounds

	StateBounds        []Bounds
	InitialStateBounds []Bounds
	FinalStateBounds   []Bounds
	ControlBounds      []Bounds
	ParamBounds        []Bounds
	PathBounds         []Bounds
	EndpointBounds     []Bounds

	// Periodic lists state indices constrained to x(tf) = x(t0).
	Periodic []int
}

// FromSystem sizes a problem from the oracle's dimensions with free bounds,
// t0 = 0 and tf = 1. Path and endpoint constraints default to equalities.
func FromSystem(name string, sys dynamo.System) *Problem {
	p := &Problem{
		Name:        name,
		NumStates:   sys.StateDim(),
		NumControls: sys.ControlDim(),
		NumParams:   dynamo.ParamDim(sys),
		NumPath:     dynamo.PathDim(sys),
		NumEndpoint: dynamo.EndpointDim(sys),
		InitialTime: Fixed(0),
		FinalTime:   Fixed(1),
	}
	p.StateBounds = repeat(Free(), p.NumStates)
	p.InitialStateBounds = repeat(Free(), p.NumStates)
	p.FinalStateBounds = repeat(Free(), p.NumStates)
	p.ControlBounds = repeat(Free(), p.NumControls)
	p.ParamBounds = repeat(Free(), p.NumParams)
	p.PathBounds = repeat(Fixed(0), p.NumPath)
	p.EndpointBounds = repeat(Fixed(0), p.NumEndpoint)
	return p
}

func repeat(b Bounds, n int) []Bounds {
	out := make([]Bounds, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// Clone returns a deep copy.
func (p *Problem) Clone() *Problem {
	c := *p
	c.StateBounds = append([]Bounds(nil), p.StateBounds...)
	c.InitialStateBounds = append([]Bounds(nil), p.InitialStateBounds...)
	c.FinalStateBounds = append([]Bounds(nil), p.FinalStateBounds...)
	c.ControlBounds = append([]Bounds(nil), p.ControlBounds...)
	c.ParamBounds = append([]Bounds(nil), p.ParamBounds...)
	c.PathBounds = append([]Bounds(nil), p.PathBounds...)
	c.EndpointBounds = append([]Bounds(nil), p.EndpointBounds...)
	c.Periodic = append([]int(nil), p.Periodic...)
	return &c
}

// Validate reports the first malformed field as a ConfigurationError.
func (p *Problem) Validate() error {
	if p.NumStates < 0 || p.NumControls < 0 || p.NumParams < 0 || p.NumPath < 0 || p.NumEndpoint < 0 {
		return dynamo.Configf("dimensions", "negative dimension (states=%d controls=%d params=%d path=%d endpoint=%d)",
			p.NumStates, p.NumControls, p.NumParams, p.NumPath, p.NumEndpoint)
	}

	lists := []struct {
		field string
		b     []Bounds
		n     int
	}{
		{"state_bounds", p.StateBounds, p.NumStates},
		{"initial_state_bounds", p.InitialStateBounds, p.NumStates},
		{"final_state_bounds", p.FinalStateBounds, p.NumStates},
		{"control_bounds", p.ControlBounds, p.NumControls},
		{"param_bounds", p.ParamBounds, p.NumParams},
		{"path_bounds", p.PathBounds, p.NumPath},
		{"endpoint_bounds", p.EndpointBounds, p.NumEndpoint},
	}
	for _, l := range lists {
		if len(l.b) != l.n {
			return dynamo.Configf(l.field, "have %d bounds, want %d", len(l.b), l.n)
		}
		for i, b := range l.b {
			if err := b.validate(fmt.Sprintf("%s[%d]", l.field, i)); err != nil {
				return err
			}
		}
	}

	if err := p.InitialTime.validate("initial_time"); err != nil {
		return err
	}
	if err := p.FinalTime.validate("final_time"); err != nil {
		return err
	}
	if p.InitialTime.Lower > p.FinalTime.Upper {
		return dynamo.Configf("final_time", "final time upper bound %g precedes initial time lower bound %g",
			p.FinalTime.Upper, p.InitialTime.Lower)
	}
	if p.InitialTime.IsFixed() && p.FinalTime.IsFixed() && p.FinalTime.Lower <= p.InitialTime.Lower {
		return dynamo.Configf("final_time", "fixed horizon [%g, %g] is empty", p.InitialTime.Lower, p.FinalTime.Lower)
	}

	for i := 0; i < p.NumStates; i++ {
		if err := p.StateBounds[i].Intersect(p.InitialStateBounds[i]).validate(fmt.Sprintf("initial_state_bounds[%d]", i)); err != nil {
			return err
		}
		if err := p.StateBounds[i].Intersect(p.FinalStateBounds[i]).validate(fmt.Sprintf("final_state_bounds[%d]", i)); err != nil {
			return err
		}
	}

	seen := make(map[int]bool, len(p.Periodic))
	for _, idx := range p.Periodic {
		if idx < 0 || idx >= p.NumStates {
			return dynamo.Configf("periodic", "state index %d out of range [0,%d)", idx, p.NumStates)
		}
		if seen[idx] {
			return dynamo.Configf("periodic", "state index %d listed twice", idx)
		}
		seen[idx] = true
	}
	return nil
}

// CheckSystem verifies that sys matches the problem's dimensions.
func (p *Problem) CheckSystem(sys dynamo.System) error {
	if sys == nil {
		return dynamo.Configf("system", "nil dynamics oracle")
	}
	switch {
	case sys.StateDim() != p.NumStates:
		return dynamo.Configf("system", "state dim %d, problem has %d", sys.StateDim(), p.NumStates)
	case sys.ControlDim() != p.NumControls:
		return dynamo.Configf("system", "control dim %d, problem has %d", sys.ControlDim(), p.NumControls)
	case dynamo.ParamDim(sys) != p.NumParams:
		return dynamo.Configf("system", "param dim %d, problem has %d", dynamo.ParamDim(sys), p.NumParams)
	case dynamo.PathDim(sys) != p.NumPath:
		return dynamo.Configf("system", "path constraint dim %d, problem has %d", dynamo.PathDim(sys), p.NumPath)
	case dynamo.EndpointDim(sys) != p.NumEndpoint:
		return dynamo.Configf("system", "endpoint constraint dim %d, problem has %d", dynamo.EndpointDim(sys), p.NumEndpoint)
	}
	return nil
}
