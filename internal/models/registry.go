package models

import (
	"maps"
	"math"
	"slices"
	"sort"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/goal"
	"github.com/san-kum/trajopt/internal/problem"
)

// Tunable models expose named physical parameters.
type Tunable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}

func errUnknownParam(name string) error {
	return dynamo.Configf("params", "unknown param: %s", name)
}

// Definition is a ready-to-solve problem: the system with its goals
// attached and the problem bounds.
type Definition struct {
	Name        string
	Description string
	System      dynamo.System
	Problem     *problem.Problem
}

type entry struct {
	description string
	// duration is the default final time, overridable with "duration".
	duration float64
	build    func() (dynamo.System, Tunable, func(*problem.Problem))
}

type Registry struct {
	problems map[string]entry
}

func NewRegistry() *Registry {
	r := &Registry{problems: make(map[string]entry)}

	r.problems["integrator"] = entry{
		description: "minimum effort transfer of x' = u from 0 to 1",
		duration:    1,
		build: func() (dynamo.System, Tunable, func(*problem.Problem)) {
			return Integrator1D{}, nil, func(p *problem.Problem) {
				p.InitialStateBounds[0] = problem.Fixed(0)
				p.FinalStateBounds[0] = problem.Fixed(1)
			}
		},
	}
	r.problems["double_integrator"] = entry{
		description: "rest-to-rest minimum effort move of a point mass",
		duration:    1,
		build: func() (dynamo.System, Tunable, func(*problem.Problem)) {
			return DoubleIntegrator{}, nil, func(p *problem.Problem) {
				restToRest(p, []float64{0, 0}, []float64{1, 0})
			}
		},
	}
	r.problems["bounded"] = entry{
		description: "x' = u with dynamics undefined outside [-limit, limit]",
		duration:    1,
		build: func() (dynamo.System, Tunable, func(*problem.Problem)) {
			b := NewBoundedIntegrator()
			return b, b, func(p *problem.Problem) {
				p.InitialStateBounds[0] = problem.Fixed(0)
				p.FinalStateBounds[0] = problem.Fixed(0.9)
			}
		},
	}
	r.problems["pendulum"] = entry{
		description: "torque-limited pendulum swing-up",
		duration:    2,
		build: func() (dynamo.System, Tunable, func(*problem.Problem)) {
			pend := NewPendulum()
			return pend, pend, func(p *problem.Problem) {
				restToRest(p, []float64{0, 0}, []float64{math.Pi, 0})
				p.ControlBounds[0] = problem.Range(-20, 20)
			}
		},
	}
	r.problems["cartpole"] = entry{
		description: "cart-pole swing-up from hanging to upright",
		duration:    2,
		build: func() (dynamo.System, Tunable, func(*problem.Problem)) {
			cp := NewCartPole()
			return cp, cp, func(p *problem.Problem) {
				restToRest(p, []float64{0, 0, math.Pi, 0}, []float64{0, 0, 0, 0})
				p.StateBounds[0] = problem.Range(-2, 2)
				p.ControlBounds[0] = problem.Range(-30, 30)
			}
		},
	}
	r.problems["double_pendulum"] = entry{
		description: "double pendulum swing-up driven at the shoulder",
		duration:    3,
		build: func() (dynamo.System, Tunable, func(*problem.Problem)) {
			dp := NewDoublePendulum()
			return dp, dp, func(p *problem.Problem) {
				restToRest(p, []float64{0, 0, 0, 0}, []float64{math.Pi, math.Pi, 0, 0})
				p.ControlBounds[0] = problem.Range(-40, 40)
			}
		},
	}

	return r
}

func restToRest(p *problem.Problem, from, to []float64) {
	for i := range from {
		p.InitialStateBounds[i] = problem.Fixed(from[i])
		p.FinalStateBounds[i] = problem.Fixed(to[i])
	}
}

// Get builds the named problem. params override model parameters by name;
// "duration" sets the final time and "effort" the control effort weight
// (default 1).
func (r *Registry) Get(name string, params map[string]float64) (*Definition, error) {
	e, ok := r.problems[name]
	if !ok {
		return nil, dynamo.Configf("problem", "unknown problem: %s", name)
	}

	duration, effort := e.duration, 1.0
	sys, tun, shape := e.build()
	for _, k := range slices.Sorted(maps.Keys(params)) {
		v := params[k]
		switch {
		case k == "duration":
			if !(v > 0) {
				return nil, dynamo.Configf("duration", "must be positive, got %g", v)
			}
			duration = v
		case k == "effort":
			effort = v
		case tun != nil:
			if err := tun.SetParam(k, v); err != nil {
				return nil, err
			}
		default:
			return nil, errUnknownParam(k)
		}
	}

	composed, err := goal.Compose(sys, &goal.ControlEffort{Weight: effort})
	if err != nil {
		return nil, err
	}
	prob := problem.FromSystem(name, composed)
	prob.FinalTime = problem.Fixed(duration)
	shape(prob)
	return &Definition{
		Name:        name,
		Description: e.description,
		System:      composed,
		Problem:     prob,
	}, nil
}

// Params lists the tunable model parameters of a problem with their
// defaults.
func (r *Registry) Params(name string) (map[string]float64, error) {
	e, ok := r.problems[name]
	if !ok {
		return nil, dynamo.Configf("problem", "unknown problem: %s", name)
	}
	out := map[string]float64{"duration": e.duration, "effort": 1}
	if _, tun, _ := e.build(); tun != nil {
		for k, v := range tun.GetParams() {
			out[k] = v
		}
	}
	return out, nil
}

func (r *Registry) Describe(name string) string {
	return r.problems[name].description
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.problems))
	for name := range r.problems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
