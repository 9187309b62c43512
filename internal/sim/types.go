// Package sim replays an optimized control history open loop through a
// time-stepping integrator and measures how far the simulated states drift
// from the collocated ones over the whole horizon.
package sim

import (
	"github.com/san-kum/trajopt/internal/dynamo"
)

// Metric matches metrics.Metric so trajectory metrics can be evaluated on
// the simulated run.
type Metric interface {
	Name() string
	Observe(t float64, x dynamo.State, u dynamo.Control)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(t float64, x dynamo.State, u dynamo.Control)
}

type Config struct {
	// Integrator names an integrators.New integrator. Empty selects rk4.
	Integrator string
	// Steps is the number of fixed steps over the horizon. Zero takes 20
	// per mesh interval.
	Steps int
	// Adaptive halves or doubles the step by step-doubling error control.
	Adaptive  bool
	Tolerance float64
	MinDt     float64
	MaxDt     float64
}

type Result struct {
	Times    []float64
	States   []dynamo.State
	Controls []dynamo.Control
	// Deviation holds max_i |x_i - x̄_i| / max(1, |x̄_i|) per sample, where
	// x̄ is the interpolated collocation state.
	Deviation      []float64
	MaxDeviation   float64
	FinalDeviation float64
	StepsTaken     int
	Metrics        map[string]float64
}
