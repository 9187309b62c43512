package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/reconstruct"
)

type Simulator struct {
	sys       dynamo.System
	metrics   []Metric
	observers []Observer
}

func New(sys dynamo.System) *Simulator {
	return &Simulator{
		sys:       sys,
		metrics:   make([]Metric, 0),
		observers: make([]Observer, 0),
	}
}

func (s *Simulator) AddMetric(m Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer) { s.observers = append(s.observers, o) }

// Run starts from the first collocated state and integrates the
// interpolated control of tr to the final time. A partial result is
// returned with the error when the dynamics fail mid-horizon.
func (s *Simulator) Run(ctx context.Context, tr *reconstruct.Trajectory, cfg Config) (*Result, error) {
	if err := s.validate(tr, cfg); err != nil {
		return nil, err
	}
	integ, err := integrators.New(cfg.Integrator)
	if err != nil {
		return nil, err
	}

	steps := cfg.Steps
	if steps == 0 {
		steps = 20 * (tr.Len() - 1)
	}
	t0, tf := tr.InitialTime, tr.FinalTime
	dt := (tf - t0) / float64(steps)
	if cfg.Adaptive {
		if cfg.MinDt <= 0 {
			cfg.MinDt = dt * 1e-4
		}
		if cfg.MaxDt <= 0 {
			cfg.MaxDt = tf - t0
		}
	}

	result := &Result{
		States:   make([]dynamo.State, 0, steps+1),
		Controls: make([]dynamo.Control, 0, steps+1),
		Times:    make([]float64, 0, steps+1),
		Metrics:  make(map[string]float64),
	}
	for _, m := range s.metrics {
		m.Reset()
	}

	x := tr.States[0].Clone()
	t := t0
	eps := 1e-12 * math.Max(1, math.Abs(tf))
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		xc, u := tr.Interpolate(t)
		s.record(result, t, x, u, xc)
		if t >= tf-eps {
			break
		}

		f := func(tt float64, xx dynamo.State) (dynamo.State, error) {
			_, uu := tr.Interpolate(tt)
			return s.sys.Derive(tt, xx, uu, tr.Params)
		}
		h := math.Min(dt, tf-t)
		var next dynamo.State
		if cfg.Adaptive {
			next, h, dt, err = adaptiveStep(integ, f, x, t, h, cfg)
		} else {
			next, err = integ.Step(f, x, t, h)
		}
		if err != nil {
			return result, fmt.Errorf("sim: t=%g: %w", t, err)
		}
		if !next.IsValid() {
			return result, fmt.Errorf("sim: t=%g: %w", t, dynamo.ErrInvalidState)
		}

		x = next
		t += h
		if tf-t < eps {
			t = tf
		}
		result.StepsTaken++
	}

	result.FinalDeviation = result.Deviation[len(result.Deviation)-1]
	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
	return result, nil
}

func (s *Simulator) record(r *Result, t float64, x dynamo.State, u dynamo.Control, xc dynamo.State) {
	for _, m := range s.metrics {
		m.Observe(t, x, u)
	}
	for _, obs := range s.observers {
		obs.OnStep(t, x, u)
	}

	d := 0.0
	for i := range x {
		d = math.Max(d, math.Abs(x[i]-xc[i])/math.Max(1, math.Abs(xc[i])))
	}
	r.Times = append(r.Times, t)
	r.States = append(r.States, x.Clone())
	r.Controls = append(r.Controls, u)
	r.Deviation = append(r.Deviation, d)
	r.MaxDeviation = math.Max(r.MaxDeviation, d)
}

func (s *Simulator) validate(tr *reconstruct.Trajectory, cfg Config) error {
	if tr == nil || tr.Len() < 2 {
		return dynamo.Configf("trajectory", "need at least 2 samples")
	}
	if len(tr.States[0]) != s.sys.StateDim() {
		return fmt.Errorf("%w: trajectory has %d states, system %d", dynamo.ErrDimensionMismatch, len(tr.States[0]), s.sys.StateDim())
	}
	if !(tr.FinalTime > tr.InitialTime) {
		return dynamo.Configf("trajectory", "empty horizon [%g, %g]", tr.InitialTime, tr.FinalTime)
	}
	if _, _, err := tr.Resample([]float64{tr.InitialTime}); err != nil {
		return err
	}
	if cfg.Steps < 0 {
		return dynamo.Configf("steps", "must not be negative, got %d", cfg.Steps)
	}
	if cfg.Adaptive && cfg.Tolerance <= 0 {
		return dynamo.Configf("tolerance", "must be positive for adaptive stepping")
	}
	return nil
}

// adaptiveStep compares one step of dt with two half steps. It returns
// the accepted state, the step actually taken and the proposed next step.
func adaptiveStep(integ integrators.Integrator, f integrators.Func, x dynamo.State, t, dt float64, cfg Config) (dynamo.State, float64, float64, error) {
	for {
		x1, err := integ.Step(f, x, t, dt)
		if err != nil {
			return nil, dt, dt, err
		}
		xHalf, err := integ.Step(f, x, t, dt/2)
		if err != nil {
			return nil, dt, dt, err
		}
		x2, err := integ.Step(f, xHalf, t+dt/2, dt/2)
		if err != nil {
			return nil, dt, dt, err
		}

		e := x1.Sub(x2).Norm()
		if e > cfg.Tolerance && dt/2 >= cfg.MinDt {
			dt /= 2
			continue
		}
		next := dt
		if e < cfg.Tolerance/10 {
			next = math.Min(dt*2, cfg.MaxDt)
		}
		return x2, dt, next, nil
	}
}
