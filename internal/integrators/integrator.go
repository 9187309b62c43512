package integrators

import (
	"fmt"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Func is a time-varying vector field with any control already applied.
type Func func(t float64, x dynamo.State) (dynamo.State, error)

type Integrator interface {
	Step(f Func, x dynamo.State, t, dt float64) (dynamo.State, error)
}

// Integrate advances x from t0 to t1 in equal steps of integ.
func Integrate(integ Integrator, f Func, x dynamo.State, t0, t1 float64, steps int) (dynamo.State, error) {
	if steps < 1 {
		steps = 1
	}
	dt := (t1 - t0) / float64(steps)
	var err error
	for i := 0; i < steps; i++ {
		x, err = integ.Step(f, x, t0+float64(i)*dt, dt)
		if err != nil {
			return nil, err
		}
	}
	return x, nil
}

// New returns the integrator registered under name.
func New(name string) (Integrator, error) {
	switch name {
	case "euler":
		return NewEuler(), nil
	case "", "rk4":
		return NewRK4(), nil
	case "rk45":
		return NewRK45(), nil
	}
	return nil, dynamo.Configf("integrator", "unknown integrator %q", name)
}

func derive(f Func, t float64, x dynamo.State) (dynamo.State, error) {
	dx, err := f(t, x)
	if err != nil {
		return nil, err
	}
	if len(dx) != len(x) {
		return nil, fmt.Errorf("%w: derivative has %d entries, want %d", dynamo.ErrDimensionMismatch, len(dx), len(x))
	}
	if !dx.IsValid() {
		return nil, fmt.Errorf("derivative at t=%g: %w", t, dynamo.ErrInvalidState)
	}
	return dx, nil
}
