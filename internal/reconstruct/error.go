package reconstruct

import (
	"fmt"
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
)

// ErrorOptions configures EstimateError. Zero values select RK4 with
// eight substeps per interval on GOMAXPROCS workers.
type ErrorOptions struct {
	Integrator string
	Substeps   int
	Workers    int
}

// EstimateError integrates the dynamics across every interval from x_k
// under the interpolated control and compares the end state with x_{k+1}:
//
//	e_k = max_i |x̂_i - x_{k+1,i}| / max(1, |x_{k+1,i}|)
func EstimateError(tr *Trajectory, sys dynamo.System, opts ErrorOptions) ([]float64, error) {
	if err := tr.fit(); err != nil {
		return nil, err
	}
	if _, err := integrators.New(opts.Integrator); err != nil {
		return nil, err
	}
	if opts.Substeps <= 0 {
		opts.Substeps = 8
	}

	f := func(t float64, x dynamo.State) (dynamo.State, error) {
		return sys.Derive(t, x, tr.controlAt(t), tr.Params)
	}

	intervals := tr.Len() - 1
	errs := make([]float64, intervals)
	fails := make([]error, intervals)
	dynamo.ParallelFor(intervals, opts.Workers, func(start, end int) {
		integ, _ := integrators.New(opts.Integrator)
		for k := start; k < end; k++ {
			xk1, err := integrators.Integrate(integ, f, tr.States[k].Clone(), tr.Times[k], tr.Times[k+1], opts.Substeps)
			if err != nil {
				fails[k] = fmt.Errorf("reconstruct: interval %d: %w", k, err)
				continue
			}
			var e float64
			for i, v := range tr.States[k+1] {
				e = math.Max(e, math.Abs(xk1[i]-v)/math.Max(1, math.Abs(v)))
			}
			errs[k] = e
		}
	})
	for _, err := range fails {
		if err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func (tr *Trajectory) controlAt(t float64) dynamo.Control {
	t = math.Max(tr.Times[0], math.Min(t, tr.Times[tr.Len()-1]))
	u := make(dynamo.Control, len(tr.ctrls))
	for j := range tr.ctrls {
		u[j] = tr.ctrls[j].Predict(t)
	}
	return u
}

// MaxError is the largest entry of errs, or zero when errs is empty.
func MaxError(errs []float64) float64 {
	var m float64
	for _, e := range errs {
		m = math.Max(m, e)
	}
	return m
}
