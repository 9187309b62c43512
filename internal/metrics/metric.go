// Package metrics holds solver telemetry and figures of merit computed
// from a solved trajectory.
package metrics

import (
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/reconstruct"
	"github.com/san-kum/trajopt/internal/transcription"
)

// Metric accumulates a figure of merit over trajectory samples.
type Metric interface {
	Name() string
	Observe(t float64, x dynamo.State, u dynamo.Control)
	Value() float64
	Reset()
}

// Defaults are the metrics reported after every solve.
func Defaults(sys dynamo.System) []Metric {
	return []Metric{
		NewControlEffort(),
		NewPeakControl(),
		NewEnergyGain(sys),
	}
}

// Evaluate feeds the mesh samples of tr through each metric.
func Evaluate(tr *reconstruct.Trajectory, ms ...Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		m.Reset()
		for k, t := range tr.Times {
			m.Observe(t, tr.States[k], tr.Controls[k])
		}
		out[m.Name()] = m.Value()
	}
	return out
}

// MaxDefect recomputes the collocation defects of tr with sys and returns
// the largest absolute entry.
func MaxDefect(tr *reconstruct.Trajectory, sys dynamo.System) (float64, error) {
	hermite := tr.Scheme == transcription.HermiteSimpson.String()
	worst := 0.0
	for k := 0; k+1 < tr.Len(); k++ {
		h := tr.Times[k+1] - tr.Times[k]
		xk, xk1 := tr.States[k], tr.States[k+1]
		fk, err := sys.Derive(tr.Times[k], xk, tr.Controls[k], tr.Params)
		if err != nil {
			return 0, err
		}
		fk1, err := sys.Derive(tr.Times[k+1], xk1, tr.Controls[k+1], tr.Params)
		if err != nil {
			return 0, err
		}

		var fc dynamo.State
		if hermite && k < len(tr.MidControls) {
			xc := transcription.MidState(xk, xk1, fk, fk1, h)
			fc, err = sys.Derive(tr.Times[k]+h/2, xc, tr.MidControls[k], tr.Params)
			if err != nil {
				return 0, err
			}
		}
		for i := range xk {
			var d float64
			if fc != nil {
				d = xk1[i] - xk[i] - h/6*(fk[i]+4*fc[i]+fk1[i])
			} else {
				d = xk1[i] - xk[i] - h/2*(fk[i]+fk1[i])
			}
			worst = math.Max(worst, math.Abs(d))
		}
	}
	return worst, nil
}
