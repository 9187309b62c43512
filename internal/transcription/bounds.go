package transcription

import (
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/problem"
)

// VariableBounds fills xl and xu. Initial and final state bounds tighten the
// state bounds at the first and last mesh points.
func (e *Engine) VariableBounds(xl, xu []float64) {
	set := func(i int, b problem.Bounds) { xl[i], xu[i] = b.Lower, b.Upper }

	set(initialTimeIndex, e.prob.InitialTime)
	set(finalTimeIndex, e.prob.FinalTime)
	for i := 0; i < e.np; i++ {
		set(paramOffset+i, e.prob.ParamBounds[i])
	}

	last := e.mesh.Len() - 1
	for k := 0; k <= last; k++ {
		for i := 0; i < e.nx; i++ {
			set(e.StateIndex(k, i), e.stateBounds(k, i))
		}
		for j := 0; j < e.nu; j++ {
			set(e.ControlIndex(k, j), e.prob.ControlBounds[j])
			if e.scheme == HermiteSimpson && k < last {
				set(e.MidControlIndex(k, j), e.prob.ControlBounds[j])
			}
		}
	}
}

func (e *Engine) stateBounds(k, i int) problem.Bounds {
	b := e.prob.StateBounds[i]
	if k == 0 {
		b = b.Intersect(e.prob.InitialStateBounds[i])
	}
	if k == e.mesh.Len()-1 {
		b = b.Intersect(e.prob.FinalStateBounds[i])
	}
	return b
}

// ConstraintBounds fills gl and gu. Defect and periodicity rows are
// equalities [0, 0].
func (e *Engine) ConstraintBounds(gl, gu []float64) {
	for _, b := range e.blocks {
		for r := b.Start; r < b.End; r++ {
			var bd problem.Bounds
			switch b.Kind {
			case PathBlock:
				bd = e.prob.PathBounds[r-b.Start]
			case EndpointBlock:
				bd = e.prob.EndpointBounds[r-b.Start]
			default:
				bd = problem.Fixed(0)
			}
			gl[r], gu[r] = bd.Lower, bd.Upper
		}
	}
}

// Guess builds a starting point: times and parameters at the middle of
// their bounds, states linearly interpolated between the initial and final
// bound midpoints, and controls at the middle of their bounds.
func (e *Engine) Guess() []float64 {
	t0 := e.prob.InitialTime.Midpoint()
	tf := e.prob.FinalTime.Midpoint()
	if tf <= t0 {
		tf = math.Min(t0+1, e.prob.FinalTime.Upper)
		if tf <= t0 {
			tf = t0 + 1
		}
	}

	p := make([]float64, e.np)
	for i := range p {
		p[i] = e.prob.ParamBounds[i].Midpoint()
	}

	last := e.mesh.Len() - 1
	x0 := make(dynamo.State, e.nx)
	xf := make(dynamo.State, e.nx)
	for i := 0; i < e.nx; i++ {
		x0[i] = e.stateBounds(0, i).Midpoint()
		xf[i] = e.stateBounds(last, i).Midpoint()
	}
	u := make(dynamo.Control, e.nu)
	for j := range u {
		u[j] = e.prob.ControlBounds[j].Midpoint()
	}

	return e.Pack(t0, tf, p, func(t float64) (dynamo.State, dynamo.Control) {
		s := (t - t0) / (tf - t0)
		x := make(dynamo.State, e.nx)
		for i := range x {
			x[i] = x0[i] + s*(xf[i]-x0[i])
		}
		return x, u
	})
}

// Pack lays out a trajectory sampled at the mesh times (and interval
// midpoints for midpoint controls) as an NLP variable vector.
func (e *Engine) Pack(t0, tf float64, p []float64, sample func(t float64) (dynamo.State, dynamo.Control)) []float64 {
	x := make([]float64, e.nVars)
	x[initialTimeIndex], x[finalTimeIndex] = t0, tf
	copy(x[paramOffset:paramOffset+e.np], p)

	last := e.mesh.Len() - 1
	for k := 0; k <= last; k++ {
		t := t0 + (tf-t0)*e.mesh.At(k)
		xs, us := sample(t)
		copy(x[e.StateIndex(k, 0):e.StateIndex(k, 0)+e.nx], xs)
		copy(x[e.ControlIndex(k, 0):e.ControlIndex(k, 0)+e.nu], us)
		if e.scheme == HermiteSimpson && k < last {
			tc := t0 + (tf-t0)*0.5*(e.mesh.At(k)+e.mesh.At(k+1))
			_, uc := sample(tc)
			copy(x[e.MidControlIndex(k, 0):e.MidControlIndex(k, 0)+e.nu], uc)
		}
	}
	return x
}
