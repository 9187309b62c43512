package derivative

import (
	"math"
	"slices"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Hessian writes the lower triangle of
//
//	∇²(σ·f + λᵀg)
//
// in HessianPattern order. The Lagrangian gradient is differenced with
// central colored sweeps; its Jacobian is then differenced over the
// Hessian coloring (forward, or central when the engine is Central) and
// symmetrized.
func (e *Engine) Hessian(x []float64, sigma float64, lambda, values []float64) error {
	w := make([]float64, e.m+e.nt)
	copy(w, lambda[:e.m])
	for i := e.m; i < len(w); i++ {
		w[i] = sigma
	}

	var base []float64
	if e.method == Forward {
		var err error
		base, err = e.lagrangianGradient(x, w)
		if err != nil {
			return err
		}
	}

	classes := e.hessCol.Classes
	diffs := make([][]float64, len(classes))
	steps := make([]float64, e.n)
	for j := range steps {
		scale := math.Max(1, math.Abs(x[j]))
		if e.method == Central {
			steps[j] = fourthEps * scale
		} else {
			steps[j] = cubeEps * scale
		}
	}

	errs := make([]error, len(classes))
	dynamo.ParallelFor(len(classes), e.workers, func(start, end int) {
		xp := slices.Clone(x)
		for k := start; k < end; k++ {
			for _, j := range classes[k] {
				xp[j] = x[j] + steps[j]
			}
			gp, err := e.lagrangianGradient(xp, w)
			if err != nil {
				errs[k] = err
				restore(xp, x, classes[k])
				continue
			}
			d := make([]float64, e.n)
			if e.method == Central {
				for _, j := range classes[k] {
					xp[j] = x[j] - steps[j]
				}
				gm, err := e.lagrangianGradient(xp, w)
				if err != nil {
					errs[k] = err
					restore(xp, x, classes[k])
					continue
				}
				for i := range d {
					d[i] = (gp[i] - gm[i]) / 2
				}
			} else {
				for i := range d {
					d[i] = gp[i] - base[i]
				}
			}
			restore(xp, x, classes[k])
			diffs[k] = d
		}
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	of := e.hessCol.Of
	for idx := range e.hess.Rows {
		r, c := e.hess.Rows[idx], e.hess.Cols[idx]
		hrc := diffs[of[c]][r] / steps[c]
		if r == c {
			values[idx] = hrc
			continue
		}
		hcr := diffs[of[r]][c] / steps[r]
		values[idx] = (hrc + hcr) / 2
	}
	return nil
}

// lagrangianGradient is Jᵀw for the stacked Jacobian J at x.
func (e *Engine) lagrangianGradient(x, w []float64) ([]float64, error) {
	vals := make([]float64, e.stack.Len())
	if err := e.sweep(x, Central, 1, vals); err != nil {
		return nil, err
	}
	g := make([]float64, e.n)
	for idx, v := range vals {
		g[e.stack.Cols[idx]] += w[e.stack.Rows[idx]] * v
	}
	return g, nil
}
