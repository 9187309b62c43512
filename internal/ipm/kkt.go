package ipm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/lapack/lapack64"
	"gonum.org/v1/gonum/mat"
)

// residual is c(y): g - gl on equality rows, g - s on slack rows.
func (r *run) residual(g, y, c []float64) {
	for i := range c {
		if k := r.slack[i]; k >= 0 {
			c[i] = g[i] - y[k]
		} else {
			c[i] = g[i] - r.gl[i]
		}
	}
}

// jacobianT is Jᵀv over the full x.
func (r *run) jacobianT(jac, v []float64) []float64 {
	out := make([]float64, r.n)
	for e, row := range r.jrows {
		out[r.jcols[e]] += jac[e] * v[row]
	}
	return out
}

// gradientY is ∇f + Aᵀλ over y, where A includes the -1 slack columns.
func (r *run) gradientY(lam []float64) (gy, aty []float64) {
	gy = make([]float64, r.ny)
	aty = make([]float64, r.ny)
	for k, j := range r.free {
		gy[k] = r.grad[j]
	}
	for e, row := range r.jrows {
		if k := r.pos[r.jcols[e]]; k >= 0 {
			aty[k] += r.jac[e] * lam[row]
		}
	}
	for i, k := range r.slack {
		if k >= 0 {
			aty[k] -= lam[i]
		}
	}
	return gy, aty
}

func (r *run) barrier(f float64, y []float64) float64 {
	phi := f
	for k, v := range y {
		if hasLower(r.lo[k]) {
			phi -= r.mu * math.Log(v-r.lo[k])
		}
		if hasUpper(r.hi[k]) {
			phi -= r.mu * math.Log(r.hi[k]-v)
		}
	}
	return phi
}

// kktError is the scaled optimality error of the barrier problem for mu,
// with the unscaled primal and dual infeasibilities.
func (r *run) kktError(mu float64) (total, infPr, infDu float64) {
	gy, aty := r.gradientY(r.lam)
	for k := range r.ny {
		infDu = math.Max(infDu, math.Abs(gy[k]+aty[k]-r.zl[k]+r.zu[k]))
	}

	c := make([]float64, r.m)
	r.residual(r.g, r.y, c)
	if r.m > 0 {
		infPr = floats.Norm(c, math.Inf(1))
	}

	var comp float64
	for k, v := range r.y {
		if hasLower(r.lo[k]) {
			comp = math.Max(comp, math.Abs((v-r.lo[k])*r.zl[k]-mu))
		}
		if hasUpper(r.hi[k]) {
			comp = math.Max(comp, math.Abs((r.hi[k]-v)*r.zu[k]-mu))
		}
	}

	zsum := floats.Norm(r.zl, 1) + floats.Norm(r.zu, 1)
	sd := math.Max(sMax, (floats.Norm(r.lam, 1)+zsum)/float64(r.m+r.ny)) / sMax
	sc := math.Max(sMax, zsum/float64(r.ny)) / sMax
	total = math.Max(infDu/sd, math.Max(infPr, comp/sc))
	return total, infPr, infDu
}

type step struct {
	dy, lam  []float64
	dzl, dzu []float64
	grad     []float64 // barrier gradient at the current point
	c        []float64
	reg      float64
}

func (r *run) growReg(reg float64) float64 {
	if reg > 0 {
		return reg * regGrow
	}
	if r.reg > 0 {
		return math.Max(regFirst, r.reg/3)
	}
	return regFirst
}

// newton solves
//
//	[ W + Σ + δw·I   Aᵀ     ] [ dy ]     [ ∇φ ]
//	[ A             -δc·I   ] [ λ⁺ ] = - [ c  ]
//
// raising δw until the step has non-negative curvature and δc when the
// matrix is singular.
func (r *run) newton() (*step, error) {
	ny, m := r.ny, r.m
	W := mat.NewDense(ny, ny, nil)
	for e := range r.hrows {
		a, b := r.pos[r.hrows[e]], r.pos[r.hcols[e]]
		if a < 0 || b < 0 {
			continue
		}
		W.Set(a, b, W.At(a, b)+r.hess[e])
		if a != b {
			W.Set(b, a, W.At(b, a)+r.hess[e])
		}
	}

	sigma := make([]float64, ny)
	phiGrad, _ := r.gradientY(r.lam)
	for k, v := range r.y {
		if hasLower(r.lo[k]) {
			d := v - r.lo[k]
			sigma[k] += r.zl[k] / d
			phiGrad[k] -= r.mu / d
		}
		if hasUpper(r.hi[k]) {
			d := r.hi[k] - v
			sigma[k] += r.zu[k] / d
			phiGrad[k] += r.mu / d
		}
	}

	c := make([]float64, m)
	r.residual(r.g, r.y, c)

	var A *mat.Dense
	if m > 0 {
		A = mat.NewDense(m, ny, nil)
		for e, row := range r.jrows {
			if k := r.pos[r.jcols[e]]; k >= 0 {
				A.Set(row, k, A.At(row, k)+r.jac[e])
			}
		}
		for i, k := range r.slack {
			if k >= 0 {
				A.Set(i, k, -1)
			}
		}
	}

	rhs := make([]float64, ny+m)
	for k := range phiGrad {
		rhs[k] = -phiGrad[k]
	}
	for i := range c {
		rhs[ny+i] = -c[i]
	}

	var regW, regC float64
	for {
		if regW > regMax {
			return nil, fmt.Errorf("%w: regularization exceeded %g", errKKT, regMax)
		}

		H := mat.NewDense(ny, ny, nil)
		H.Copy(W)
		for k := range ny {
			H.Set(k, k, H.At(k, k)+sigma[k]+regW)
		}
		K := mat.NewDense(ny+m, ny+m, nil)
		K.Slice(0, ny, 0, ny).(*mat.Dense).Copy(H)
		if m > 0 {
			K.Slice(ny, ny+m, 0, ny).(*mat.Dense).Copy(A)
			K.Slice(0, ny, ny, ny+m).(*mat.Dense).Copy(A.T())
			for i := range m {
				K.Set(ny+i, ny+i, -regC)
			}
		}

		sol, ok := solveDense(K, rhs)
		if !ok {
			r.log.Debug("singular newton system", "iter", r.iter, "reg_w", regW, "reg_c", regC)
			if regC == 0 && m > 0 {
				regC = regJac * math.Pow(r.mu, 0.25)
			}
			regW = r.growReg(regW)
			continue
		}

		dy := mat.NewVecDense(ny, sol[:ny])
		if curv := mat.Inner(dy, H, dy); curv < 0 {
			r.log.Debug("negative curvature", "iter", r.iter, "curvature", curv, "reg_w", regW)
			regW = r.growReg(regW)
			continue
		}

		if regW > 0 {
			r.reg = regW
		}
		st := &step{
			dy:   sol[:ny],
			lam:  sol[ny:],
			dzl:  make([]float64, ny),
			dzu:  make([]float64, ny),
			grad: phiGrad,
			c:    c,
			reg:  regW,
		}
		for k, v := range r.y {
			if hasLower(r.lo[k]) {
				d := v - r.lo[k]
				st.dzl[k] = r.mu/d - r.zl[k] - r.zl[k]/d*st.dy[k]
			}
			if hasUpper(r.hi[k]) {
				d := r.hi[k] - v
				st.dzu[k] = r.mu/d - r.zu[k] + r.zu[k]/d*st.dy[k]
			}
		}
		return st, nil
	}
}

// solveDense factors K in place with partial pivoting and solves for rhs.
// A zero or negligible pivot reports the matrix as singular.
func solveDense(K *mat.Dense, rhs []float64) ([]float64, bool) {
	raw := K.RawMatrix()
	ipiv := make([]int, raw.Rows)
	if !lapack64.Getrf(raw, ipiv) {
		return nil, false
	}

	var lo, hi float64 = math.Inf(1), 0
	for i := range raw.Rows {
		d := math.Abs(raw.Data[i*raw.Stride+i])
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	if !(lo > pivotFrac*hi) {
		return nil, false
	}

	out := make([]float64, len(rhs))
	copy(out, rhs)
	b := blas64.General{Rows: len(out), Cols: 1, Stride: 1, Data: out}
	lapack64.Getrs(blas.NoTrans, raw, b, ipiv)
	for _, v := range out {
		if !isFinite(v) {
			return nil, false
		}
	}
	return out, true
}

// fractionToBoundary is the largest α ≤ 1 keeping v + α·dv at least a
// fraction 1-τ of its distance to each bound.
func fractionToBoundary(v, dv, lo, hi []float64, tau float64) float64 {
	alpha := 1.0
	for k := range v {
		if dv[k] < 0 && hasLower(lo[k]) {
			alpha = math.Min(alpha, -tau*(v[k]-lo[k])/dv[k])
		}
		if dv[k] > 0 && hasUpper(hi[k]) {
			alpha = math.Min(alpha, tau*(hi[k]-v[k])/dv[k])
		}
	}
	return alpha
}

func dualStep(z, dz []float64, tau float64) float64 {
	alpha := 1.0
	for k := range z {
		if z[k] > 0 && dz[k] < 0 {
			alpha = math.Min(alpha, -tau*z[k]/dz[k])
		}
	}
	return alpha
}

// lineSearch backtracks from the fraction-to-boundary step on
// φ(y) + ν‖c(y)‖₁ and moves to the accepted point.
func (r *run) lineSearch(st *step) (float64, bool) {
	r.nu = math.Max(r.nu, floats.Norm(st.lam, math.Inf(1))+1)
	cNorm := floats.Norm(st.c, 1)
	slope := math.Min(0, floats.Dot(st.grad, st.dy)-r.nu*cNorm)
	merit := r.barrier(r.f, r.y) + r.nu*cNorm
	slack := 1e-12 * math.Max(1, math.Abs(merit))

	alpha := fractionToBoundary(r.y, st.dy, r.lo, r.hi, r.tau)
	alphaZ := math.Min(dualStep(r.zl, st.dzl, r.tau), dualStep(r.zu, st.dzu, r.tau))

	yt := make([]float64, r.ny)
	xt := make([]float64, r.n)
	gt := make([]float64, r.m)
	ct := make([]float64, r.m)
	gradT := make([]float64, r.n)
	jacT := make([]float64, len(r.jac))

	for ; alpha >= minStep; alpha /= 2 {
		for k := range yt {
			yt[k] = r.y[k] + alpha*st.dy[k]
		}
		copy(xt, r.x)
		for k, j := range r.free {
			xt[j] = yt[k]
		}

		ft, err := r.cb.EvalObjective(xt)
		if err == nil && !isFinite(ft) {
			err = fmt.Errorf("objective is %v", ft)
		}
		if err == nil {
			err = r.cb.EvalConstraints(xt, gt)
		}
		if err != nil {
			r.reject(alpha, err)
			continue
		}

		r.residual(gt, yt, ct)
		mt := r.barrier(ft, yt) + r.nu*floats.Norm(ct, 1)
		if !(mt <= merit+armijo*alpha*slope+slack) {
			continue
		}

		if err := r.cb.EvalObjectiveGradient(xt, gradT); err != nil {
			r.reject(alpha, err)
			continue
		}
		if err := r.cb.EvalConstraintsJacobian(xt, jacT); err != nil {
			r.reject(alpha, err)
			continue
		}

		copy(r.y, yt)
		copy(r.x, xt)
		copy(r.g, gt)
		copy(r.grad, gradT)
		copy(r.jac, jacT)
		r.f = ft
		for i := range r.lam {
			r.lam[i] += alpha * (st.lam[i] - r.lam[i])
		}
		r.updateDuals(st, alphaZ)
		return alpha, true
	}
	r.log.Warn("line search failed", "iter", r.iter, "rejections", r.rejections)
	return 0, false
}

func (r *run) reject(alpha float64, err error) {
	r.rejections++
	r.log.Debug("trial point rejected", "iter", r.iter, "alpha", alpha, "err", err)
}

// updateDuals takes the dual step and keeps each bound multiplier within a
// factor kappaSigma of μ divided by its slack.
func (r *run) updateDuals(st *step, alpha float64) {
	for k, v := range r.y {
		if hasLower(r.lo[k]) {
			d := v - r.lo[k]
			z := r.zl[k] + alpha*st.dzl[k]
			r.zl[k] = math.Max(math.Min(z, kappaSigma*r.mu/d), r.mu/(kappaSigma*d))
		}
		if hasUpper(r.hi[k]) {
			d := r.hi[k] - v
			z := r.zu[k] + alpha*st.dzu[k]
			r.zu[k] = math.Max(math.Min(z, kappaSigma*r.mu/d), r.mu/(kappaSigma*d))
		}
	}
}
