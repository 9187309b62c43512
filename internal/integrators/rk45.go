package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

type RK45 struct {
	safety   float64
	minScale float64
	maxScale float64
	maxSteps int
}

func NewRK45() *RK45 {
	return &RK45{
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
		maxSteps: 100000,
	}
}

func (r *RK45) Step(f Func, x dynamo.State, t, dt float64) (dynamo.State, error) {
	newX, _, err := r.StepAdaptive(f, x, t, dt, 1e-6)
	return newX, err
}

// StepAdaptive takes one step of dt and proposes the next step size.
func (r *RK45) StepAdaptive(f Func, x dynamo.State, t, dt, tol float64) (dynamo.State, float64, error) {
	xNew, errRatio, err := r.attempt(f, x, t, dt, tol)
	if err != nil {
		return nil, dt, err
	}
	return xNew, r.nextStep(dt, errRatio), nil
}

// IntegrateAdaptive advances x from t0 to t1, rejecting steps whose error
// estimate exceeds tol.
func (r *RK45) IntegrateAdaptive(f Func, x dynamo.State, t0, t1, tol float64) (dynamo.State, error) {
	t := t0
	dt := (t1 - t0) / 10
	for steps := 0; t < t1; steps++ {
		if steps >= r.maxSteps {
			return nil, fmt.Errorf("rk45: no convergence after %d steps at t=%g", steps, t)
		}
		last := t+dt >= t1
		if last {
			dt = t1 - t
		}
		xNew, errRatio, err := r.attempt(f, x, t, dt, tol)
		if err != nil {
			return nil, err
		}
		if errRatio <= 1 {
			x = xNew
			if last {
				t = t1
			} else {
				t += dt
			}
		}
		dt = r.nextStep(dt, errRatio)
	}
	return x, nil
}

func (r *RK45) nextStep(dt, errRatio float64) float64 {
	if errRatio > 1 {
		return dt * math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
	}
	if errRatio > 0 {
		return dt * math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2))
	}
	return dt * r.maxScale
}

func (r *RK45) attempt(f Func, x dynamo.State, t, dt, tol float64) (dynamo.State, float64, error) {
	n := len(x)

	k1, err := derive(f, t, x)
	if err != nil {
		return nil, 0, err
	}

	x2 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x2[i] = x[i] + dt*b21*k1[i]
	}
	k2, err := derive(f, t+a2*dt, x2)
	if err != nil {
		return nil, 0, err
	}

	x3 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x3[i] = x[i] + dt*(b31*k1[i]+b32*k2[i])
	}
	k3, err := derive(f, t+a3*dt, x3)
	if err != nil {
		return nil, 0, err
	}

	x4 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x4[i] = x[i] + dt*(b41*k1[i]+b42*k2[i]+b43*k3[i])
	}
	k4, err := derive(f, t+a4*dt, x4)
	if err != nil {
		return nil, 0, err
	}

	x5 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x5[i] = x[i] + dt*(b51*k1[i]+b52*k2[i]+b53*k3[i]+b54*k4[i])
	}
	k5, err := derive(f, t+a5*dt, x5)
	if err != nil {
		return nil, 0, err
	}

	x6 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x6[i] = x[i] + dt*(b61*k1[i]+b62*k2[i]+b63*k3[i]+b64*k4[i]+b65*k5[i])
	}
	k6, err := derive(f, t+dt, x6)
	if err != nil {
		return nil, 0, err
	}

	xNew := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		xNew[i] = x[i] + dt*(c1*k1[i]+c3*k3[i]+c4*k4[i]+c5*k5[i]+c6*k6[i])
	}

	k7, err := derive(f, t+dt, xNew)
	if err != nil {
		return nil, 0, err
	}

	errMax := 0.0
	for i := 0; i < n; i++ {
		errEst := dt * (dc1*k1[i] + dc3*k3[i] + dc4*k4[i] + dc5*k5[i] + dc6*k6[i] + dc7*k7[i])
		scale := math.Abs(x[i]) + math.Abs(dt*k1[i]) + 1e-10
		errMax = math.Max(errMax, math.Abs(errEst)/scale)
	}

	return xNew, errMax / tol, nil
}
