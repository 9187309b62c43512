package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/models"
	"github.com/san-kum/trajopt/internal/nlp"
	"github.com/san-kum/trajopt/internal/reconstruct"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveIteration(nlp.IterationStats{Iteration: 1, InfPr: 0.5, InfDu: 0.25, Mu: 0.1})
	c.ObserveIteration(nlp.IterationStats{Iteration: 2, InfPr: 1e-3, InfDu: 1e-4, Mu: 0.01})
	c.ObserveSolve(nlp.Converged, 3, 250*time.Millisecond)
	c.ObserveSolve(nlp.MaxIterations, 0, time.Second)
	c.ObserveRound(21, 2e-5)

	if got := testutil.ToFloat64(c.iterations); got != 2 {
		t.Errorf("expected 2 iterations, got %f", got)
	}
	if got := testutil.ToFloat64(c.rejections); got != 3 {
		t.Errorf("expected 3 rejections, got %f", got)
	}
	if got := testutil.ToFloat64(c.infPr); got != 1e-3 {
		t.Errorf("expected last primal infeasibility 1e-3, got %g", got)
	}
	if got := testutil.ToFloat64(c.solves.WithLabelValues("converged")); got != 1 {
		t.Errorf("expected 1 converged solve, got %f", got)
	}
	if got := testutil.ToFloat64(c.solves.WithLabelValues("max-iterations")); got != 1 {
		t.Errorf("expected 1 max-iterations solve, got %f", got)
	}
	if got := testutil.ToFloat64(c.meshPoints); got != 21 {
		t.Errorf("expected 21 mesh points, got %f", got)
	}
	if n := testutil.CollectAndCount(c.solveDuration); n != 1 {
		t.Errorf("expected one histogram, got %d", n)
	}
}

func TestCollectorRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	NewCollector(reg)
}

func line(n int) *reconstruct.Trajectory {
	tr := &reconstruct.Trajectory{Scheme: "trapezoidal", FinalTime: 1}
	for k := 0; k < n; k++ {
		tk := float64(k) / float64(n-1)
		tr.Times = append(tr.Times, tk)
		tr.States = append(tr.States, dynamo.State{tk})
		tr.Controls = append(tr.Controls, dynamo.Control{1})
	}
	return tr
}

func TestEvaluate(t *testing.T) {
	tr := line(5)
	tr.Controls[2] = dynamo.Control{-3}

	got := Evaluate(tr, NewControlEffort(), NewPeakControl(), NewEnergyGain(models.Integrator1D{}))
	// Trapezoid over u^2 = 1, 1, 9, 1, 1 with h = 0.25.
	if math.Abs(got["control_effort"]-0.25*(1+1+9+1)) > 1e-12 {
		t.Errorf("unexpected control effort %f", got["control_effort"])
	}
	if got["peak_control"] != 3 {
		t.Errorf("expected peak 3, got %f", got["peak_control"])
	}
	if got["energy_gain"] != 0 {
		t.Errorf("expected no energy for a non-energetic system, got %f", got["energy_gain"])
	}
}

func TestEnergyGainOfSwingUp(t *testing.T) {
	p := models.NewPendulum()
	tr := &reconstruct.Trajectory{
		Times:    []float64{0, 1},
		States:   []dynamo.State{{0, 0}, {math.Pi, 0}},
		Controls: []dynamo.Control{{0}, {0}},
	}
	got := Evaluate(tr, NewEnergyGain(p))["energy_gain"]
	want := 2 * p.Mass * p.Gravity * p.Length
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected energy gain %f, got %f", want, got)
	}
}

func TestMaxDefect(t *testing.T) {
	tr := line(5)
	d, err := MaxDefect(tr, models.Integrator1D{})
	if err != nil {
		t.Fatal(err)
	}
	if d > 1e-15 {
		t.Errorf("expected zero defect, got %g", d)
	}

	tr.States[3][0] += 0.1
	d, err = MaxDefect(tr, models.Integrator1D{})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(d-0.1) > 1e-12 {
		t.Errorf("expected defect 0.1, got %g", d)
	}
}

func TestMaxDefectHermiteSimpson(t *testing.T) {
	// x' = v, v' = u with u = 1 gives x = t^2/2, which Simpson integrates
	// exactly.
	tr := &reconstruct.Trajectory{Scheme: "hermite-simpson"}
	for k := 0; k < 4; k++ {
		tk := float64(k) / 3
		tr.Times = append(tr.Times, tk)
		tr.States = append(tr.States, dynamo.State{tk * tk / 2, tk})
		tr.Controls = append(tr.Controls, dynamo.Control{1})
		if k < 3 {
			tr.MidControls = append(tr.MidControls, dynamo.Control{1})
		}
	}
	d, err := MaxDefect(tr, models.DoubleIntegrator{})
	if err != nil {
		t.Fatal(err)
	}
	if d > 1e-14 {
		t.Errorf("expected zero defect, got %g", d)
	}
}
