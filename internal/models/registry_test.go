package models

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/mesh"
	"github.com/san-kum/trajopt/internal/trajopt"
	"github.com/san-kum/trajopt/internal/transcription"
)

func TestRegistryListsProblems(t *testing.T) {
	r := NewRegistry()
	want := []string{"bounded", "cartpole", "double_integrator", "double_pendulum", "integrator", "pendulum"}
	got := r.List()
	if len(got) != len(want) {
		t.Fatalf("expected %d problems, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("problem %d: expected %s, got %s", i, want[i], got[i])
		}
		if r.Describe(got[i]) == "" {
			t.Errorf("problem %s has no description", got[i])
		}
	}
}

func TestRegistryBuildsValidProblems(t *testing.T) {
	r := NewRegistry()
	for _, name := range r.List() {
		def, err := r.Get(name, nil)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := def.Problem.Validate(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if err := def.Problem.CheckSystem(def.System); err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if _, ok := def.System.(dynamo.IntegrandCoster); !ok {
			t.Errorf("%s: expected an integrand cost", name)
		}
	}
}

func TestRegistryParams(t *testing.T) {
	r := NewRegistry()

	def, err := r.Get("pendulum", map[string]float64{"duration": 3, "mass": 2})
	if err != nil {
		t.Fatal(err)
	}
	if def.Problem.FinalTime.Upper != 3 {
		t.Errorf("expected final time 3, got %v", def.Problem.FinalTime)
	}

	params, err := r.Params("pendulum")
	if err != nil {
		t.Fatal(err)
	}
	if params["mass"] != DefaultMass || params["duration"] != 2 {
		t.Errorf("unexpected defaults %v", params)
	}

	for _, tc := range []struct {
		name   string
		params map[string]float64
	}{
		{"integrator", map[string]float64{"mass": 1}},
		{"pendulum", map[string]float64{"stiffness": 1}},
		{"pendulum", map[string]float64{"duration": -1}},
		{"rocket", nil},
	} {
		if _, err := r.Get(tc.name, tc.params); !errorsIsConfig(err) {
			t.Errorf("%s %v: expected configuration error, got %v", tc.name, tc.params, err)
		}
	}
}

func TestDoubleIntegratorMinimumEffort(t *testing.T) {
	def, err := NewRegistry().Get("double_integrator", nil)
	if err != nil {
		t.Fatal(err)
	}
	opts := trajopt.DefaultOptions()
	opts.Scheme = transcription.HermiteSimpson
	opts.Refinement.Enabled = false
	res, err := trajopt.New(opts).Solve(context.Background(), def.Problem, def.System, mesh.MustUniform(21))
	if err != nil {
		t.Fatal(err)
	}

	// u(t) = 6 - 12t, cost 12. The discrete optimum can depart from it
	// by O(h) at the boundary nodes, so only interior nodes are compared.
	tr := res.Trajectory
	if math.Abs(tr.Objective-12) > 0.2 {
		t.Errorf("expected objective near 12, got %f", tr.Objective)
	}
	for k := 1; k < tr.Len()-1; k++ {
		tk := tr.Times[k]
		if math.Abs(tr.Controls[k][0]-(6-12*tk)) > 0.2 {
			t.Errorf("t=%.2f: expected control %f, got %f", tk, 6-12*tk, tr.Controls[k][0])
		}
	}
}

func TestBoundedIntegratorInvalidOutsideLimit(t *testing.T) {
	b := NewBoundedIntegrator()
	dx, err := b.Derive(0, dynamo.State{0.5}, dynamo.Control{2}, nil)
	if err != nil || dx[0] != 2 {
		t.Errorf("expected derivative 2, got %v (%v)", dx, err)
	}
	dx, _ = b.Derive(0, dynamo.State{1.5}, dynamo.Control{2}, nil)
	if dx.IsValid() {
		t.Errorf("expected invalid derivative outside limit, got %v", dx)
	}
}

func TestCartPoleUprightEquilibrium(t *testing.T) {
	c := NewCartPole()
	dx, _ := c.Derive(0, dynamo.State{0.3, 0, 0, 0}, dynamo.Control{0}, nil)
	for i, v := range dx {
		if math.Abs(v) > 1e-12 {
			t.Errorf("expected zero derivative %d at upright rest, got %f", i, v)
		}
	}

	// A push to the right tips the pole back.
	dx, _ = c.Derive(0, dynamo.State{0, 0, 0, 0}, dynamo.Control{1}, nil)
	if dx[1] <= 0 || dx[3] >= 0 {
		t.Errorf("expected positive cart and negative pole acceleration, got %v", dx)
	}
}

func errorsIsConfig(err error) bool { return errors.Is(err, dynamo.ErrConfiguration) }
