package mesh

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/trajopt/internal/dynamo"
)

func TestBuildRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		fracs []float64
	}{
		{"too short", []float64{0}},
		{"bad start", []float64{0.1, 0.5, 1}},
		{"bad end", []float64{0, 0.5, 0.9}},
		{"repeated", []float64{0, 0.5, 0.5, 1}},
		{"decreasing", []float64{0, 0.6, 0.4, 1}},
		{"nan", []float64{0, math.NaN(), 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.fracs)
			if !errors.Is(err, dynamo.ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestBuildCopiesInput(t *testing.T) {
	in := []float64{0, 0.3, 1}
	m, err := Build(in)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	in[1] = 0.9
	if m.At(1) != 0.3 {
		t.Error("mesh aliases caller slice")
	}
}

func TestUniform(t *testing.T) {
	m, err := Uniform(11)
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 11 || m.Intervals() != 10 {
		t.Fatalf("unexpected size %d", m.Len())
	}
	if m.At(0) != 0 || m.At(10) != 1 {
		t.Error("endpoints not exact")
	}
	for k := 0; k < m.Intervals(); k++ {
		if math.Abs(m.Width(k)-0.1) > 1e-12 {
			t.Errorf("interval %d width %g", k, m.Width(k))
		}
	}
}

func TestRefineIsMonotonic(t *testing.T) {
	m := MustUniform(5)
	errs := []float64{1e-2, 1e-6, 5e-3, 1e-7}

	r, err := m.Refine(errs, 1e-4)
	if err != nil {
		t.Fatalf("refine failed: %v", err)
	}
	if !r.Contains(m) {
		t.Fatal("refined mesh lost original points")
	}
	if r.Len() <= m.Len() {
		t.Fatal("expected new points")
	}

	// intervals 1 and 3 were within tolerance and must be left whole
	for _, k := range []int{1, 3} {
		lo, hi := m.At(k), m.At(k+1)
		for _, p := range r.Points() {
			if p > lo && p < hi {
				t.Errorf("point %g inserted into converged interval [%g,%g]", p, lo, hi)
			}
		}
	}

	if len(errs) != 4 || errs[0] != 1e-2 {
		t.Error("error slice mutated")
	}
	if m.Len() != 5 {
		t.Error("original mesh mutated")
	}
}

func TestRefinePredictsConvergence(t *testing.T) {
	m := MustUniform(2)
	// order 2: each bisection divides by 8; 1 -> 1/8 -> 1/64 -> 1/512 < 1e-2
	r, err := m.Refine([]float64{1}, 1e-2)
	if err != nil {
		t.Fatalf("refine failed: %v", err)
	}
	if r.Len() != 9 {
		t.Errorf("expected 9 points after three levels of bisection, got %d", r.Len())
	}
}

func TestRefineRespectsMaxPoints(t *testing.T) {
	m := MustUniform(3)
	r, err := m.Refine([]float64{1, 1}, 1e-12, WithMaxPoints(6))
	if err != nil {
		t.Fatalf("refine failed: %v", err)
	}
	if r.Len() != 6 {
		t.Errorf("expected 6 points, got %d", r.Len())
	}
	if !r.Contains(m) {
		t.Error("refined mesh lost original points")
	}
}

func TestRefineWithinToleranceIsIdentity(t *testing.T) {
	m := MustUniform(4)
	r, err := m.Refine([]float64{1e-9, 1e-9, 1e-9}, 1e-6, WithOrder(4))
	if err != nil {
		t.Fatalf("refine failed: %v", err)
	}
	if r.Len() != m.Len() || !r.Contains(m) {
		t.Errorf("expected unchanged mesh, got %v", r.Points())
	}
}

func TestUniformRejectsTooFewPoints(t *testing.T) {
	for _, n := range []int{-1, 0, 1} {
		if _, err := Uniform(n); !errors.Is(err, dynamo.ErrConfiguration) {
			t.Errorf("n=%d: expected configuration error, got %v", n, err)
		}
	}
	defer func() {
		if recover() == nil {
			t.Error("expected MustUniform(1) to panic")
		}
	}()
	MustUniform(1)
}

func TestRefineRejectsBadOptions(t *testing.T) {
	m := MustUniform(4)
	for name, opt := range map[string]Option{
		"max points": WithMaxPoints(1),
		"order":      WithOrder(0),
	} {
		if _, err := m.Refine([]float64{1, 1, 1}, 1e-3, opt); !errors.Is(err, dynamo.ErrConfiguration) {
			t.Errorf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestRefineRejectsMismatchedErrors(t *testing.T) {
	m := MustUniform(4)
	if _, err := m.Refine([]float64{1}, 1e-3); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if _, err := m.Refine([]float64{1, 1, 1}, 0); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected configuration error for zero tolerance, got %v", err)
	}
}
