package dynamo

import (
	"math"
	"testing"
)

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		valid bool
	}{
		{"empty", State{}, true},
		{"normal", State{1.0, 2.0, 3.0}, true},
		{"zeros", State{0.0, 0.0}, true},
		{"with NaN", State{1.0, math.NaN()}, false},
		{"with +Inf", State{1.0, math.Inf(1)}, false},
		{"with -Inf", State{1.0, math.Inf(-1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
			if got := Control(tt.state).IsValid(); got != tt.valid {
				t.Errorf("Control.IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestState_Norm(t *testing.T) {
	tests := []struct {
		state    State
		expected float64
	}{
		{State{3, 4}, 5.0},
		{State{1, 0}, 1.0},
		{State{0, 0}, 0.0},
		{State{1, 1, 1, 1}, 2.0},
	}

	for _, tt := range tests {
		if got := tt.state.Norm(); math.Abs(got-tt.expected) > 1e-10 {
			t.Errorf("Norm(%v) = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestState_CloneIsIndependent(t *testing.T) {
	a := State{1, 2, 3}
	b := a.Clone()
	b[0] = 10
	if a[0] != 1 {
		t.Errorf("clone aliases original: %v", a)
	}

	diff := b.Sub(a)
	if diff[0] != 9 || diff[1] != 0 || diff[2] != 0 {
		t.Errorf("Sub failed: got %v", diff)
	}
}

type bareSystem struct{}

func (bareSystem) Derive(t float64, x State, u Control, p Params) (State, error) { return x, nil }
func (bareSystem) StateDim() int                                                 { return 1 }
func (bareSystem) ControlDim() int                                               { return 0 }

type richSystem struct{ bareSystem }

func (richSystem) ParamDim() int          { return 2 }
func (richSystem) PathConstraintDim() int { return 3 }
func (richSystem) PathConstraints(t float64, x State, u Control, p Params) ([]float64, error) {
	return make([]float64, 3), nil
}

func TestCapabilityDims(t *testing.T) {
	if ParamDim(bareSystem{}) != 0 || PathDim(bareSystem{}) != 0 || EndpointDim(bareSystem{}) != 0 {
		t.Error("bare system should report zero optional dims")
	}
	if ParamDim(richSystem{}) != 2 {
		t.Errorf("ParamDim = %d, want 2", ParamDim(richSystem{}))
	}
	if PathDim(richSystem{}) != 3 {
		t.Errorf("PathDim = %d, want 3", PathDim(richSystem{}))
	}
}
