package dynamo

import (
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	return allFinite(s)
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

type Control []float64

func (u Control) Clone() Control {
	c := make(Control, len(u))
	copy(c, u)
	return c
}

func (u Control) IsValid() bool {
	return allFinite(u)
}

// Params holds static (time-invariant) optimization parameters.
type Params []float64

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// System is the dynamics oracle: dX/dt = f(t, X, u, p).
type System interface {
	Derive(t float64, x State, u Control, p Params) (State, error)
	StateDim() int
	ControlDim() int
}

// Parameterized systems expose static parameters that become NLP variables.
type Parameterized interface {
	ParamDim() int
}

// IntegrandCoster contributes the Lagrange term of the objective.
type IntegrandCoster interface {
	IntegrandCost(t float64, x State, u Control, p Params) (float64, error)
}

// EndpointCoster contributes the Mayer term of the objective.
type EndpointCoster interface {
	EndpointCost(t0 float64, x0 State, tf float64, xf State, p Params) (float64, error)
}

// PathConstrainer evaluates constraints enforced at every mesh point.
type PathConstrainer interface {
	PathConstraintDim() int
	PathConstraints(t float64, x State, u Control, p Params) ([]float64, error)
}

// EndpointConstrainer evaluates constraints coupling the initial and final
// states, e.g. a terminal manifold.
type EndpointConstrainer interface {
	EndpointConstraintDim() int
	EndpointConstraints(t0 float64, x0 State, tf float64, xf State, p Params) ([]float64, error)
}

// ParamDim returns the number of static parameters of sys.
func ParamDim(sys System) int {
	if p, ok := sys.(Parameterized); ok {
		return p.ParamDim()
	}
	return 0
}

// PathDim returns the number of path constraints of sys.
func PathDim(sys System) int {
	if p, ok := sys.(PathConstrainer); ok {
		return p.PathConstraintDim()
	}
	return 0
}

// EndpointDim returns the number of endpoint constraints of sys.
func EndpointDim(sys System) int {
	if p, ok := sys.(EndpointConstrainer); ok {
		return p.EndpointConstraintDim()
	}
	return 0
}
