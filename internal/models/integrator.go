package models

import (
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Integrator1D is ẋ = u.
type Integrator1D struct{}

func (Integrator1D) StateDim() int   { return 1 }
func (Integrator1D) ControlDim() int { return 1 }

func (Integrator1D) Derive(t float64, x dynamo.State, u dynamo.Control, _ dynamo.Params) (dynamo.State, error) {
	return dynamo.State{u[0]}, nil
}

// DoubleIntegrator is a unit point mass pushed by a force: ẍ = u.
type DoubleIntegrator struct{}

func (DoubleIntegrator) StateDim() int   { return 2 }
func (DoubleIntegrator) ControlDim() int { return 1 }

func (DoubleIntegrator) Derive(t float64, x dynamo.State, u dynamo.Control, _ dynamo.Params) (dynamo.State, error) {
	return dynamo.State{x[1], u[0]}, nil
}

// BoundedIntegrator is ẋ = u whose dynamics are undefined (NaN) outside
// [-Limit, Limit]. It exercises the solver's recovery from rejected
// trial points.
type BoundedIntegrator struct {
	Limit float64
}

func NewBoundedIntegrator() *BoundedIntegrator {
	return &BoundedIntegrator{Limit: 1}
}

func (b *BoundedIntegrator) StateDim() int   { return 1 }
func (b *BoundedIntegrator) ControlDim() int { return 1 }

func (b *BoundedIntegrator) Derive(t float64, x dynamo.State, u dynamo.Control, _ dynamo.Params) (dynamo.State, error) {
	if math.Abs(x[0]) > b.Limit {
		return dynamo.State{math.NaN()}, nil
	}
	return dynamo.State{u[0]}, nil
}

func (b *BoundedIntegrator) GetParams() map[string]float64 {
	return map[string]float64{"limit": b.Limit}
}

func (b *BoundedIntegrator) SetParam(name string, value float64) error {
	if name != "limit" {
		return errUnknownParam(name)
	}
	b.Limit = value
	return nil
}
