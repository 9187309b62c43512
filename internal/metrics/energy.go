package metrics

import (
	"github.com/san-kum/trajopt/internal/dynamo"
)

// Energetic systems report their mechanical energy.
type Energetic interface {
	Energy(x dynamo.State) float64
}

// EnergyGain is the energy at the last sample minus the energy at the
// first. It stays zero for systems that are not Energetic.
type EnergyGain struct {
	name    string
	sys     Energetic
	initial float64
	current float64
	samples int
}

func NewEnergyGain(sys dynamo.System) *EnergyGain {
	e, _ := sys.(Energetic)
	return &EnergyGain{
		name: "energy_gain",
		sys:  e,
	}
}

func (e *EnergyGain) Name() string { return e.name }

func (e *EnergyGain) Observe(t float64, x dynamo.State, u dynamo.Control) {
	if e.sys == nil {
		return
	}
	energy := e.sys.Energy(x)
	if e.samples == 0 {
		e.initial = energy
	}
	e.current = energy
	e.samples++
}

func (e *EnergyGain) Value() float64 {
	return e.current - e.initial
}

func (e *EnergyGain) Reset() {
	e.initial = 0
	e.current = 0
	e.samples = 0
}
