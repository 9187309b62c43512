package metrics

import (
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// ControlEffort is the trapezoidal integral of Σ u_j^2.
type ControlEffort struct {
	name  string
	sum   float64
	lastT float64
	lastV float64
	seen  bool
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{
		name: "control_effort",
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(t float64, x dynamo.State, u dynamo.Control) {
	v := 0.0
	for _, val := range u {
		v += val * val
	}
	if c.seen {
		c.sum += 0.5 * (t - c.lastT) * (v + c.lastV)
	}
	c.lastT, c.lastV, c.seen = t, v, true
}

func (c *ControlEffort) Value() float64 {
	return c.sum
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.seen = false
}

// PeakControl is max_j,t |u_j(t)|.
type PeakControl struct {
	peak float64
}

func NewPeakControl() *PeakControl { return &PeakControl{} }

func (p *PeakControl) Name() string { return "peak_control" }

func (p *PeakControl) Observe(t float64, x dynamo.State, u dynamo.Control) {
	for _, val := range u {
		p.peak = math.Max(p.peak, math.Abs(val))
	}
}

func (p *PeakControl) Value() float64 { return p.peak }
func (p *PeakControl) Reset()         { p.peak = 0 }
