package trajopt

import (
	"time"

	"github.com/san-kum/trajopt/internal/mesh"
	"github.com/san-kum/trajopt/internal/nlp"
	"github.com/san-kum/trajopt/internal/reconstruct"
)

// RefinementStatus is the outcome of the refinement loop.
type RefinementStatus int

const (
	// NotRefined means refinement was disabled or stopped early by a
	// non-converged round, a timeout, or an unavailable error estimate.
	NotRefined RefinementStatus = iota
	Accepted
	MaxRefinementsExceeded
)

func (s RefinementStatus) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case MaxRefinementsExceeded:
		return "max-refinements-exceeded"
	default:
		return "not-refined"
	}
}

// Round summarizes one solve on one mesh.
type Round struct {
	Index      int
	Points     int
	Status     nlp.Status
	Iterations int
	Objective  float64
	Rejections int
	Errors     []float64
	MaxError   float64
	Elapsed    time.Duration
}

type Result struct {
	// Trajectory is the last solution, returned even when the solver did
	// not converge.
	Trajectory *reconstruct.Trajectory
	Mesh       *mesh.Mesh
	Rounds     []Round
	Refinement RefinementStatus
	// Warning is set for non-fatal outcomes such as
	// dynamo.ErrMaxRefinementsExceeded.
	Warning error
}

// Converged reports whether the last round converged.
func (r *Result) Converged() bool {
	return r.Trajectory != nil && r.Trajectory.Status == nlp.Converged
}

func (r *Result) Last() Round {
	if len(r.Rounds) == 0 {
		return Round{}
	}
	return r.Rounds[len(r.Rounds)-1]
}
