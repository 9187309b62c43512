package trajopt

import (
	"log/slog"
	"time"

	"github.com/san-kum/trajopt/internal/derivative"
	"github.com/san-kum/trajopt/internal/mesh"
	"github.com/san-kum/trajopt/internal/nlp"
	"github.com/san-kum/trajopt/internal/reconstruct"
	"github.com/san-kum/trajopt/internal/transcription"
)

// Refinement controls the solve / estimate / refine loop.
type Refinement struct {
	Enabled bool
	// Tol bounds the per-interval error indicator of an accepted mesh.
	Tol       float64
	MaxRounds int
	MaxPoints int
}

// Observer receives progress from every round. metrics.Collector
// implements it.
type Observer interface {
	ObserveIteration(stats nlp.IterationStats)
	ObserveSolve(status nlp.Status, rejections int, elapsed time.Duration)
	ObserveRound(points int, maxError float64)
}

type Options struct {
	Logger  *slog.Logger
	Scheme  transcription.Scheme
	Method  derivative.Method
	Workers int

	// Tol and MaxIter are handed to the interior-point solver.
	Tol     float64
	MaxIter int
	// Timeout bounds the whole solve, refinement rounds included. It is
	// checked at iteration boundaries only.
	Timeout time.Duration

	Refinement    Refinement
	ErrorEstimate reconstruct.ErrorOptions

	Observer Observer
	Hooks    []nlp.Hook
	// WarmStart seeds the first round instead of the default guess.
	WarmStart *reconstruct.Trajectory
	// Solver replaces the built-in interior-point solver.
	Solver nlp.Solver
}

func DefaultOptions() Options {
	return Options{
		Scheme:  transcription.Trapezoidal,
		Method:  derivative.Forward,
		Tol:     1e-6,
		MaxIter: 500,
		Refinement: Refinement{
			Enabled:   true,
			Tol:       1e-4,
			MaxRounds: 5,
			MaxPoints: mesh.DefaultMaxPoints,
		},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Tol <= 0 {
		o.Tol = d.Tol
	}
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	if o.Refinement.Tol <= 0 {
		o.Refinement.Tol = d.Refinement.Tol
	}
	if o.Refinement.MaxRounds <= 0 {
		o.Refinement.MaxRounds = d.Refinement.MaxRounds
	}
	if o.Refinement.MaxPoints < 2 {
		o.Refinement.MaxPoints = d.Refinement.MaxPoints
	}
	if o.ErrorEstimate.Workers == 0 {
		o.ErrorEstimate.Workers = o.Workers
	}
	return o
}
