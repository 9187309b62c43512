package ipm

import "log/slog"

// Options tunes the interior-point iteration. Zero fields take the
// defaults of DefaultOptions.
type Options struct {
	// Tol bounds the scaled KKT error at which the iterate is accepted.
	Tol     float64
	MaxIter int
	// InitialMu is the first barrier parameter.
	InitialMu float64
	// BoundPush and BoundFrac move the starting point into the interior of
	// its bounds: at least min(BoundPush*max(1,|l|), BoundFrac*(u-l)).
	BoundPush float64
	BoundFrac float64
	Logger    *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Tol:       1e-6,
		MaxIter:   500,
		InitialMu: 0.1,
		BoundPush: 1e-2,
		BoundFrac: 1e-2,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Tol <= 0 {
		o.Tol = d.Tol
	}
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	if o.InitialMu <= 0 {
		o.InitialMu = d.InitialMu
	}
	if o.BoundPush <= 0 {
		o.BoundPush = d.BoundPush
	}
	if o.BoundFrac <= 0 {
		o.BoundFrac = d.BoundFrac
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

const (
	kappaEps   = 10.0
	kappaMu    = 0.2
	thetaMu    = 1.5
	tauMin     = 0.99
	kappaSigma = 1e10
	sMax       = 100.0
	armijo     = 1e-4
	minStep    = 1e-14
	divergence = 1e20

	regFirst  = 1e-4
	regGrow   = 8.0
	regMax    = 1e40
	regJac    = 1e-8
	pivotFrac = 1e-15
)
