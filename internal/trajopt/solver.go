// Package trajopt solves optimal control problems by direct collocation
// with optional mesh refinement.
package trajopt

import (
	"context"
	"fmt"
	"time"

	"github.com/san-kum/trajopt/internal/derivative"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/ipm"
	"github.com/san-kum/trajopt/internal/mesh"
	"github.com/san-kum/trajopt/internal/nlp"
	"github.com/san-kum/trajopt/internal/problem"
	"github.com/san-kum/trajopt/internal/reconstruct"
	"github.com/san-kum/trajopt/internal/transcription"
)

type Solver struct {
	opts Options
}

func New(opts Options) *Solver {
	return &Solver{opts: opts.withDefaults()}
}

// Solve runs solve / estimate / refine rounds until the error estimate is
// within tolerance, the round budget is spent, or a round fails to
// converge.
//
// Configuration errors are returned before the system is evaluated. A
// failure at the starting point returns the DynamicsEvaluationError and no
// result. A round that ends without converging returns the result so far
// together with a *dynamo.SolverDivergenceError, except for user
// termination, which is not an error.
func (s *Solver) Solve(ctx context.Context, prob *problem.Problem, sys dynamo.System, m *mesh.Mesh) (*Result, error) {
	opts := s.opts
	log := opts.Logger

	if _, err := integrators.New(opts.ErrorEstimate.Integrator); err != nil {
		return nil, err
	}

	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}

	res := &Result{}
	prev := opts.WarmStart
	cur := m
	for round := 0; ; round++ {
		eng, err := transcription.New(prob, sys, cur,
			transcription.WithScheme(opts.Scheme),
			transcription.WithWorkers(opts.Workers))
		if err != nil {
			return nil, err
		}

		traj, rd, stop, err := s.solveRound(ctx, eng, prev, deadline)
		if err != nil {
			if len(res.Rounds) == 0 {
				return nil, err
			}
			return res, err
		}
		rd.Index = round
		res.Trajectory = traj
		res.Mesh = cur

		switch traj.Status {
		case nlp.Converged:
		case nlp.UserTerminated:
			res.Rounds = append(res.Rounds, rd)
			if stop == nil {
				stop = ctx.Err()
			}
			res.Warning = stop
			log.Warn("solve terminated", "round", round, "iterations", rd.Iterations, "reason", stop)
			return res, nil
		default:
			res.Rounds = append(res.Rounds, rd)
			log.Warn("solver did not converge", "round", round, "status", traj.Status)
			return res, &dynamo.SolverDivergenceError{Status: traj.Status.String(), Iterations: traj.Iterations}
		}

		errs, err := reconstruct.EstimateError(traj, sys, opts.ErrorEstimate)
		if err != nil {
			res.Rounds = append(res.Rounds, rd)
			res.Warning = fmt.Errorf("error estimate: %w", err)
			log.Warn("error estimate unavailable", "round", round, "err", err)
			return res, nil
		}
		rd.Errors = errs
		rd.MaxError = reconstruct.MaxError(errs)
		res.Rounds = append(res.Rounds, rd)
		if opts.Observer != nil {
			opts.Observer.ObserveRound(cur.Len(), rd.MaxError)
		}
		log.Info("round finished",
			"round", round,
			"points", cur.Len(),
			"objective", rd.Objective,
			"max_error", rd.MaxError,
			"iterations", rd.Iterations)

		ref := opts.Refinement
		if !ref.Enabled {
			return res, nil
		}
		if rd.MaxError <= ref.Tol {
			res.Refinement = Accepted
			return res, nil
		}
		if round+1 >= ref.MaxRounds {
			return s.exhausted(res, "round budget spent")
		}

		next, err := cur.Refine(errs, ref.Tol,
			mesh.WithMaxPoints(ref.MaxPoints),
			mesh.WithOrder(opts.Scheme.Order()))
		if err != nil {
			return res, err
		}
		if next.Len() == cur.Len() {
			return s.exhausted(res, "mesh point budget spent")
		}
		if err := ctx.Err(); err != nil {
			res.Warning = err
			return res, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			res.Warning = context.DeadlineExceeded
			return res, nil
		}

		log.Info("refining mesh", "from", cur.Len(), "to", next.Len())
		prev = traj
		cur = next
	}
}

func (s *Solver) exhausted(res *Result, why string) (*Result, error) {
	res.Refinement = MaxRefinementsExceeded
	res.Warning = fmt.Errorf("%w: %s", dynamo.ErrMaxRefinementsExceeded, why)
	s.opts.Logger.Warn("refinement stopped", "reason", why, "max_error", res.Last().MaxError)
	return res, nil
}

// solveRound runs one NLP solve on eng, warm started from prev when given.
// stop is the adapter's reason for a UserTerminated status.
func (s *Solver) solveRound(ctx context.Context, eng *transcription.Engine, prev *reconstruct.Trajectory, deadline time.Time) (traj *reconstruct.Trajectory, rd Round, stop error, err error) {
	opts := s.opts
	began := time.Now()
	if prev != nil {
		if err := compatible(eng.Problem(), prev); err != nil {
			return nil, Round{}, nil, err
		}
	}

	n := eng.VariableCount()
	xl, xu := make([]float64, n), make([]float64, n)
	eng.VariableBounds(xl, xu)
	de, err := derivative.New(eng,
		derivative.WithMethod(opts.Method),
		derivative.WithWorkers(opts.Workers),
		derivative.WithUpperBounds(xu))
	if err != nil {
		return nil, Round{}, nil, err
	}

	adOpts := []nlp.Option{nlp.WithLogger(opts.Logger), nlp.WithDeadline(deadline)}
	if opts.Observer != nil {
		obs := opts.Observer
		adOpts = append(adOpts, nlp.WithHook(func(st nlp.IterationStats) bool {
			obs.ObserveIteration(st)
			return true
		}))
	}
	for _, h := range opts.Hooks {
		adOpts = append(adOpts, nlp.WithHook(h))
	}
	if prev != nil {
		adOpts = append(adOpts, nlp.WithStartingPoint(eng.Pack(prev.InitialTime, prev.FinalTime, prev.Params, prev.Interpolate)))
	}
	ad, err := nlp.New(eng, de, adOpts...)
	if err != nil {
		return nil, Round{}, nil, err
	}

	solver := opts.Solver
	if solver == nil {
		solver = ipm.New(ipm.Options{Tol: opts.Tol, MaxIter: opts.MaxIter, Logger: opts.Logger})
	}
	sol, err := ad.Solve(ctx, solver)
	if err != nil {
		return nil, Round{}, nil, err
	}

	traj, err = reconstruct.Reconstruct(sol, eng)
	if err != nil {
		return nil, Round{}, nil, err
	}
	rd = Round{
		Points:     eng.Mesh().Len(),
		Status:     sol.Status,
		Iterations: sol.Iterations,
		Objective:  sol.Objective,
		Rejections: sol.Rejections,
		Elapsed:    time.Since(began),
	}
	if opts.Observer != nil {
		opts.Observer.ObserveSolve(sol.Status, sol.Rejections, rd.Elapsed)
	}
	return traj, rd, ad.StopReason(), nil
}

func compatible(prob *problem.Problem, ws *reconstruct.Trajectory) error {
	if ws.Len() < 2 {
		return dynamo.Configf("warm start", "need at least 2 samples, have %d", ws.Len())
	}
	if len(ws.States[0]) != prob.NumStates || len(ws.Controls[0]) != prob.NumControls || len(ws.Params) != prob.NumParams {
		return dynamo.Configf("warm start", "dimensions (%d, %d, %d) do not match problem (%d, %d, %d)",
			len(ws.States[0]), len(ws.Controls[0]), len(ws.Params),
			prob.NumStates, prob.NumControls, prob.NumParams)
	}
	return nil
}
