package trajopt

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/mesh"
	"github.com/san-kum/trajopt/internal/nlp"
	"github.com/san-kum/trajopt/internal/problem"
	"github.com/san-kum/trajopt/internal/reconstruct"
)

// effort is ẋ = u with cost ∫u², counting dynamics calls.
type effort struct{ calls atomic.Int64 }

func (*effort) StateDim() int   { return 1 }
func (*effort) ControlDim() int { return 1 }
func (s *effort) Derive(t float64, x dynamo.State, u dynamo.Control, p dynamo.Params) (dynamo.State, error) {
	s.calls.Add(1)
	return dynamo.State{u[0]}, nil
}
func (*effort) IntegrandCost(t float64, x dynamo.State, u dynamo.Control, p dynamo.Params) (float64, error) {
	return u[0] * u[0], nil
}

// decay is ẋ = -x + u with cost ∫u², driven from 1 to 0 over two seconds.
type decay struct{}

func (decay) StateDim() int   { return 1 }
func (decay) ControlDim() int { return 1 }
func (decay) Derive(t float64, x dynamo.State, u dynamo.Control, p dynamo.Params) (dynamo.State, error) {
	return dynamo.State{-x[0] + u[0]}, nil
}
func (decay) IntegrandCost(t float64, x dynamo.State, u dynamo.Control, p dynamo.Params) (float64, error) {
	return u[0] * u[0], nil
}

// bounded is ẋ = u with a pseudo-Huber pull towards 0.5 and dynamics that
// turn NaN outside [-1, 1].
type bounded struct{}

func (bounded) StateDim() int   { return 1 }
func (bounded) ControlDim() int { return 1 }
func (bounded) Derive(t float64, x dynamo.State, u dynamo.Control, p dynamo.Params) (dynamo.State, error) {
	if math.Abs(x[0]) > 1 {
		return dynamo.State{math.NaN()}, nil
	}
	return dynamo.State{u[0]}, nil
}
func (bounded) IntegrandCost(t float64, x dynamo.State, u dynamo.Control, p dynamo.Params) (float64, error) {
	d := x[0] - 0.5
	return math.Sqrt(1+d*d) + 1e-2*u[0]*u[0], nil
}

func transfer(sys dynamo.System) *problem.Problem {
	prob := problem.FromSystem("transfer", sys)
	prob.InitialStateBounds[0] = problem.Fixed(0)
	prob.FinalStateBounds[0] = problem.Fixed(1)
	return prob
}

func decayProblem() *problem.Problem {
	prob := problem.FromSystem("decay", decay{})
	prob.FinalTime = problem.Fixed(2)
	prob.InitialStateBounds[0] = problem.Fixed(1)
	prob.FinalStateBounds[0] = problem.Fixed(0)
	return prob
}

// constant is a two-sample trajectory holding x.
func constant(x float64) *reconstruct.Trajectory {
	return &reconstruct.Trajectory{
		Scheme:      "trapezoidal",
		FinalTime:   1,
		Times:       []float64{0, 1},
		States:      []dynamo.State{{x}, {x}},
		Controls:    []dynamo.Control{{0}, {0}},
		Derivatives: []dynamo.State{{0}, {0}},
	}
}

type observer struct {
	iterations, solves, rounds int
	points                     []int
}

func (o *observer) ObserveIteration(nlp.IterationStats) { o.iterations++ }
func (o *observer) ObserveSolve(nlp.Status, int, time.Duration) {
	o.solves++
}
func (o *observer) ObserveRound(points int, maxError float64) {
	o.rounds++
	o.points = append(o.points, points)
}

func TestSolveMinimumEffortTransfer(t *testing.T) {
	sys := &effort{}
	obs := &observer{}
	opts := DefaultOptions()
	opts.Observer = obs
	res, err := New(opts).Solve(context.Background(), transfer(sys), sys, mesh.MustUniform(10))
	require.NoError(t, err)
	require.NotNil(t, res.Trajectory)

	assert.True(t, res.Converged())
	assert.Equal(t, Accepted, res.Refinement)
	assert.NoError(t, res.Warning)
	require.Len(t, res.Rounds, 1)
	assert.Equal(t, 10, res.Last().Points)
	assert.Less(t, res.Last().MaxError, 1e-5)

	tr := res.Trajectory
	assert.InDelta(t, 1.0, tr.Objective, 1e-4)
	for k, tk := range tr.Times {
		assert.InDelta(t, tk, tr.States[k][0], 1e-4)
		assert.InDelta(t, 1.0, tr.Controls[k][0], 1e-3)
	}

	assert.Positive(t, obs.iterations)
	assert.Equal(t, 1, obs.solves)
	assert.Equal(t, []int{10}, obs.points)
}

func TestSolveRefinesUntilAccurate(t *testing.T) {
	opts := DefaultOptions()
	opts.Refinement.Tol = 1e-5
	opts.Refinement.MaxRounds = 4
	res, err := New(opts).Solve(context.Background(), decayProblem(), decay{}, mesh.MustUniform(5))
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(res.Rounds), 2)
	for i, rd := range res.Rounds {
		assert.Equal(t, i, rd.Index)
		assert.Equal(t, nlp.Converged, rd.Status)
		assert.Len(t, rd.Errors, rd.Points-1)
		if i > 0 {
			assert.Greater(t, rd.Points, res.Rounds[i-1].Points)
		}
	}
	assert.Less(t, res.Last().MaxError, res.Rounds[0].MaxError)
	assert.Equal(t, res.Last().Points, res.Mesh.Len())
	assert.Equal(t, res.Mesh.Points(), res.Trajectory.Mesh)

	switch res.Refinement {
	case Accepted:
		assert.LessOrEqual(t, res.Last().MaxError, opts.Refinement.Tol)
		assert.NoError(t, res.Warning)
	case MaxRefinementsExceeded:
		assert.ErrorIs(t, res.Warning, dynamo.ErrMaxRefinementsExceeded)
	default:
		t.Fatalf("refinement = %v", res.Refinement)
	}
}

func TestRefinementBudgets(t *testing.T) {
	tests := []struct {
		name string
		ref  Refinement
	}{
		{"rounds", Refinement{Enabled: true, Tol: 1e-12, MaxRounds: 1}},
		{"points", Refinement{Enabled: true, Tol: 1e-12, MaxRounds: 5, MaxPoints: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Refinement = tt.ref
			res, err := New(opts).Solve(context.Background(), decayProblem(), decay{}, mesh.MustUniform(5))
			require.NoError(t, err)
			assert.Equal(t, MaxRefinementsExceeded, res.Refinement)
			assert.ErrorIs(t, res.Warning, dynamo.ErrMaxRefinementsExceeded)
			assert.Len(t, res.Rounds, 1)
			assert.True(t, res.Converged())
		})
	}
}

func TestRefinementDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.Refinement.Enabled = false
	res, err := New(opts).Solve(context.Background(), decayProblem(), decay{}, mesh.MustUniform(5))
	require.NoError(t, err)
	assert.Equal(t, NotRefined, res.Refinement)
	require.Len(t, res.Rounds, 1)
	assert.Len(t, res.Rounds[0].Errors, 4)
	assert.Positive(t, res.Rounds[0].MaxError)
}

func TestWarmStartReducesIterations(t *testing.T) {
	opts := DefaultOptions()
	opts.Refinement.Enabled = false
	cold, err := New(opts).Solve(context.Background(), decayProblem(), decay{}, mesh.MustUniform(8))
	require.NoError(t, err)

	opts.WarmStart = cold.Trajectory
	warm, err := New(opts).Solve(context.Background(), decayProblem(), decay{}, mesh.MustUniform(8))
	require.NoError(t, err)
	assert.True(t, warm.Converged())
	assert.LessOrEqual(t, warm.Last().Iterations, cold.Last().Iterations)
	assert.InDelta(t, cold.Trajectory.Objective, warm.Trajectory.Objective, 1e-6)
}

func TestRejectedEvaluationsAreRecovered(t *testing.T) {
	opts := DefaultOptions()
	opts.WarmStart = constant(-0.9)
	prob := problem.FromSystem("bounded", bounded{})
	res, err := New(opts).Solve(context.Background(), prob, bounded{}, mesh.MustUniform(6))
	require.NoError(t, err)

	assert.True(t, res.Converged())
	assert.Positive(t, res.Last().Rejections)
	assert.Equal(t, res.Last().Rejections, res.Trajectory.Rejections)
	for _, x := range res.Trajectory.States {
		assert.InDelta(t, 0.5, x[0], 1e-3)
	}
	assert.InDelta(t, 1.0, res.Trajectory.Objective, 1e-5)
}

func TestFailureAtStartIsFatal(t *testing.T) {
	opts := DefaultOptions()
	opts.WarmStart = constant(-1.5)
	prob := problem.FromSystem("bounded", bounded{})
	res, err := New(opts).Solve(context.Background(), prob, bounded{}, mesh.MustUniform(6))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, dynamo.ErrDynamicsEvaluation)
}

func TestConfigurationErrorsPrecedeEvaluation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*problem.Problem, *Options)
		mesh   *mesh.Mesh
	}{
		{"nil mesh", func(*problem.Problem, *Options) {}, nil},
		{"state bounds", func(p *problem.Problem, _ *Options) {
			p.StateBounds[0] = problem.Bounds{Lower: 1, Upper: -1}
		}, mesh.MustUniform(5)},
		{"integrator", func(_ *problem.Problem, o *Options) {
			o.ErrorEstimate.Integrator = "leapfrog"
		}, mesh.MustUniform(5)},
		{"warm start", func(_ *problem.Problem, o *Options) {
			ws := constant(0)
			ws.States = []dynamo.State{{0, 0}, {0, 0}}
			o.WarmStart = ws
		}, mesh.MustUniform(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys := &effort{}
			prob := transfer(sys)
			opts := DefaultOptions()
			tt.mutate(prob, &opts)

			res, err := New(opts).Solve(context.Background(), prob, sys, tt.mesh)
			assert.ErrorIs(t, err, dynamo.ErrConfiguration)
			assert.Nil(t, res)
			assert.Zero(t, sys.calls.Load())
		})
	}
}

func TestNonIncreasingMeshIsRejected(t *testing.T) {
	_, err := mesh.Build([]float64{0, 0.5, 0.5, 1})
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
}

func TestHookStopIsNotAnError(t *testing.T) {
	sys := &effort{}
	opts := DefaultOptions()
	opts.Hooks = []nlp.Hook{func(nlp.IterationStats) bool { return false }}
	res, err := New(opts).Solve(context.Background(), transfer(sys), sys, mesh.MustUniform(10))
	require.NoError(t, err)
	require.NotNil(t, res.Trajectory)
	assert.Equal(t, nlp.UserTerminated, res.Trajectory.Status)
	assert.Equal(t, NotRefined, res.Refinement)
	assert.True(t, nlp.IsHookStop(res.Warning))
	assert.Equal(t, 1, res.Last().Iterations)
}

func TestCancelledContext(t *testing.T) {
	sys := &effort{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := New(DefaultOptions()).Solve(ctx, transfer(sys), sys, mesh.MustUniform(10))
	require.NoError(t, err)
	assert.Equal(t, nlp.UserTerminated, res.Trajectory.Status)
	assert.ErrorIs(t, res.Warning, context.Canceled)
}

// diverging reports divergence after evaluating the starting point.
type diverging struct{}

func (diverging) Solve(ctx context.Context, cb nlp.Callbacks) (nlp.Status, error) {
	n, _ := cb.Dimensions()
	x := make([]float64, n)
	cb.StartingPoint(x)
	f, err := cb.EvalObjective(x)
	if err != nil {
		return nlp.EvaluationFailed, err
	}
	cb.FinalizeSolution(&nlp.Solution{Status: nlp.Diverging, X: x, Objective: f, Iterations: 3})
	return nlp.Diverging, nil
}

func TestDivergenceReturnsLastIterate(t *testing.T) {
	sys := &effort{}
	opts := DefaultOptions()
	opts.Solver = diverging{}
	res, err := New(opts).Solve(context.Background(), transfer(sys), sys, mesh.MustUniform(4))
	require.Error(t, err)
	assert.ErrorIs(t, err, dynamo.ErrSolverDivergence)

	var div *dynamo.SolverDivergenceError
	require.True(t, errors.As(err, &div))
	assert.Equal(t, "diverging", div.Status)
	assert.Equal(t, 3, div.Iterations)

	require.NotNil(t, res)
	require.NotNil(t, res.Trajectory)
	assert.False(t, res.Converged())
	assert.Equal(t, NotRefined, res.Refinement)
	assert.InDeltaSlice(t, []float64{0, 1.0 / 3, 2.0 / 3, 1}, res.Trajectory.Times, 1e-15)
}

// drift is ẋ = 1 with no controls.
type drift struct{}

func (drift) StateDim() int   { return 1 }
func (drift) ControlDim() int { return 0 }
func (drift) Derive(t float64, x dynamo.State, u dynamo.Control, p dynamo.Params) (dynamo.State, error) {
	return dynamo.State{1}, nil
}

func TestInfeasibleFixedProblemDiverges(t *testing.T) {
	prob := problem.FromSystem("drift", drift{})
	prob.InitialStateBounds[0] = problem.Fixed(0)
	prob.FinalStateBounds[0] = problem.Fixed(0)

	res, err := New(DefaultOptions()).Solve(context.Background(), prob, drift{}, mesh.MustUniform(2))
	assert.ErrorIs(t, err, dynamo.ErrSolverDivergence)
	require.NotNil(t, res)
	assert.False(t, res.Converged())

	// the same horizon is consistent once x(1) = 1
	prob.FinalStateBounds[0] = problem.Fixed(1)
	res, err = New(DefaultOptions()).Solve(context.Background(), prob, drift{}, mesh.MustUniform(2))
	require.NoError(t, err)
	assert.True(t, res.Converged())
}
