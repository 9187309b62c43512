package nlp_test

import (
	"context"
	"errors"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/trajopt/internal/derivative"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/mesh"
	"github.com/san-kum/trajopt/internal/nlp"
	"github.com/san-kum/trajopt/internal/problem"
	"github.com/san-kum/trajopt/internal/transcription"
)

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
	return u[0] * u[0], nil
}

// scripted walks the protocol like a solver would: starting point, one
// trial per iteration, then finalize.
type scripted struct {
	iterations int
	trial      func(x []float64) []float64
	err        error
	seen       []nlp.IterationStats
}

func (s *scripted) Solve(ctx context.Context, cb nlp.Callbacks) (nlp.Status, error) {
	if s.err != nil {
		return nlp.EvaluationFailed, s.err
	}
	n, m := cb.Dimensions()
	x := make([]float64, n)
	cb.StartingPoint(x)
	f, err := cb.EvalObjective(x)
	if err != nil {
		return nlp.EvaluationFailed, err
	}
	g := make([]float64, m)
	if err := cb.EvalConstraints(x, g); err != nil {
		return nlp.EvaluationFailed, err
	}

	finish := func(st nlp.Status, iters int) (nlp.Status, error) {
		cb.FinalizeSolution(&nlp.Solution{Status: st, X: x, G: g, Objective: f, Iterations: iters})
		return st, nil
	}
	for k := 1; k <= s.iterations; k++ {
		if s.trial != nil {
			trial := s.trial(x)
			if ft, err := cb.EvalObjective(trial); err == nil {
				if cb.EvalConstraints(trial, g) == nil {
					x, f = trial, ft
				}
			}
		}
		stats := nlp.IterationStats{Iteration: k, Objective: f}
		cont := cb.OnIterationFinished(stats)
		s.seen = append(s.seen, stats)
		if !cont {
			return finish(nlp.UserTerminated, k)
		}
	}
	return finish(nlp.Converged, s.iterations)
}

var _ = Describe("Adapter", func() {
	var (
		tr *transcription.Engine
		de *derivative.Engine
	)

	BeforeEach(func() {
		var err error
		tr, err = transcription.New(problem.FromSystem("bounded", bounded{}), bounded{}, mesh.MustUniform(4))
		Expect(err).NotTo(HaveOccurred())
		de, err = derivative.New(tr)
		Expect(err).NotTo(HaveOccurred())
	})

	newAdapter := func(opts ...nlp.Option) *nlp.Adapter {
		a, err := nlp.New(tr, de, opts...)
		Expect(err).NotTo(HaveOccurred())
		return a
	}

	Describe("configuration", func() {
		It("starts Configured", func() {
			Expect(newAdapter().Phase()).To(Equal(nlp.Configured))
			Expect((&nlp.Adapter{}).Phase()).To(Equal(nlp.Uninitialized))
		})

		It("reports the same structure on every call", func() {
			a := newAdapter()
			r1, c1 := a.JacobianStructure()
			r1[0] = -7
			r2, c2 := a.JacobianStructure()
			r3, c3 := a.JacobianStructure()
			Expect(r2).To(Equal(r3))
			Expect(c2).To(Equal(c3))
			Expect(c1).To(Equal(c2))
			Expect(r2[0]).NotTo(Equal(-7))

			h1, hc1 := a.HessianStructure()
			h2, hc2 := a.HessianStructure()
			Expect(h1).To(Equal(h2))
			Expect(hc1).To(Equal(hc2))
		})

		It("refuses evaluations outside a solve", func() {
			a := newAdapter()
			n, _ := a.Dimensions()
			_, err := a.EvalObjective(make([]float64, n))
			Expect(err).To(MatchError(dynamo.ErrInvalidState))
		})

		It("rejects a starting point of the wrong size", func() {
			_, err := nlp.New(tr, de, nlp.WithStartingPoint([]float64{1, 2}))
			Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
		})

		It("serves bounds and the default guess", func() {
			a := newAdapter()
			n, m := a.Dimensions()
			xl, xu := make([]float64, n), make([]float64, n)
			gl, gu := make([]float64, m), make([]float64, m)
			a.Bounds(xl, xu, gl, gu)
			Expect(gl).To(HaveEach(0.0))
			Expect(gu).To(HaveEach(0.0))

			x := make([]float64, n)
			a.StartingPoint(x)
			Expect(x).To(Equal(tr.Guess()))
		})
	})

	Describe("solving", func() {
		It("converges through the state machine", func() {
			a := newAdapter()
			sol, err := a.Solve(context.Background(), &scripted{iterations: 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(sol.Status).To(Equal(nlp.Converged))
			Expect(a.Phase()).To(Equal(nlp.PhaseConverged))
			Expect(a.Last().Iteration).To(Equal(3))
		})

		It("counts rejected trial points instead of failing", func() {
			a := newAdapter()
			outside := func(x []float64) []float64 {
				t := append([]float64(nil), x...)
				t[tr.StateIndex(2, 0)] = 3
				return t
			}
			sol, err := a.Solve(context.Background(), &scripted{iterations: 2, trial: outside})
			Expect(err).NotTo(HaveOccurred())
			Expect(sol.Status).To(Equal(nlp.Converged))
			Expect(a.Rejections()).To(Equal(2))
			Expect(sol.Rejections).To(Equal(2))
			Expect(a.Last().Rejections).To(Equal(2))
		})

		It("stops when a hook says so", func() {
			calls := 0
			a := newAdapter(nlp.WithHook(func(s nlp.IterationStats) bool {
				calls++
				return s.Iteration < 2
			}))
			sol, err := a.Solve(context.Background(), &scripted{iterations: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(sol.Status).To(Equal(nlp.UserTerminated))
			Expect(sol.Iterations).To(Equal(2))
			Expect(calls).To(Equal(2))
			Expect(a.Phase()).To(Equal(nlp.PhaseTerminated))
			Expect(nlp.IsHookStop(a.StopReason())).To(BeTrue())
		})

		It("honours context cancellation at iteration boundaries", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			a := newAdapter()
			s := &scripted{iterations: 5}
			sol, err := a.Solve(ctx, s)
			Expect(err).NotTo(HaveOccurred())
			Expect(sol.Status).To(Equal(nlp.UserTerminated))
			Expect(s.seen).To(HaveLen(1))
			Expect(a.StopReason()).To(MatchError(context.Canceled))
		})

		It("enforces a deadline", func() {
			a := newAdapter(nlp.WithDeadline(time.Now().Add(-time.Second)))
			sol, err := a.Solve(context.Background(), &scripted{iterations: 5})
			Expect(err).NotTo(HaveOccurred())
			Expect(sol.Iterations).To(Equal(1))
			Expect(a.StopReason()).To(MatchError(context.DeadlineExceeded))
		})

		It("fails when the solver cannot start", func() {
			a := newAdapter()
			_, err := a.Solve(context.Background(), &scripted{err: errors.New("no start")})
			Expect(err).To(HaveOccurred())
			Expect(a.Phase()).To(Equal(nlp.PhaseFailed))
		})

		It("is single use", func() {
			a := newAdapter()
			_, err := a.Solve(context.Background(), &scripted{iterations: 1})
			Expect(err).NotTo(HaveOccurred())
			_, err = a.Solve(context.Background(), &scripted{iterations: 1})
			Expect(err).To(MatchError(dynamo.ErrInvalidState))
		})
	})
})
