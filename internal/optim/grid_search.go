// Package optim searches problem parameters, such as the final time, for
// the setting whose optimal trajectory scores best.
package optim

import (
	"context"
	"fmt"
	"maps"
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Evaluate solves the problem built from params and returns the score to
// minimize.
type Evaluate func(ctx context.Context, params map[string]float64) (float64, error)

// Sample is one grid point. Err is set when the evaluation failed; such
// points never win.
type Sample struct {
	Params map[string]float64
	Value  float64
	Err    error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) == 0 || len(params) != len(ranges) {
		return nil, dynamo.Configf("grid", "%d parameters with %d ranges", len(params), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, dynamo.Configf("grid", "no values for %s", params[i])
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Search evaluates every grid point in order and returns the best one
// with all samples. It fails only when the context ends or no point could
// be evaluated.
func (g *GridSearch) Search(ctx context.Context, eval Evaluate) (map[string]float64, float64, []Sample, error) {
	best := math.Inf(1)
	var bestParams map[string]float64
	var samples []Sample

	err := g.searchRecursive(ctx, 0, make(map[string]float64), eval, func(s Sample) {
		samples = append(samples, s)
		if s.Err == nil && s.Value < best {
			best = s.Value
			bestParams = s.Params
		}
	})
	if err != nil {
		return bestParams, best, samples, err
	}
	if bestParams == nil {
		return nil, best, samples, fmt.Errorf("optim: all %d grid points failed: %w", len(samples), samples[0].Err)
	}
	return bestParams, best, samples, nil
}

func (g *GridSearch) searchRecursive(ctx context.Context, depth int, current map[string]float64, eval Evaluate, visit func(Sample)) error {
	if depth == len(g.paramNames) {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := eval(ctx, current)
		if err == nil && math.IsNaN(val) {
			err = fmt.Errorf("optim: %w: score is NaN", dynamo.ErrInvalidState)
		}
		visit(Sample{Params: current, Value: val, Err: err})
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := maps.Clone(current)
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, eval, visit); err != nil {
			return err
		}
	}
	return nil
}
