package automation

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/trajopt/internal/dynamo"
)

const continuation = `
name: continuation
description: coarse trapezoidal solve refined with Hermite-Simpson
steps:
  - name: coarse
    problem: double_integrator
    preset: unrefined
  - name: fine
    problem: double_integrator
    scheme: hermite-simpson
    mesh_points: 8
    warm_start: coarse
`

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestRunScenarioWithWarmStart(t *testing.T) {
	sc, err := LoadScenario(writeScenario(t, continuation))
	require.NoError(t, err)
	require.Len(t, sc.Steps, 2)
	assert.Equal(t, "coarse", sc.Steps[1].WarmStart)

	results, err := RunScenario(context.Background(), sc, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		require.NoError(t, r.Err, r.Step)
		assert.True(t, r.Result.Converged(), r.Step)
	}
	fine := results[1]
	assert.Equal(t, "hermite-simpson", fine.Config.Scheme)
	assert.Equal(t, "hermite-simpson", fine.Result.Trajectory.Scheme)
	assert.Less(t, math.Abs(fine.Result.Trajectory.Objective-12), 0.2)
}

func TestScenarioValidation(t *testing.T) {
	tests := []struct {
		name string
		sc   Scenario
	}{
		{"no steps", Scenario{Name: "empty"}},
		{"unnamed step", Scenario{Steps: []ScenarioStep{{Problem: "integrator"}}}},
		{"duplicate names", Scenario{Steps: []ScenarioStep{
			{Name: "a", Problem: "integrator"},
			{Name: "a", Problem: "integrator"},
		}}},
		{"no problem", Scenario{Steps: []ScenarioStep{{Name: "a"}}}},
		{"forward warm start", Scenario{Steps: []ScenarioStep{
			{Name: "a", Problem: "integrator", WarmStart: "b"},
			{Name: "b", Problem: "integrator"},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.sc.Validate(), dynamo.ErrConfiguration)
			_, err := RunScenario(context.Background(), &tt.sc, nil)
			assert.ErrorIs(t, err, dynamo.ErrConfiguration)
		})
	}
}

func TestRunScenarioStopsOnBadStep(t *testing.T) {
	sc := &Scenario{Steps: []ScenarioStep{
		{Name: "a", Problem: "integrator", Preset: "nope"},
	}}
	results, err := RunScenario(context.Background(), sc, nil)
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
	assert.Empty(t, results)

	// a one-state trajectory cannot seed a two-state problem
	sc = &Scenario{Steps: []ScenarioStep{
		{Name: "a", Problem: "integrator", MeshPoints: 5},
		{Name: "b", Problem: "double_integrator", WarmStart: "a"},
	}}
	results, err = RunScenario(context.Background(), sc, nil)
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
	assert.Len(t, results, 1)
}

func TestLoadScenarioErrors(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadScenario(writeScenario(t, "steps: [: bad"))
	assert.Error(t, err)

	_, err = LoadScenario(writeScenario(t, "name: empty\n"))
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
}
