package automation

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/models"
	"github.com/san-kum/trajopt/internal/trajopt"
)

// Scenario is a scripted sequence of solves. Later steps may warm start
// from earlier ones, which turns a hard problem into a continuation over
// easier ones.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps"`
}

type ScenarioStep struct {
	Name       string             `yaml:"name"`
	Problem    string             `yaml:"problem"`
	Preset     string             `yaml:"preset"`
	Scheme     string             `yaml:"scheme"`
	MeshPoints int                `yaml:"mesh_points"`
	Params     map[string]float64 `yaml:"params"`
	// WarmStart names an earlier step whose trajectory seeds this one.
	WarmStart string `yaml:"warm_start"`
}

type StepResult struct {
	Step   string
	Config *config.Config
	System dynamo.System
	Result *trajopt.Result
	// Err is a non-fatal solve error such as divergence; Result still
	// holds the last iterate.
	Err error
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// Validate checks step names and that warm starts refer to earlier steps.
func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return dynamo.Configf("steps", "scenario %q has no steps", s.Name)
	}
	seen := make(map[string]bool, len(s.Steps))
	for i, step := range s.Steps {
		if step.Name == "" {
			return dynamo.Configf("steps", "step %d has no name", i+1)
		}
		if seen[step.Name] {
			return dynamo.Configf("steps", "duplicate step name %q", step.Name)
		}
		if step.Problem == "" {
			return dynamo.Configf("steps", "step %q has no problem", step.Name)
		}
		if step.WarmStart != "" && !seen[step.WarmStart] {
			return dynamo.Configf("warm_start", "step %q warm starts from unknown or later step %q", step.Name, step.WarmStart)
		}
		seen[step.Name] = true
	}
	return nil
}

func (step ScenarioStep) config() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if step.Preset != "" {
		cfg = config.GetPreset(step.Problem, step.Preset)
		if cfg == nil {
			return nil, dynamo.Configf("preset", "unknown preset: %s (available: %v)", step.Preset, config.ListPresets(step.Problem))
		}
	}
	cfg.Problem = step.Problem
	if step.Scheme != "" {
		cfg.Scheme = step.Scheme
	}
	if step.MeshPoints != 0 {
		cfg.MeshPoints = step.MeshPoints
	}
	if len(step.Params) > 0 {
		if cfg.Params == nil {
			cfg.Params = make(map[string]float64, len(step.Params))
		}
		for k, v := range step.Params {
			cfg.Params[k] = v
		}
	}
	return cfg, nil
}

// RunScenario executes all steps in order. It stops at the first step that
// produced no trajectory; solves that ended without converging are
// recorded and the scenario continues.
func RunScenario(ctx context.Context, scenario *Scenario, logger *slog.Logger) ([]StepResult, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := models.NewRegistry()
	results := make([]StepResult, 0, len(scenario.Steps))
	byName := make(map[string]*trajopt.Result, len(scenario.Steps))

	for i, step := range scenario.Steps {
		log := logger.With("step", step.Name, "problem", step.Problem)
		log.Info("running step", "index", i+1, "of", len(scenario.Steps))

		cfg, err := step.config()
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		def, err := registry.Get(cfg.Problem, cfg.Params)
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		m, err := cfg.Mesh()
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		opts, err := cfg.Options(log)
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		if step.WarmStart != "" {
			opts.WarmStart = byName[step.WarmStart].Trajectory
		}

		res, err := trajopt.New(opts).Solve(ctx, def.Problem, def.System, m)
		if res == nil || res.Trajectory == nil {
			return results, fmt.Errorf("step %d run: %w", i+1, err)
		}
		if err != nil {
			log.Warn("step did not converge", "error", err)
		}

		byName[step.Name] = res
		results = append(results, StepResult{Step: step.Name, Config: cfg, System: def.System, Result: res, Err: err})
	}

	return results, nil
}
