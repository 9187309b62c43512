package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/san-kum/trajopt/internal/derivative"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/transcription"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Problem != "pendulum" {
		t.Errorf("expected problem pendulum, got %s", cfg.Problem)
	}
	if cfg.MeshPoints < 2 {
		t.Error("mesh should have at least 2 points")
	}
	if !cfg.Refinement.Enabled {
		t.Error("refinement should be enabled by default")
	}

	opts, err := cfg.Options(nil)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Scheme != transcription.Trapezoidal || opts.Method != derivative.Forward {
		t.Errorf("unexpected scheme %v method %v", opts.Scheme, opts.Method)
	}
	if opts.ErrorEstimate.Substeps != DefaultSubsteps {
		t.Errorf("expected %d substeps, got %d", DefaultSubsteps, opts.ErrorEstimate.Substeps)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solve.yaml")
	cfg := DefaultConfig()
	cfg.Problem = "cartpole"
	cfg.Scheme = "hermite-simpson"
	cfg.Timeout = 30 * time.Second
	cfg.Params = map[string]float64{"pole_mass": 0.3}

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Problem != "cartpole" || got.Scheme != "hermite-simpson" {
		t.Errorf("unexpected problem %s scheme %s", got.Problem, got.Scheme)
	}
	if got.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", got.Timeout)
	}
	if got.Params["pole_mass"] != 0.3 {
		t.Errorf("expected pole_mass 0.3, got %v", got.Params)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOptionsRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"scheme", func(c *Config) { c.Scheme = "euler" }},
		{"method", func(c *Config) { c.Method = "complex-step" }},
		{"workers", func(c *Config) { c.Workers = -1 }},
		{"timeout", func(c *Config) { c.Timeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if _, err := cfg.Options(nil); !errors.Is(err, dynamo.ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.MeshPoints = 1
	if _, err := cfg.Mesh(); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("pendulum", "accurate")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Scheme != "hermite-simpson" || cfg.Method != "central" {
		t.Errorf("expected hermite-simpson/central, got %s/%s", cfg.Scheme, cfg.Method)
	}
	if cfg.Tol != DefaultTol {
		t.Errorf("expected default tol, got %g", cfg.Tol)
	}

	unrefined := GetPreset("double_integrator", "unrefined")
	if unrefined.Refinement.Enabled {
		t.Error("expected refinement disabled")
	}
}

func TestGetPreset_NotFound(t *testing.T) {
	cfg := GetPreset("pendulum", "nonexistent")
	if cfg != nil {
		t.Error("expected nil for nonexistent preset")
	}

	cfg = GetPreset("nonexistent", "coarse")
	if cfg != nil {
		t.Error("expected nil for nonexistent problem")
	}
}

func TestListPresets(t *testing.T) {
	presets := ListPresets("pendulum")
	if len(presets) != 3 || presets[0] != "accurate" {
		t.Errorf("expected sorted pendulum presets, got %v", presets)
	}

	presets = ListPresets("nonexistent")
	if presets != nil {
		t.Error("expected nil for nonexistent problem")
	}
}

func TestPresetsAreValid(t *testing.T) {
	for problem := range Presets {
		for _, name := range ListPresets(problem) {
			cfg := GetPreset(problem, name)
			if cfg.Problem != problem {
				t.Errorf("%s/%s: problem is %s", problem, name, cfg.Problem)
			}
			if _, err := cfg.Options(nil); err != nil {
				t.Errorf("%s/%s: %v", problem, name, err)
			}
			if _, err := cfg.Mesh(); err != nil {
				t.Errorf("%s/%s: %v", problem, name, err)
			}
		}
	}
}
