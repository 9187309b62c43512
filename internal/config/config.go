package config

import (
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/trajopt/internal/derivative"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/mesh"
	"github.com/san-kum/trajopt/internal/reconstruct"
	"github.com/san-kum/trajopt/internal/trajopt"
	"github.com/san-kum/trajopt/internal/transcription"
)

const (
	DefaultMeshPoints = 20
	DefaultTol        = 1e-6
	DefaultMaxIter    = 500
	DefaultRefineTol  = 1e-4
	DefaultMaxRounds  = 5
	DefaultSubsteps   = 8
)

type Config struct {
	Problem    string             `yaml:"problem"`
	Scheme     string             `yaml:"scheme"`
	MeshPoints int                `yaml:"mesh_points"`
	Method     string             `yaml:"method"`
	Workers    int                `yaml:"workers"`
	Tol        float64            `yaml:"tol"`
	MaxIter    int                `yaml:"max_iter"`
	Timeout    time.Duration      `yaml:"timeout"`
	Refinement RefinementConfig   `yaml:"refinement"`
	Estimate   EstimateConfig     `yaml:"error_estimate"`
	Params     map[string]float64 `yaml:"params,omitempty"`
}

type RefinementConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Tol       float64 `yaml:"tol"`
	MaxRounds int     `yaml:"max_rounds"`
	MaxPoints int     `yaml:"max_points"`
}

type EstimateConfig struct {
	Integrator string `yaml:"integrator"`
	Substeps   int    `yaml:"substeps"`
}

func DefaultConfig() *Config {
	return &Config{
		Problem:    "pendulum",
		Scheme:     transcription.Trapezoidal.String(),
		MeshPoints: DefaultMeshPoints,
		Method:     derivative.Forward.String(),
		Tol:        DefaultTol,
		MaxIter:    DefaultMaxIter,
		Refinement: RefinementConfig{
			Enabled:   true,
			Tol:       DefaultRefineTol,
			MaxRounds: DefaultMaxRounds,
			MaxPoints: mesh.DefaultMaxPoints,
		},
		Estimate: EstimateConfig{
			Integrator: "rk4",
			Substeps:   DefaultSubsteps,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Mesh returns the uniform starting mesh.
func (c *Config) Mesh() (*mesh.Mesh, error) {
	if c.MeshPoints < 2 {
		return nil, dynamo.Configf("mesh_points", "need at least 2, got %d", c.MeshPoints)
	}
	return mesh.Uniform(c.MeshPoints)
}

// Options converts the configuration into solver options.
func (c *Config) Options(logger *slog.Logger) (trajopt.Options, error) {
	scheme, err := transcription.ParseScheme(c.Scheme)
	if err != nil {
		return trajopt.Options{}, dynamo.Configf("scheme", "%v", err)
	}
	method, err := derivative.ParseMethod(c.Method)
	if err != nil {
		return trajopt.Options{}, err
	}
	if c.Workers < 0 {
		return trajopt.Options{}, dynamo.Configf("workers", "must not be negative, got %d", c.Workers)
	}
	if c.Timeout < 0 {
		return trajopt.Options{}, dynamo.Configf("timeout", "must not be negative, got %v", c.Timeout)
	}

	return trajopt.Options{
		Logger:  logger,
		Scheme:  scheme,
		Method:  method,
		Workers: c.Workers,
		Tol:     c.Tol,
		MaxIter: c.MaxIter,
		Timeout: c.Timeout,
		Refinement: trajopt.Refinement{
			Enabled:   c.Refinement.Enabled,
			Tol:       c.Refinement.Tol,
			MaxRounds: c.Refinement.MaxRounds,
			MaxPoints: c.Refinement.MaxPoints,
		},
		ErrorEstimate: reconstruct.ErrorOptions{
			Integrator: c.Estimate.Integrator,
			Substeps:   c.Estimate.Substeps,
			Workers:    c.Workers,
		},
	}, nil
}
