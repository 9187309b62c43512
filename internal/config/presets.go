package config

import "sort"

var Presets = map[string]map[string]*Config{
	"pendulum": {
		"coarse": {
			Problem: "pendulum", Scheme: "trapezoidal", MeshPoints: 15, Method: "forward",
			Refinement: RefinementConfig{Enabled: true, Tol: 1e-3, MaxRounds: 3},
		},
		"accurate": {
			Problem: "pendulum", Scheme: "hermite-simpson", MeshPoints: 20, Method: "central",
			Refinement: RefinementConfig{Enabled: true, Tol: 1e-6, MaxRounds: 6},
		},
		"slow": {
			Problem: "pendulum", Scheme: "trapezoidal", MeshPoints: 30,
			Refinement: RefinementConfig{Enabled: true, Tol: 1e-4, MaxRounds: 4},
			Params:     map[string]float64{"duration": 4},
		},
	},
	"cartpole": {
		"swingup": {
			Problem: "cartpole", Scheme: "hermite-simpson", MeshPoints: 25,
			Refinement: RefinementConfig{Enabled: true, Tol: 1e-4, MaxRounds: 4},
		},
		"heavy": {
			Problem: "cartpole", Scheme: "hermite-simpson", MeshPoints: 30,
			Refinement: RefinementConfig{Enabled: true, Tol: 1e-4, MaxRounds: 4},
			Params:     map[string]float64{"pole_mass": 0.5, "duration": 3},
		},
	},
	"double_pendulum": {
		"swingup": {
			Problem: "double_pendulum", Scheme: "hermite-simpson", MeshPoints: 30,
			Refinement: RefinementConfig{Enabled: true, Tol: 1e-3, MaxRounds: 4},
		},
	},
	"double_integrator": {
		"exact": {
			Problem: "double_integrator", Scheme: "hermite-simpson", MeshPoints: 5,
			Refinement: RefinementConfig{Enabled: true, Tol: 1e-8, MaxRounds: 2},
		},
		"unrefined": {
			Problem: "double_integrator", Scheme: "trapezoidal", MeshPoints: 10,
		},
	},
	"bounded": {
		"recovery": {
			Problem: "bounded", Scheme: "trapezoidal", MeshPoints: 10,
			Refinement: RefinementConfig{Enabled: true, Tol: 1e-6, MaxRounds: 2},
			Params:     map[string]float64{"limit": 0.95},
		},
	},
}

// GetPreset returns the preset layered over DefaultConfig, or nil.
func GetPreset(problem, preset string) *Config {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	p, ok := problemPresets[preset]
	if !ok {
		return nil
	}
	return p.over(DefaultConfig())
}

func ListPresets(problem string) []string {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(problemPresets))
	for name := range problemPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// over copies the non-zero fields of c onto base.
func (c *Config) over(base *Config) *Config {
	if c.Problem != "" {
		base.Problem = c.Problem
	}
	if c.Scheme != "" {
		base.Scheme = c.Scheme
	}
	if c.MeshPoints != 0 {
		base.MeshPoints = c.MeshPoints
	}
	if c.Method != "" {
		base.Method = c.Method
	}
	if c.Workers != 0 {
		base.Workers = c.Workers
	}
	if c.Tol != 0 {
		base.Tol = c.Tol
	}
	if c.MaxIter != 0 {
		base.MaxIter = c.MaxIter
	}
	if c.Timeout != 0 {
		base.Timeout = c.Timeout
	}
	base.Refinement.Enabled = c.Refinement.Enabled
	if c.Refinement.Tol != 0 {
		base.Refinement.Tol = c.Refinement.Tol
	}
	if c.Refinement.MaxRounds != 0 {
		base.Refinement.MaxRounds = c.Refinement.MaxRounds
	}
	if c.Refinement.MaxPoints != 0 {
		base.Refinement.MaxPoints = c.Refinement.MaxPoints
	}
	if len(c.Params) > 0 {
		base.Params = make(map[string]float64, len(c.Params))
		for k, v := range c.Params {
			base.Params[k] = v
		}
	}
	return base
}
