// Package reconstruct turns a raw NLP solution back into time series and
// estimates the local discretization error on each mesh interval.
package reconstruct

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"gonum.org/v1/gonum/interp"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/nlp"
	"github.com/san-kum/trajopt/internal/transcription"
)

// Trajectory is the time-indexed view of one solution. Multiplier series
// follow the constraint blocks of the transcription that produced it.
type Trajectory struct {
	Scheme      string           `json:"scheme"`
	Mesh        []float64        `json:"mesh"`
	InitialTime float64          `json:"initial_time"`
	FinalTime   float64          `json:"final_time"`
	Times       []float64        `json:"times"`
	States      []dynamo.State   `json:"states"`
	Controls    []dynamo.Control `json:"controls"`
	// MidControls holds one control per interval for Hermite-Simpson.
	MidControls []dynamo.Control `json:"mid_controls,omitempty"`
	// Derivatives are the oracle dynamics at each mesh point.
	Derivatives []dynamo.State `json:"derivatives"`
	Params      dynamo.Params  `json:"params,omitempty"`

	DefectMultipliers   [][]float64 `json:"defect_multipliers"`
	PathMultipliers     [][]float64 `json:"path_multipliers,omitempty"`
	PeriodicMultipliers []float64   `json:"periodic_multipliers,omitempty"`
	EndpointMultipliers []float64   `json:"endpoint_multipliers,omitempty"`

	Objective  float64    `json:"objective"`
	Status     nlp.Status `json:"status"`
	Iterations int        `json:"iterations"`
	Rejections int        `json:"rejections"`

	once   sync.Once
	states []interpolant
	ctrls  []interp.PiecewiseLinear
	err    error
}

type interpolant interface {
	Predict(x float64) float64
}

// Reconstruct slices sol.X and sol.Lambda along the layout of eng.
func Reconstruct(sol *nlp.Solution, eng *transcription.Engine) (*Trajectory, error) {
	if sol == nil {
		return nil, fmt.Errorf("reconstruct: nil solution: %w", dynamo.ErrInvalidState)
	}
	if len(sol.X) != eng.VariableCount() {
		return nil, fmt.Errorf("reconstruct: %w: %d variables, want %d", dynamo.ErrDimensionMismatch, len(sol.X), eng.VariableCount())
	}
	lam := sol.Lambda
	if lam == nil {
		lam = make([]float64, eng.ConstraintCount())
	}
	if len(lam) != eng.ConstraintCount() {
		return nil, fmt.Errorf("reconstruct: %w: %d multipliers, want %d", dynamo.ErrDimensionMismatch, len(lam), eng.ConstraintCount())
	}

	x := sol.X
	m := eng.Mesh()
	n := m.Len()
	tr := &Trajectory{
		Scheme:      eng.Scheme().String(),
		Mesh:        m.Points(),
		InitialTime: eng.InitialTime(x),
		FinalTime:   eng.FinalTime(x),
		Times:       eng.Times(x),
		States:      make([]dynamo.State, n),
		Controls:    make([]dynamo.Control, n),
		Derivatives: make([]dynamo.State, n),
		Params:      slices.Clone(eng.Params(x)),
		Objective:   sol.Objective,
		Status:      sol.Status,
		Iterations:  sol.Iterations,
		Rejections:  sol.Rejections,
	}

	sys := eng.System()
	for k := 0; k < n; k++ {
		tr.States[k] = eng.StateAt(x, k).Clone()
		tr.Controls[k] = eng.ControlAt(x, k).Clone()
		f, err := sys.Derive(tr.Times[k], tr.States[k], tr.Controls[k], tr.Params)
		if err != nil {
			return nil, &dynamo.DynamicsEvaluationError{
				Kind: dynamo.EvalDynamics, Point: k, Time: tr.Times[k],
				State: tr.States[k], Control: tr.Controls[k], Wrapped: err,
			}
		}
		tr.Derivatives[k] = f
	}
	if eng.Scheme() == transcription.HermiteSimpson {
		tr.MidControls = make([]dynamo.Control, n-1)
		for k := range tr.MidControls {
			tr.MidControls[k] = eng.MidControlAt(x, k).Clone()
		}
	}

	for _, b := range eng.Blocks() {
		vals := slices.Clone(lam[b.Start:b.End])
		switch b.Kind {
		case transcription.DefectBlock:
			tr.DefectMultipliers = append(tr.DefectMultipliers, vals)
		case transcription.PathBlock:
			tr.PathMultipliers = append(tr.PathMultipliers, vals)
		case transcription.PeriodicBlock:
			tr.PeriodicMultipliers = vals
		case transcription.EndpointBlock:
			tr.EndpointMultipliers = vals
		}
	}
	return tr, nil
}

func (tr *Trajectory) Len() int { return len(tr.Times) }

// Duration is FinalTime - InitialTime.
func (tr *Trajectory) Duration() float64 { return tr.FinalTime - tr.InitialTime }

func (tr *Trajectory) hermite() bool {
	return tr.Scheme == transcription.HermiteSimpson.String()
}

// Validate checks that the samples can be interpolated: at least two
// strictly increasing times and one state and control row per time, all
// rows of equal length.
func (tr *Trajectory) Validate() error {
	n := tr.Len()
	if n < 2 {
		return fmt.Errorf("reconstruct: %w: trajectory has %d points", dynamo.ErrInvalidState, n)
	}
	for k := 1; k < n; k++ {
		if !(tr.Times[k] > tr.Times[k-1]) {
			return dynamo.Configf("times", "not strictly increasing at sample %d: %g after %g", k, tr.Times[k], tr.Times[k-1])
		}
	}
	nx, nu := 0, 0
	if len(tr.States) > 0 {
		nx = len(tr.States[0])
	}
	if len(tr.Controls) > 0 {
		nu = len(tr.Controls[0])
	}
	if err := rectangular("states", tr.States, n, nx); err != nil {
		return err
	}
	if err := rectangular("controls", tr.Controls, n, nu); err != nil {
		return err
	}
	if len(tr.MidControls) > 0 {
		if err := rectangular("mid_controls", tr.MidControls, n-1, nu); err != nil {
			return err
		}
	}
	if len(tr.Derivatives) > 0 {
		if err := rectangular("derivatives", tr.Derivatives, n, nx); err != nil {
			return err
		}
	}
	return nil
}

func rectangular[S ~[]float64](field string, rows []S, n, width int) error {
	if len(rows) != n {
		return dynamo.Configf(field, "have %d rows, want %d", len(rows), n)
	}
	for k, r := range rows {
		if len(r) != width {
			return dynamo.Configf(field, "row %d has %d entries, want %d", k, len(r), width)
		}
	}
	return nil
}

// fit builds the interpolants once. States use cubic Hermite segments
// through the mesh derivatives for Hermite-Simpson and straight lines
// otherwise; controls are piecewise linear through the mesh and midpoint
// values.
func (tr *Trajectory) fit() error {
	tr.once.Do(func() {
		if tr.err = tr.Validate(); tr.err != nil {
			return
		}
		n := tr.Len()
		nx := len(tr.States[0])
		tr.states = make([]interpolant, nx)
		for i := 0; i < nx; i++ {
			ys := column(tr.States, i)
			if tr.hermite() && len(tr.Derivatives) == n {
				var pc interp.PiecewiseCubic
				pc.FitWithDerivatives(tr.Times, ys, column(tr.Derivatives, i))
				tr.states[i] = &pc
				continue
			}
			var pl interp.PiecewiseLinear
			if err := pl.Fit(tr.Times, ys); err != nil {
				tr.err = fmt.Errorf("reconstruct: state %d: %w", i, err)
				return
			}
			tr.states[i] = &pl
		}

		ts, us := tr.controlKnots()
		nu := 0
		if len(us) > 0 {
			nu = len(us[0])
		}
		tr.ctrls = make([]interp.PiecewiseLinear, nu)
		for j := 0; j < nu; j++ {
			if err := tr.ctrls[j].Fit(ts, column(us, j)); err != nil {
				tr.err = fmt.Errorf("reconstruct: control %d: %w", j, err)
				return
			}
		}
	})
	return tr.err
}

func (tr *Trajectory) controlKnots() ([]float64, []dynamo.Control) {
	if !tr.hermite() || len(tr.MidControls) != tr.Len()-1 {
		return tr.Times, tr.Controls
	}
	ts := make([]float64, 0, 2*tr.Len()-1)
	us := make([]dynamo.Control, 0, 2*tr.Len()-1)
	for k := range tr.Times {
		ts = append(ts, tr.Times[k])
		us = append(us, tr.Controls[k])
		if k < len(tr.MidControls) {
			ts = append(ts, 0.5*(tr.Times[k]+tr.Times[k+1]))
			us = append(us, tr.MidControls[k])
		}
	}
	return ts, us
}

func column[S ~[]float64](rows []S, i int) []float64 {
	out := make([]float64, len(rows))
	for k, r := range rows {
		out[k] = r[i]
	}
	return out
}

// Interpolate evaluates the trajectory at t, clamped to the horizon. It
// matches the sample signature of transcription.Engine.Pack so a
// trajectory can warm start a finer mesh.
func (tr *Trajectory) Interpolate(t float64) (dynamo.State, dynamo.Control) {
	if err := tr.fit(); err != nil {
		return nil, nil
	}
	t = math.Max(tr.Times[0], math.Min(t, tr.Times[tr.Len()-1]))
	x := make(dynamo.State, len(tr.states))
	for i, p := range tr.states {
		x[i] = p.Predict(t)
	}
	u := make(dynamo.Control, len(tr.ctrls))
	for j := range tr.ctrls {
		u[j] = tr.ctrls[j].Predict(t)
	}
	return x, u
}

// Resample evaluates the trajectory at each of times.
func (tr *Trajectory) Resample(times []float64) ([]dynamo.State, []dynamo.Control, error) {
	if err := tr.fit(); err != nil {
		return nil, nil, err
	}
	xs := make([]dynamo.State, len(times))
	us := make([]dynamo.Control, len(times))
	for k, t := range times {
		xs[k], us[k] = tr.Interpolate(t)
	}
	return xs, us, nil
}

// Uniform returns n evenly spaced times across the horizon.
func (tr *Trajectory) Uniform(n int) []float64 {
	if n < 2 {
		return []float64{tr.InitialTime}
	}
	out := make([]float64, n)
	for k := range out {
		out[k] = tr.InitialTime + tr.Duration()*float64(k)/float64(n-1)
	}
	return out
}
