package viz

import (
	"fmt"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/reconstruct"
)

// Series selects a trajectory column.
type Series int

const (
	StateSeries Series = iota
	ControlSeries
)

func (s Series) String() string {
	if s == ControlSeries {
		return "u"
	}
	return "x"
}

// PlotTrajectory plots column idx of the states or controls, interpolated
// at width uniform times.
func PlotTrajectory(tr *reconstruct.Trajectory, s Series, idx, width, height int) (string, error) {
	if width < 2 {
		width = 80
	}
	if height < 1 {
		height = 10
	}
	xs, us, err := tr.Resample(tr.Uniform(width))
	if err != nil {
		return "", err
	}

	var data []float64
	switch s {
	case ControlSeries:
		data, err = column(us, idx)
	default:
		data, err = column(xs, idx)
	}
	if err != nil {
		return "", err
	}

	caption := fmt.Sprintf("%s%d over [%.3g, %.3g]", s, idx, tr.InitialTime, tr.FinalTime)
	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	), nil
}

// PhasePortrait draws state j against state i on a Braille canvas of
// width x height cells.
func PhasePortrait(tr *reconstruct.Trajectory, i, j, width, height int) (string, error) {
	n := 8 * width
	xs, _, err := tr.Resample(tr.Uniform(n))
	if err != nil {
		return "", err
	}
	a, err := column(xs, i)
	if err != nil {
		return "", err
	}
	b, err := column(xs, j)
	if err != nil {
		return "", err
	}

	c := NewCanvas(width, height)
	c.Polyline(a, b)
	return c.String() + Subtle.Render(fmt.Sprintf("x%d → x%d ↑", i, j)), nil
}

func column[S ~[]float64](rows []S, idx int) ([]float64, error) {
	out := make([]float64, len(rows))
	for k, r := range rows {
		if idx < 0 || idx >= len(r) {
			return nil, fmt.Errorf("viz: column %d of %d: %w", idx, len(r), dynamo.ErrDimensionMismatch)
		}
		out[k] = r[idx]
	}
	return out, nil
}
