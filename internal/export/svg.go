// Package export renders solved trajectories as standalone SVG plots.
package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/reconstruct"
)

type Point struct{ X, Y float64 }

var palette = []string{"#00ffff", "#ff00ff", "#00ff00", "#ffaa00", "#ff5555", "#5555ff"}

// StatesSVG plots every state against time. The curves follow the
// interpolated trajectory at samples uniform times and the mesh points are
// marked.
func StatesSVG(tr *reconstruct.Trajectory, width, height, samples int) (string, error) {
	times, xs, err := resample(tr, samples)
	if err != nil {
		return "", err
	}
	series := make([][]Point, len(xs[0]))
	for i := range series {
		series[i] = make([]Point, len(times))
		for k, t := range times {
			series[i][k] = Point{t, xs[k][i]}
		}
	}
	var marks []Point
	for k, t := range tr.Times {
		for _, v := range tr.States[k] {
			marks = append(marks, Point{t, v})
		}
	}
	return render(series, marks, width, height), nil
}

// PhaseSVG plots state j against state i.
func PhaseSVG(tr *reconstruct.Trajectory, i, j, width, height, samples int) (string, error) {
	_, xs, err := resample(tr, samples)
	if err != nil {
		return "", err
	}
	nx := len(xs[0])
	if i < 0 || i >= nx || j < 0 || j >= nx {
		return "", dynamo.Configf("phase", "state indices %d, %d out of range [0, %d)", i, j, nx)
	}
	path := make([]Point, len(xs))
	for k, x := range xs {
		path[k] = Point{x[i], x[j]}
	}
	marks := make([]Point, tr.Len())
	for k, x := range tr.States {
		marks[k] = Point{x[i], x[j]}
	}
	return render([][]Point{path}, marks, width, height), nil
}

func resample(tr *reconstruct.Trajectory, samples int) ([]float64, []dynamo.State, error) {
	if tr == nil || tr.Len() < 2 {
		return nil, nil, dynamo.Configf("trajectory", "need at least 2 samples")
	}
	if samples < 2 {
		samples = 10 * tr.Len()
	}
	times := tr.Uniform(samples)
	xs, _, err := tr.Resample(times)
	if err != nil {
		return nil, nil, err
	}
	return times, xs, nil
}

func render(series [][]Point, marks []Point, width, height int) string {
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for _, p := range s {
			minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
			minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
		}
	}

	// Add padding
	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minX -= rangeX * 0.1
	minY -= rangeY * 0.1
	rangeX *= 1.2
	rangeY *= 1.2

	project := func(p Point) (float64, float64) {
		return (p.X - minX) / rangeX * float64(width),
			float64(height) - (p.Y-minY)/rangeY*float64(height)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height)

	for n, s := range series {
		fmt.Fprintf(&sb, `<path fill="none" stroke="%s" stroke-width="1.5" d="`, palette[n%len(palette)])
		for k, p := range s {
			x, y := project(p)
			if k == 0 {
				fmt.Fprintf(&sb, "M%.1f,%.1f", x, y)
			} else {
				fmt.Fprintf(&sb, " L%.1f,%.1f", x, y)
			}
		}
		sb.WriteString("\"/>\n")
	}

	sb.WriteString("<g fill=\"#ffffff\">\n")
	for _, p := range marks {
		x, y := project(p)
		fmt.Fprintf(&sb, "<circle cx=\"%.1f\" cy=\"%.1f\" r=\"2\"/>\n", x, y)
	}
	sb.WriteString("</g>\n</svg>")
	return sb.String()
}
