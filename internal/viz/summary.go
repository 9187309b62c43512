package viz

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/san-kum/trajopt/internal/trajopt"
)

// Summary renders the outcome of a solve. metrics may be nil.
func Summary(name string, res *trajopt.Result, metrics map[string]float64) string {
	var b strings.Builder
	b.WriteString(Title.Render("trajopt " + name))
	b.WriteString("\n\n")

	if res == nil || res.Trajectory == nil {
		b.WriteString(StatusFail.Render("no solution"))
		return Panel.Render(b.String())
	}

	tr := res.Trajectory
	status := StatusOK
	switch {
	case !res.Converged():
		status = StatusFail
	case res.Refinement == trajopt.MaxRefinementsExceeded || res.Warning != nil:
		status = StatusWarn
	}
	row(&b, "status", status.Render(tr.Status.String()))
	row(&b, "refinement", status.Render(res.Refinement.String()))
	row(&b, "scheme", tr.Scheme)
	row(&b, "objective", fmt.Sprintf("%.8g", tr.Objective))
	row(&b, "horizon", fmt.Sprintf("[%.4g, %.4g]", tr.InitialTime, tr.FinalTime))
	row(&b, "mesh points", fmt.Sprintf("%d", tr.Len()))
	last := res.Last()
	row(&b, "max error", fmt.Sprintf("%.3e", last.MaxError))

	iters, rejections := 0, 0
	for _, rd := range res.Rounds {
		iters += rd.Iterations
		rejections += rd.Rejections
	}
	row(&b, "iterations", fmt.Sprintf("%d", iters))
	row(&b, "rejections", fmt.Sprintf("%d", rejections))
	if len(tr.Params) > 0 {
		row(&b, "params", fmt.Sprintf("%.6g", []float64(tr.Params)))
	}
	if res.Warning != nil {
		row(&b, "warning", StatusWarn.Render(res.Warning.Error()))
	}

	if len(res.Rounds) > 1 {
		b.WriteString("\n")
		b.WriteString(Header.Render("rounds"))
		b.WriteString("\n")
		for _, rd := range res.Rounds {
			fmt.Fprintf(&b, "%s %4d points  %4d iters  err %.2e  %s\n",
				Label.Render(fmt.Sprintf("#%d", rd.Index)),
				rd.Points, rd.Iterations, rd.MaxError,
				Subtle.Render(rd.Elapsed.Round(time.Millisecond).String()))
		}
	}

	if len(metrics) > 0 {
		b.WriteString("\n")
		b.WriteString(Header.Render("metrics"))
		b.WriteString("\n")
		names := make([]string, 0, len(metrics))
		for k := range metrics {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			row(&b, k, fmt.Sprintf("%.6g", metrics[k]))
		}
	}

	return Panel.Render(strings.TrimRight(b.String(), "\n"))
}

func row(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%s %s\n", Label.Render(fmt.Sprintf("%-12s", label)), Value.Render(value))
}
