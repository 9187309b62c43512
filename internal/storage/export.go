package storage

import (
	"encoding/json"
	"io"

	"github.com/san-kum/trajopt/internal/reconstruct"
)

type ExportData struct {
	Run        RunMetadata             `json:"run"`
	Trajectory *reconstruct.Trajectory `json:"trajectory"`
	// Samples is the trajectory resampled on a uniform grid, when asked for.
	Samples *Samples `json:"samples,omitempty"`
}

type Samples struct {
	Times    []float64   `json:"times"`
	States   [][]float64 `json:"states"`
	Controls [][]float64 `json:"controls"`
}

// ExportJSON writes a run and its trajectory to w. With n > 1 the
// interpolated trajectory is also sampled at n uniform times.
func ExportJSON(w io.Writer, meta RunMetadata, tr *reconstruct.Trajectory, n int) error {
	data := ExportData{Run: meta, Trajectory: tr}
	if n > 1 {
		times := tr.Uniform(n)
		xs, us, err := tr.Resample(times)
		if err != nil {
			return err
		}
		data.Samples = &Samples{
			Times:    times,
			States:   make([][]float64, len(xs)),
			Controls: make([][]float64, len(us)),
		}
		for i, x := range xs {
			data.Samples.States[i] = x
		}
		for i, u := range us {
			data.Samples.Controls[i] = u
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
