// Package storage keeps solved runs on disk: JSON metadata, the full
// trajectory as JSON, and a states.csv for plotting tools.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/reconstruct"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID         string             `json:"id"`
	Problem    string             `json:"problem"`
	Timestamp  time.Time          `json:"timestamp"`
	Scheme     string             `json:"scheme"`
	Method     string             `json:"method"`
	MeshPoints int                `json:"mesh_points"`
	Rounds     int                `json:"rounds"`
	Refinement string             `json:"refinement"`
	Status     string             `json:"status"`
	Objective  float64            `json:"objective"`
	Iterations int                `json:"iterations"`
	Rejections int                `json:"rejections"`
	MaxError   float64            `json:"max_error"`
	Elapsed    time.Duration      `json:"elapsed"`
	Warning    string             `json:"warning,omitempty"`
	Params     map[string]float64 `json:"params,omitempty"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Save writes a new run and returns its ID. meta.ID and meta.Timestamp are
// filled in.
func (s *Store) Save(meta RunMetadata, tr *reconstruct.Trajectory) (string, error) {
	meta.ID = fmt.Sprintf("%s_%s", meta.Problem, uuid.NewString()[:8])
	meta.Timestamp = time.Now()
	runDir := filepath.Join(s.baseDir, meta.ID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "metadata.json"), meta); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "trajectory.json"), tr); err != nil {
		return "", err
	}
	if err := writeCSV(filepath.Join(runDir, "states.csv"), tr); err != nil {
		return "", err
	}
	return meta.ID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeCSV(path string, tr *reconstruct.Trajectory) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if tr.Len() == 0 {
		w.Flush()
		return w.Error()
	}

	header := []string{"time"}
	for i := range tr.States[0] {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	for i := range tr.Controls[0] {
		header = append(header, fmt.Sprintf("u%d", i))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for k := range tr.Times {
		row := []string{strconv.FormatFloat(tr.Times[k], 'g', -1, 64)}
		for _, val := range tr.States[k] {
			row = append(row, strconv.FormatFloat(val, 'g', -1, 64))
		}
		for _, val := range tr.Controls[k] {
			row = append(row, strconv.FormatFloat(val, 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns all runs, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) runDir(runID string) (string, error) {
	if runID == "" || runID != filepath.Base(runID) || strings.HasPrefix(runID, ".") {
		return "", dynamo.Configf("run", "invalid run id %q", runID)
	}
	return filepath.Join(s.baseDir, runID), nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadTrajectory reads the stored trajectory, e.g. to warm start a solve.
func (s *Store) LoadTrajectory(runID string) (*reconstruct.Trajectory, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "trajectory.json"))
	if err != nil {
		return nil, err
	}

	tr := &reconstruct.Trajectory{}
	if err := json.Unmarshal(data, tr); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	if err := tr.Validate(); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return tr, nil
}

// LoadStates reads states.csv and returns the state and control columns of
// each row together with the sample times.
func (s *Store) LoadStates(runID string) ([][]float64, []float64, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(filepath.Join(dir, "states.csv"))
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}

	if len(records) < 2 {
		return [][]float64{}, []float64{}, nil
	}

	times := make([]float64, 0, len(records)-1)
	states := make([][]float64, 0, len(records)-1)

	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) == 0 {
			continue
		}

		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			continue
		}
		times = append(times, t)

		state := make([]float64, 0, len(record)-1)
		for j := 1; j < len(record); j++ {
			val, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				continue
			}
			state = append(state, val)
		}
		states = append(states, state)
	}

	return states, times, nil
}
