package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/san-kum/trajopt/internal/automation"
	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/export"
	"github.com/san-kum/trajopt/internal/metrics"
	"github.com/san-kum/trajopt/internal/models"
	"github.com/san-kum/trajopt/internal/nlp"
	"github.com/san-kum/trajopt/internal/optim"
	"github.com/san-kum/trajopt/internal/sim"
	"github.com/san-kum/trajopt/internal/storage"
	"github.com/san-kum/trajopt/internal/trajopt"
	"github.com/san-kum/trajopt/internal/viz"
)

var (
	dataDir   string
	logLevel  string
	logFormat string

	configFile string
	preset     string
	scheme     string
	method     string
	meshPoints int
	workers    int
	tol        float64
	maxIter    int
	timeout    time.Duration
	refine     bool
	refineTol  float64
	maxRounds  int
	maxPoints  int
	params     map[string]string
	warmRun    string
	live       bool
	save       bool

	samples    int
	svgFile    string
	grid       []string
	timeWeight float64
	simInteg   string
	simSteps   int
	simTol     float64
	width      int
	height     int
	xAxis      int
	yAxis      int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "trajopt",
		Short:         "direct collocation trajectory optimizer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(logLevel, logFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".trajopt", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	solveCmd := &cobra.Command{
		Use:   "solve [problem]",
		Short: "solve an optimal control problem",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSolve,
	}
	solveCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	solveCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	solveCmd.Flags().StringVar(&scheme, "scheme", "trapezoidal", "collocation scheme (trapezoidal, hermite-simpson)")
	solveCmd.Flags().StringVar(&method, "method", "forward", "derivative method (forward, central)")
	solveCmd.Flags().IntVar(&meshPoints, "points", config.DefaultMeshPoints, "initial mesh points")
	solveCmd.Flags().IntVar(&workers, "workers", 0, "parallel workers (0 = GOMAXPROCS)")
	solveCmd.Flags().Float64Var(&tol, "tol", config.DefaultTol, "solver tolerance")
	solveCmd.Flags().IntVar(&maxIter, "max-iter", config.DefaultMaxIter, "solver iteration limit per round")
	solveCmd.Flags().DurationVar(&timeout, "timeout", 0, "overall time limit (0 = none)")
	solveCmd.Flags().BoolVar(&refine, "refine", true, "refine the mesh until the error estimate passes")
	solveCmd.Flags().Float64Var(&refineTol, "refine-tol", config.DefaultRefineTol, "per-interval error tolerance")
	solveCmd.Flags().IntVar(&maxRounds, "max-rounds", config.DefaultMaxRounds, "refinement round limit")
	solveCmd.Flags().IntVar(&maxPoints, "max-points", 0, "mesh point limit (0 = default)")
	solveCmd.Flags().StringToStringVar(&params, "param", nil, "problem parameter overrides (name=value)")
	solveCmd.Flags().StringVar(&warmRun, "warm", "", "warm start from a saved run")
	solveCmd.Flags().BoolVar(&live, "live", false, "follow the solve in the terminal")
	solveCmd.Flags().BoolVar(&save, "save", true, "save the run")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&width, "width", 80, "plot width")
	plotCmd.Flags().IntVar(&height, "height", 10, "plot height")
	plotCmd.Flags().IntVar(&xAxis, "x-axis", -1, "state index for the phase portrait x-axis")
	plotCmd.Flags().IntVar(&yAxis, "y-axis", -1, "state index for the phase portrait y-axis")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().IntVar(&samples, "samples", 0, "also sample the interpolated trajectory at n uniform times")
	exportCmd.Flags().StringVar(&svgFile, "svg", "", "write an SVG plot to this file instead of JSON")
	exportCmd.Flags().IntVar(&xAxis, "x-axis", -1, "state index for an SVG phase portrait x-axis")
	exportCmd.Flags().IntVar(&yAxis, "y-axis", -1, "state index for an SVG phase portrait y-axis")

	sweepCmd := &cobra.Command{
		Use:   "sweep [problem]",
		Short: "solve over a parameter grid and pick the best setting",
		Args:  cobra.MaximumNArgs(1),
		RunE:  sweepRun,
	}
	sweepCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	sweepCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	sweepCmd.Flags().StringArrayVar(&grid, "grid", nil, "parameter values to try (name=v1,v2,...), repeatable")
	sweepCmd.Flags().Float64Var(&timeWeight, "time-weight", 0, "score is objective + weight * final time")

	presetsCmd := &cobra.Command{
		Use:   "presets [problem]",
		Short: "list available presets for a problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for problem: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	simulateCmd := &cobra.Command{
		Use:   "simulate [run_id]",
		Short: "replay a saved control history open loop",
		Args:  cobra.ExactArgs(1),
		RunE:  simulateRun,
	}
	simulateCmd.Flags().StringVar(&simInteg, "integrator", "rk4", "integrator (euler, rk4, rk45)")
	simulateCmd.Flags().IntVar(&simSteps, "steps", 0, "fixed steps over the horizon (0 = 20 per interval)")
	simulateCmd.Flags().Float64Var(&simTol, "adaptive-tol", 0, "step-doubling tolerance (0 = fixed steps)")

	batchCmd := &cobra.Command{
		Use:   "batch [scenario.yaml]",
		Short: "run a scripted sequence of solves",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	batchCmd.Flags().BoolVar(&save, "save", true, "save every step")

	problemsCmd := &cobra.Command{
		Use:   "problems",
		Short: "list built-in problems and their parameters",
		RunE:  listProblems,
	}

	rootCmd.AddCommand(solveCmd, listCmd, plotCmd, exportCmd, simulateCmd, sweepCmd, batchCmd, presetsCmd, problemsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, dynamo.Configf("log-level", "%v", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, dynamo.Configf("log-format", "unknown format: %s", format)
	}
}

// exitCode separates bad input (2) from failed solves (1).
func exitCode(err error) int {
	if errors.Is(err, dynamo.ErrConfiguration) || errors.Is(err, dynamo.ErrDimensionMismatch) {
		return 2
	}
	return 1
}

// loadConfig layers defaults, preset, config file and explicitly set flags,
// later layers winning.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if len(args) > 0 {
		cfg.Problem = args[0]
	}

	if preset != "" {
		p := config.GetPreset(cfg.Problem, preset)
		if p == nil {
			return nil, dynamo.Configf("preset", "unknown preset: %s (available: %v)", preset, config.ListPresets(cfg.Problem))
		}
		cfg = p
	}

	if configFile != "" {
		c, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if len(args) > 0 {
			c.Problem = args[0]
		}
		cfg = c
	}

	flags := cmd.Flags()
	if flags.Changed("scheme") {
		cfg.Scheme = scheme
	}
	if flags.Changed("method") {
		cfg.Method = method
	}
	if flags.Changed("points") {
		cfg.MeshPoints = meshPoints
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("tol") {
		cfg.Tol = tol
	}
	if flags.Changed("max-iter") {
		cfg.MaxIter = maxIter
	}
	if flags.Changed("timeout") {
		cfg.Timeout = timeout
	}
	if flags.Changed("refine") {
		cfg.Refinement.Enabled = refine
	}
	if flags.Changed("refine-tol") {
		cfg.Refinement.Tol = refineTol
	}
	if flags.Changed("max-rounds") {
		cfg.Refinement.MaxRounds = maxRounds
	}
	if flags.Changed("max-points") {
		cfg.Refinement.MaxPoints = maxPoints
	}
	for k, v := range params {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, dynamo.Configf("param", "%s: %v", k, err)
		}
		if cfg.Params == nil {
			cfg.Params = make(map[string]float64)
		}
		cfg.Params[k] = f
	}
	return cfg, nil
}

// fanout forwards solver progress to several observers.
type fanout []trajopt.Observer

func (f fanout) ObserveIteration(stats nlp.IterationStats) {
	for _, o := range f {
		o.ObserveIteration(stats)
	}
}

func (f fanout) ObserveSolve(status nlp.Status, rejections int, elapsed time.Duration) {
	for _, o := range f {
		o.ObserveSolve(status, rejections, elapsed)
	}
}

func (f fanout) ObserveRound(points int, maxError float64) {
	for _, o := range f {
		o.ObserveRound(points, maxError)
	}
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger := slog.Default().With("problem", cfg.Problem)

	def, err := models.NewRegistry().Get(cfg.Problem, cfg.Params)
	if err != nil {
		return err
	}
	m, err := cfg.Mesh()
	if err != nil {
		return err
	}
	opts, err := cfg.Options(logger)
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if warmRun != "" {
		ws, err := st.LoadTrajectory(warmRun)
		if err != nil {
			return fmt.Errorf("warm start: %w", err)
		}
		opts.WarmStart = ws
	}

	collector := metrics.NewCollector(prometheus.NewRegistry())
	solve := func(ctx context.Context, obs trajopt.Observer) (*trajopt.Result, error) {
		o := opts
		o.Observer = collector
		if obs != nil {
			o.Observer = fanout{collector, obs}
		}
		return trajopt.New(o).Solve(ctx, def.Problem, def.System, m)
	}

	var res *trajopt.Result
	if live {
		res, err = viz.RunMonitor(cmd.Context(), cfg.Problem, cfg.MaxIter, cfg.Tol, solve)
	} else {
		res, err = solve(cmd.Context(), nil)
	}
	if res == nil || res.Trajectory == nil {
		if err == nil {
			err = errors.New("solver returned no trajectory")
		}
		return err
	}

	values := metrics.Evaluate(res.Trajectory, metrics.Defaults(def.System)...)
	if d, derr := metrics.MaxDefect(res.Trajectory, def.System); derr == nil {
		values["max_defect"] = d
	} else {
		logger.Warn("defect check failed", "error", derr)
	}
	if roll, rerr := sim.New(def.System).Run(cmd.Context(), res.Trajectory, sim.Config{Integrator: cfg.Estimate.Integrator}); rerr == nil {
		values["rollout_drift"] = roll.FinalDeviation
	} else {
		logger.Warn("open-loop rollout failed", "error", rerr)
	}
	fmt.Println(viz.Summary(cfg.Problem, res, values))

	if save {
		id, serr := st.Save(metadata(cfg, res, values), res.Trajectory)
		if serr != nil {
			return errors.Join(err, serr)
		}
		fmt.Printf("run saved: %s\n", id)
	}
	return err
}

func metadata(cfg *config.Config, res *trajopt.Result, values map[string]float64) storage.RunMetadata {
	tr := res.Trajectory
	meta := storage.RunMetadata{
		Problem:    cfg.Problem,
		Scheme:     tr.Scheme,
		Method:     cfg.Method,
		MeshPoints: res.Mesh.Len(),
		Rounds:     len(res.Rounds),
		Refinement: res.Refinement.String(),
		Status:     tr.Status.String(),
		Objective:  tr.Objective,
		Iterations: tr.Iterations,
		Rejections: tr.Rejections,
		MaxError:   res.Last().MaxError,
		Params:     cfg.Params,
		Metrics:    values,
	}
	for _, rd := range res.Rounds {
		meta.Elapsed += rd.Elapsed
	}
	if res.Warning != nil {
		meta.Warning = res.Warning.Error()
	}
	return meta
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tTIME\tSCHEME\tPOINTS\tSTATUS\tOBJECTIVE\tMAX ERR")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%.6g\t%.2e\n",
			run.ID,
			run.Problem,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Scheme,
			run.MeshPoints,
			run.Status,
			run.Objective,
			run.MaxError,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	tr, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}
	if tr.Len() == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("problem: %s\n", meta.Problem)
	fmt.Printf("points: %d\n\n", tr.Len())

	for _, s := range []viz.Series{viz.StateSeries, viz.ControlSeries} {
		n := len(tr.States[0])
		if s == viz.ControlSeries {
			n = len(tr.Controls[0])
		}
		for i := 0; i < n; i++ {
			graph, err := viz.PlotTrajectory(tr, s, i, width, height)
			if err != nil {
				return err
			}
			fmt.Println(graph)
			fmt.Println()
		}
	}

	if xAxis >= 0 && yAxis >= 0 {
		portrait, err := viz.PhasePortrait(tr, xAxis, yAxis, width, 2*height)
		if err != nil {
			return err
		}
		fmt.Printf("phase portrait x%d / x%d\n%s\n", xAxis, yAxis, portrait)
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	tr, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}
	if svgFile == "" {
		return storage.ExportJSON(os.Stdout, *meta, tr, samples)
	}

	var svg string
	if xAxis >= 0 && yAxis >= 0 {
		svg, err = export.PhaseSVG(tr, xAxis, yAxis, 600, 600, samples)
	} else {
		svg, err = export.StatesSVG(tr, 800, 400, samples)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(svgFile, []byte(svg), 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", svgFile)
	return nil
}

func listProblems(cmd *cobra.Command, args []string) error {
	reg := models.NewRegistry()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBLEM\tDESCRIPTION\tPARAMS")
	for _, name := range reg.List() {
		ps, err := reg.Params(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%v\n", name, reg.Describe(name), ps)
	}
	return w.Flush()
}

func simulateRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	tr, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}
	def, err := models.NewRegistry().Get(meta.Problem, meta.Params)
	if err != nil {
		return err
	}

	s := sim.New(def.System)
	for _, m := range metrics.Defaults(def.System) {
		s.AddMetric(m)
	}
	cfg := sim.Config{
		Integrator: simInteg,
		Steps:      simSteps,
		Adaptive:   simTol > 0,
		Tolerance:  simTol,
	}
	result, err := s.Run(cmd.Context(), tr, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("problem: %s\n", meta.Problem)
	fmt.Printf("steps: %d\n", result.StepsTaken)
	fmt.Printf("max deviation: %.3e\n", result.MaxDeviation)
	fmt.Printf("final deviation: %.3e\n", result.FinalDeviation)
	for _, name := range slices.Sorted(maps.Keys(result.Metrics)) {
		fmt.Printf("%s: %.6g\n", name, result.Metrics[name])
	}
	fmt.Println()
	fmt.Println(asciigraph.Plot(result.Deviation,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("deviation from collocated states"),
	))
	return nil
}

func parseGrid(specs []string) ([]string, [][]float64, error) {
	values := make(map[string][]float64)
	for _, spec := range specs {
		name, list, ok := strings.Cut(spec, "=")
		if !ok || name == "" {
			return nil, nil, dynamo.Configf("grid", "expected name=v1,v2,..., got %q", spec)
		}
		for _, f := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, nil, dynamo.Configf("grid", "%s: %v", name, err)
			}
			values[name] = append(values[name], v)
		}
	}
	names := slices.Sorted(maps.Keys(values))
	ranges := make([][]float64, len(names))
	for i, name := range names {
		ranges[i] = values[name]
	}
	return names, ranges, nil
}

func sweepRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	names, ranges, err := parseGrid(grid)
	if err != nil {
		return err
	}
	g, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}
	m, err := cfg.Mesh()
	if err != nil {
		return err
	}
	logger := slog.Default().With("problem", cfg.Problem)
	opts, err := cfg.Options(logger)
	if err != nil {
		return err
	}

	reg := models.NewRegistry()
	eval := func(ctx context.Context, p map[string]float64) (float64, error) {
		merged := maps.Clone(cfg.Params)
		if merged == nil {
			merged = make(map[string]float64)
		}
		maps.Copy(merged, p)
		def, err := reg.Get(cfg.Problem, merged)
		if err != nil {
			return 0, err
		}
		res, err := trajopt.New(opts).Solve(ctx, def.Problem, def.System, m)
		if err != nil {
			return 0, err
		}
		logger.Info("grid point solved", "params", p, "objective", res.Trajectory.Objective)
		return res.Trajectory.Objective + timeWeight*res.Trajectory.Duration(), nil
	}

	best, score, samples, err := g.Search(cmd.Context(), eval)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARAMS\tSCORE\tERROR")
	for _, s := range samples {
		if s.Err != nil {
			fmt.Fprintf(w, "%v\t-\t%v\n", s.Params, s.Err)
			continue
		}
		fmt.Fprintf(w, "%v\t%.6g\t\n", s.Params, s.Value)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	if err != nil {
		return err
	}
	fmt.Printf("\nbest: %v (score %.6g)\n", best, score)
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	scenario, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	logger := slog.Default().With("scenario", scenario.Name)
	results, runErr := automation.RunScenario(cmd.Context(), scenario, logger)

	st := storage.New(dataDir)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tPROBLEM\tSTATUS\tREFINEMENT\tOBJECTIVE\tRUN")
	for _, r := range results {
		tr := r.Result.Trajectory
		id := "-"
		if save {
			values := metrics.Evaluate(tr, metrics.Defaults(r.System)...)
			id, err = st.Save(metadata(r.Config, r.Result, values), tr)
			if err != nil {
				return err
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.6g\t%s\n",
			r.Step, r.Config.Problem, tr.Status, r.Result.Refinement, tr.Objective, id)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return runErr
}
