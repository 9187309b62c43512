package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/san-kum/trajopt/internal/nlp"
)

// Collector exports solver telemetry. It satisfies trajopt.Observer.
type Collector struct {
	iterations    prometheus.Counter
	rejections    prometheus.Counter
	solves        *prometheus.CounterVec
	solveDuration prometheus.Histogram
	infPr         prometheus.Gauge
	infDu         prometheus.Gauge
	barrier       prometheus.Gauge
	rounds        prometheus.Counter
	meshPoints    prometheus.Gauge
	maxError      prometheus.Gauge
}

// NewCollector registers the solver metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		iterations: f.NewCounter(prometheus.CounterOpts{
			Name: "trajopt_iterations_total",
			Help: "Total accepted NLP iterations",
		}),
		rejections: f.NewCounter(prometheus.CounterOpts{
			Name: "trajopt_rejected_evaluations_total",
			Help: "Total trial points rejected because the dynamics could not be evaluated",
		}),
		solves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trajopt_solves_total",
			Help: "Total NLP solves by terminal status",
		}, []string{"status"}),
		solveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trajopt_solve_duration_seconds",
			Help:    "NLP solve duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
		}),
		infPr: f.NewGauge(prometheus.GaugeOpts{
			Name: "trajopt_primal_infeasibility",
			Help: "Primal infeasibility of the last iterate",
		}),
		infDu: f.NewGauge(prometheus.GaugeOpts{
			Name: "trajopt_dual_infeasibility",
			Help: "Dual infeasibility of the last iterate",
		}),
		barrier: f.NewGauge(prometheus.GaugeOpts{
			Name: "trajopt_barrier_parameter",
			Help: "Barrier parameter of the last iterate",
		}),
		rounds: f.NewCounter(prometheus.CounterOpts{
			Name: "trajopt_refinement_rounds_total",
			Help: "Total mesh refinement rounds",
		}),
		meshPoints: f.NewGauge(prometheus.GaugeOpts{
			Name: "trajopt_mesh_points",
			Help: "Mesh points of the last round",
		}),
		maxError: f.NewGauge(prometheus.GaugeOpts{
			Name: "trajopt_max_interval_error",
			Help: "Largest per-interval error estimate of the last round",
		}),
	}
}

func (c *Collector) ObserveIteration(stats nlp.IterationStats) {
	c.iterations.Inc()
	c.infPr.Set(stats.InfPr)
	c.infDu.Set(stats.InfDu)
	c.barrier.Set(stats.Mu)
}

func (c *Collector) ObserveRejection(n int) {
	if n > 0 {
		c.rejections.Add(float64(n))
	}
}

func (c *Collector) ObserveSolve(status nlp.Status, rejections int, elapsed time.Duration) {
	c.solves.WithLabelValues(status.String()).Inc()
	c.solveDuration.Observe(elapsed.Seconds())
	c.ObserveRejection(rejections)
}

func (c *Collector) ObserveRound(points int, maxError float64) {
	c.rounds.Inc()
	c.meshPoints.Set(float64(points))
	c.maxError.Set(maxError)
}
