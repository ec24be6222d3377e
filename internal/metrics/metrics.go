// Package metrics exposes simulation progress as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cellsim"

// Metrics holds the collectors of one simulation. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	steps        prometheus.Counter
	failures     *prometheus.CounterVec
	deltas       *prometheus.CounterVec
	clamped      prometheus.Counter
	stepDuration prometheus.Histogram
	updatables   *prometheus.GaugeVec
	simTime      prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		steps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "steps_total",
			Help:      "Total applied simulation steps",
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "step_failures_total",
			Help:      "Total failed simulation steps by reason",
		}, []string{"reason"}),
		deltas: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "deltas_total",
			Help:      "Total concentration deltas produced by module",
		}, []string{"module"}),
		clamped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "clamped_total",
			Help:      "Total concentrations clamped from within tolerance below zero",
		}),
		stepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "step_duration_seconds",
			Help:      "Wall time of one simulation step",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		updatables: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "updatables",
			Help:      "Current number of updatables by kind",
		}, []string{"kind"}),
		simTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "simulated_seconds",
			Help:      "Elapsed simulated time",
		}),
	}
}

// Step is what the driver reports after an applied step.
type Step struct {
	Duration time.Duration
	SimTime  float64
	Clamped  int
	Nodes    int
	Vesicles int

	// Deltas counts merged contributions per module.
	Deltas map[string]int
}

// ObserveStep records an applied step.
func (m *Metrics) ObserveStep(s Step) {
	if m == nil {
		return
	}
	m.steps.Inc()
	m.stepDuration.Observe(s.Duration.Seconds())
	m.clamped.Add(float64(s.Clamped))
	m.simTime.Set(s.SimTime)
	m.updatables.WithLabelValues("node").Set(float64(s.Nodes))
	m.updatables.WithLabelValues("vesicle").Set(float64(s.Vesicles))
	for mod, n := range s.Deltas {
		m.deltas.WithLabelValues(mod).Add(float64(n))
	}
}

// ObserveFailure records a failed step.
func (m *Metrics) ObserveFailure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
