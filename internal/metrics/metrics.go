// Package metrics exposes Prometheus instruments for backtest runs and
// parameter searches. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Recorder holds the folio instruments.
type Recorder struct {
	registry     *prometheus.Registry
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	gridPoints   *prometheus.CounterVec
	searchActive prometheus.Gauge
}

// New creates a Recorder on a fresh registry that also carries the Go and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates a Recorder whose instruments are registered on
// reg.
func NewWithRegistry(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		registry: reg,
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_backtest_runs_total",
				Help: "Total number of backtest runs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "folio_backtest_run_duration_seconds",
				Help:    "Wall-clock duration of backtest runs",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"kind"},
		),
		gridPoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_grid_points_total",
				Help: "Total number of parameter grid points evaluated",
			},
			[]string{"search"},
		),
		searchActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "folio_grid_search_in_progress",
				Help: "Number of parameter searches currently running",
			},
		),
	}
	reg.MustRegister(r.runsTotal, r.runDuration, r.gridPoints, r.searchActive)
	return r
}

// ObserveRun counts one run and its duration.
func (r *Recorder) ObserveRun(kind, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(kind, outcome).Inc()
	r.runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// GridPoint counts one evaluated grid point.
func (r *Recorder) GridPoint(search string) {
	if r == nil {
		return
	}
	r.gridPoints.WithLabelValues(search).Inc()
}

// SearchStarted marks a search as running; call the returned func when it
// ends.
func (r *Recorder) SearchStarted() func() {
	if r == nil {
		return func() {}
	}
	r.searchActive.Inc()
	return r.searchActive.Dec
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
