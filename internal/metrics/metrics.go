// Package metrics exposes Prometheus collectors for pipeline runs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adverant/nexus/pnrfill-worker/internal/executor"
	"github.com/adverant/nexus/pnrfill-worker/internal/rules"
)

const namespace = "pnrfill"

// Metrics holds the pipeline collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	decisions    *prometheus.CounterVec
	fieldResults *prometheus.CounterVec
	fillAttempts prometheus.Histogram
	completion   prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by exit code.",
		}, []string{"exit_code"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Rule matrix decisions by outcome, tool and deciding guard.",
		}, []string{"outcome", "tool", "guard"}),
		fieldResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_results_total",
			Help:      "Fill outcomes per form field.",
		}, []string{"field", "state"}),
		fillAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "field_attempts",
			Help:      "Write attempts needed per field.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		completion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_fill_completion_percent",
			Help:      "Share of verified fields in the most recent fill.",
		}),
	}
}

// ObserveRun counts a finished run.
func (m *Metrics) ObserveRun(exitCode int, d time.Duration) {
	m.runs.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	m.runDuration.Observe(d.Seconds())
}

// ObserveDecision counts a rule matrix decision.
func (m *Metrics) ObserveDecision(d rules.Decision) {
	m.decisions.WithLabelValues(string(d.Outcome), string(d.Tool), string(d.Guard)).Inc()
}

// ObserveFill records per-field outcomes of report.
func (m *Metrics) ObserveFill(report *executor.FillReport) {
	if report == nil {
		return
	}
	for _, e := range report.Entries {
		m.fieldResults.WithLabelValues(string(e.Field), string(e.State)).Inc()
		if e.Attempts > 0 {
			m.fillAttempts.Observe(float64(e.Attempts))
		}
	}
	m.completion.Set(report.CompletionPercent())
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
