// Package metrics records step outcomes for Prometheus' textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bgricker/eggdrive/internal/report"
)

// Namespace prefixes every metric name.
const Namespace = "eggdrive"

// Metrics holds the collectors of one step invocation.
type Metrics struct {
	Registry *prometheus.Registry

	stepRuns     *prometheus.CounterVec
	tests        *prometheus.CounterVec
	exitCode     prometheus.Gauge
	stepDuration prometheus.Gauge
	resultFiles  prometheus.Gauge
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		stepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "step_runs_total",
			Help:      "Step invocations by outcome",
		}, []string{"outcome"}),
		tests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tests_total",
			Help:      "Parsed test records by status",
		}, []string{"status"}),
		exitCode: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tool_exit_code",
			Help:      "Exit code of the last tool invocation",
		}),
		stepDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of the last step invocation",
		}),
		resultFiles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "result_files",
			Help:      "Result files parsed by the last step invocation",
		}),
	}
}

// RecordExit stores the tool exit code.
func (m *Metrics) RecordExit(code int) {
	m.exitCode.Set(float64(code))
}

// RecordResultFiles stores the number of parsed result files.
func (m *Metrics) RecordResultFiles(n int) {
	m.resultFiles.Set(float64(n))
}

// RecordReport counts the records of rep by status.
func (m *Metrics) RecordReport(rep *report.BuildReport) {
	if rep == nil {
		return
	}
	s := rep.Summary()
	m.tests.WithLabelValues("passed").Add(float64(s.Passed))
	m.tests.WithLabelValues("failed").Add(float64(s.Failed))
}

// RecordStep counts one invocation with its outcome.
func (m *Metrics) RecordStep(outcome string, d time.Duration) {
	m.stepRuns.WithLabelValues(outcome).Inc()
	m.stepDuration.Set(d.Seconds())
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics %q: %w", path, err)
	}
	return nil
}
