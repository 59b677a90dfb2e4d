// Package metrics records run, scenario, step, capture and orchestration
// counters in a private Prometheus registry and writes them as a text
// exposition file.
package metrics

import (
	"bytes"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/splunk/browser-e2e/e2e/framework/orchestration"
	"github.com/splunk/browser-e2e/e2e/framework/results"
)

// Collector captures metrics for browser runs. It implements
// capture.Observer and orchestration.Observer.
type Collector struct {
	registry         *prometheus.Registry
	scenariosTotal   *prometheus.CounterVec
	stepsTotal       *prometheus.CounterVec
	scenarioDuration *prometheus.HistogramVec
	stepDuration     *prometheus.HistogramVec
	capturesTotal    *prometheus.CounterVec
	reportsTotal     *prometheus.CounterVec
	orchState        prometheus.Gauge
	scenarioInfo     *prometheus.GaugeVec
}

// NewCollector initializes a new metrics registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		scenariosTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "e2e_scenarios_total", Help: "Scenarios by final status"},
			[]string{"status"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "e2e_steps_total", Help: "Steps by final status"},
			[]string{"status"},
		),
		scenarioDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "e2e_scenario_duration_seconds",
				Help:    "Scenario duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scenario", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "e2e_step_duration_seconds",
				Help:    "Step duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scenario", "keyword", "status"},
		),
		capturesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "e2e_captures_total", Help: "Screenshot captures by kind and outcome"},
			[]string{"kind", "outcome"},
		),
		reportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "e2e_orchestration_reports_total", Help: "Orchestration reports by delivery"},
			[]string{"delivery"},
		),
		orchState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "e2e_orchestration_state",
			Help: "Orchestration client state (0 uninitialized, 1 connecting, 2 connected, 3 degraded)",
		}),
		scenarioInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "e2e_scenario_info", Help: "Scenario metadata for traceability"},
			[]string{"scenario", "feature", "status", "browser", "isolation"},
		),
	}
	registry.MustRegister(
		c.scenariosTotal, c.stepsTotal, c.scenarioDuration, c.stepDuration,
		c.capturesTotal, c.reportsTotal, c.orchState, c.scenarioInfo,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveScenario records a scenario outcome.
func (c *Collector) ObserveScenario(name string, status results.Status, duration time.Duration) {
	c.scenariosTotal.WithLabelValues(string(status)).Inc()
	c.scenarioDuration.WithLabelValues(name, string(status)).Observe(duration.Seconds())
}

// ObserveStep records a step outcome.
func (c *Collector) ObserveStep(scenario, keyword string, status results.Status, duration time.Duration) {
	c.stepsTotal.WithLabelValues(string(status)).Inc()
	c.stepDuration.WithLabelValues(scenario, keyword, string(status)).Observe(duration.Seconds())
}

// ObserveCapture implements capture.Observer.
func (c *Collector) ObserveCapture(kind results.ArtifactKind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.capturesTotal.WithLabelValues(string(kind), outcome).Inc()
}

// ObserveOrchestrationState implements orchestration.Observer.
func (c *Collector) ObserveOrchestrationState(state orchestration.State) {
	c.orchState.Set(float64(state))
}

// ObserveReport implements orchestration.Observer.
func (c *Collector) ObserveReport(delivery orchestration.Delivery) {
	c.reportsTotal.WithLabelValues(string(delivery)).Inc()
}

// ScenarioInfo is a structured view of scenario metadata for metrics.
type ScenarioInfo struct {
	Scenario  string
	Feature   string
	Status    results.Status
	Browser   string
	Isolation string
}

// ObserveScenarioInfo records metadata for a scenario.
func (c *Collector) ObserveScenarioInfo(info ScenarioInfo) {
	c.scenarioInfo.WithLabelValues(info.Scenario, info.Feature, string(info.Status), info.Browser, info.Isolation).Set(1)
}

// Write writes all metrics to a Prometheus text file.
func (c *Collector) Write(path string) error {
	families, err := c.registry.Gather()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
