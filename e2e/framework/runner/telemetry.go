package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/splunk/browser-e2e/e2e/framework/results"
	"github.com/splunk/browser-e2e/e2e/framework/spec"
)

func (r *Runner) startRunSpan(ctx context.Context, scenarios []spec.Scenario) (context.Context, trace.Span) {
	attrs := map[string]string{
		"e2e.run_id":         r.cfg.RunID,
		"e2e.browser":        r.cfg.Browser,
		"e2e.isolation":      r.cfg.Isolation,
		"e2e.parallelism":    fmt.Sprintf("%d", r.cfg.Parallelism),
		"e2e.scenario_count": fmt.Sprintf("%d", len(scenarios)),
	}
	return r.telemetry.StartSpan(ctx, "e2e.run", attrs)
}

func (r *Runner) finishRunSpan(span trace.Span, run results.RunReport, runErr error) {
	attrs := map[string]string{
		"e2e.duration_ms":         fmt.Sprintf("%d", run.Duration.Milliseconds()),
		"e2e.total":               fmt.Sprintf("%d", run.Summary.Total),
		"e2e.passed":              fmt.Sprintf("%d", run.Summary.Passed),
		"e2e.failed":              fmt.Sprintf("%d", run.Summary.Failed),
		"e2e.skipped":             fmt.Sprintf("%d", run.Summary.Skipped),
		"e2e.orchestration_state": r.orchestration.State().String(),
	}
	status := results.StatusPassed
	switch {
	case runErr != nil || run.Summary.Failed > 0:
		status = results.StatusFailed
	case run.Summary.Passed == 0 && run.Summary.Skipped > 0:
		status = results.StatusSkipped
	}
	if runErr == nil && status == results.StatusFailed {
		runErr = errors.New("run failed")
	}
	r.telemetry.EndSpan(span, status, runErr, attrs)
}

func (r *Runner) startScenarioSpan(ctx context.Context, scenario spec.Scenario) (context.Context, trace.Span) {
	return r.telemetry.StartSpan(ctx, "e2e.scenario:"+scenario.Name, r.scenarioSpanAttributes(scenario))
}

func (r *Runner) finishScenarioSpan(span trace.Span, scenario spec.Scenario, outcome results.ScenarioReport) {
	attrs := mergeAttrs(r.scenarioSpanAttributes(scenario), map[string]string{
		"e2e.duration_ms": fmt.Sprintf("%d", outcome.Duration.Milliseconds()),
		"e2e.artifacts":   fmt.Sprintf("%d", outcome.ArtifactCount()),
		"e2e.timeout":     outcome.Metadata["timeout"],
	})
	var err error
	if outcome.Status == results.StatusFailed {
		err = errors.New(firstError(outcome))
	}
	r.telemetry.EndSpan(span, outcome.Status, err, attrs)
}

func (r *Runner) startStepSpan(ctx context.Context, scenario spec.Scenario, step spec.Step) (context.Context, trace.Span) {
	attrs := map[string]string{
		"e2e.run_id":   r.cfg.RunID,
		"e2e.scenario": scenario.Name,
		"e2e.keyword":  step.Keyword,
		"e2e.step":     step.Text,
	}
	return r.telemetry.StartSpan(ctx, "e2e.step", attrs)
}

func (r *Runner) finishStepSpan(span trace.Span, record results.EvidenceRecord, stepErr error) {
	attrs := map[string]string{
		"e2e.duration_ms": fmt.Sprintf("%d", record.Duration.Milliseconds()),
		"e2e.artifacts":   fmt.Sprintf("%d", len(record.Artifacts)),
	}
	r.telemetry.EndSpan(span, record.Status, stepErr, attrs)
}

func (r *Runner) scenarioSpanAttributes(scenario spec.Scenario) map[string]string {
	return mergeAttrs(map[string]string{
		"e2e.run_id":   r.cfg.RunID,
		"e2e.scenario": scenario.Name,
		"e2e.feature":  scenario.Feature,
		"e2e.tags":     strings.Join(scenario.Tags, ","),
		"e2e.browser":  r.cfg.Browser,
	})
}

// scenarioAttributes are the low cardinality attributes used on metrics.
func (r *Runner) scenarioAttributes(scenario spec.Scenario) map[string]string {
	feature := scenario.Feature
	if feature == "" {
		feature = "unknown"
	}
	return map[string]string{
		"feature":   feature,
		"browser":   r.cfg.Browser,
		"isolation": r.cfg.Isolation,
	}
}

func (r *Runner) stepAttributes(scenario spec.Scenario, step spec.Step) map[string]string {
	attrs := r.scenarioAttributes(scenario)
	attrs["keyword"] = strings.TrimSpace(step.Keyword)
	return attrs
}

func mergeAttrs(values ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, attrs := range values {
		for key, value := range attrs {
			if value == "" {
				continue
			}
			out[key] = value
		}
	}
	return out
}
