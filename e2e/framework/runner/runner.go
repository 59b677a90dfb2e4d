// Package runner drives a run: it opens sessions, executes scenarios on a
// bounded worker pool, correlates evidence, relays results to the
// orchestration service and writes the run artifacts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/artifacts"
	"github.com/splunk/browser-e2e/e2e/framework/browser"
	"github.com/splunk/browser-e2e/e2e/framework/capture"
	"github.com/splunk/browser-e2e/e2e/framework/config"
	"github.com/splunk/browser-e2e/e2e/framework/data"
	"github.com/splunk/browser-e2e/e2e/framework/evidence"
	"github.com/splunk/browser-e2e/e2e/framework/metrics"
	"github.com/splunk/browser-e2e/e2e/framework/objectstore"
	"github.com/splunk/browser-e2e/e2e/framework/orchestration"
	"github.com/splunk/browser-e2e/e2e/framework/report"
	"github.com/splunk/browser-e2e/e2e/framework/results"
	"github.com/splunk/browser-e2e/e2e/framework/session"
	"github.com/splunk/browser-e2e/e2e/framework/spec"
	"github.com/splunk/browser-e2e/e2e/framework/steps"
	"github.com/splunk/browser-e2e/e2e/framework/telemetry"
)

// ProviderFactory opens the object store used by PublishArtifacts.
type ProviderFactory func(ctx context.Context, cfg objectstore.Config) (objectstore.Provider, error)

// Option customizes a Runner.
type Option func(*Runner)

// WithOrchestrationTransport replaces the transport built from the endpoint.
func WithOrchestrationTransport(transport orchestration.Transport) Option {
	return func(r *Runner) { r.transport = transport }
}

// WithProviderFactory replaces objectstore.NewProvider.
func WithProviderFactory(factory ProviderFactory) Option {
	return func(r *Runner) { r.newProvider = factory }
}

// Runner executes scenarios.
type Runner struct {
	cfg           *config.Config
	logger        *zap.Logger
	registry      *steps.Registry
	artifacts     *artifacts.Writer
	capture       *capture.Service
	sessions      *session.Manager
	correlator    *evidence.Correlator
	orchestration *orchestration.Client
	metrics       *metrics.Collector
	telemetry     *telemetry.Telemetry
	reports       *report.Generator
	data          *data.TestData
	transport     orchestration.Transport
	newProvider   ProviderFactory
}

// NewRunner wires the capture service, session manager, correlator and
// orchestration client for one run.
func NewRunner(cfg *config.Config, logger *zap.Logger, registry *steps.Registry, launcher browser.Launcher, testData *data.TestData, telemetryClient *telemetry.Telemetry, opts ...Option) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:         cfg,
		logger:      logger.With(zap.String("run_id", cfg.RunID)),
		registry:    registry,
		correlator:  evidence.NewCorrelator(logger),
		metrics:     metrics.NewCollector(),
		telemetry:   telemetryClient,
		reports:     report.NewGenerator(report.OptionsFromConfig(cfg), logger),
		data:        testData,
		newProvider: objectstore.NewProvider,
	}
	for _, opt := range opts {
		opt(r)
	}

	writer, err := artifacts.NewWriter(cfg.ArtifactDir)
	if err != nil {
		return nil, err
	}
	r.artifacts = writer

	r.capture, err = capture.New(cfg.ScreenshotDir,
		capture.WithLogger(logger.With(zap.String("component", "capture"))),
		capture.WithObserver(captureObservers{r.metrics, r.telemetry}),
	)
	if err != nil {
		return nil, err
	}
	r.sessions = session.NewManager(launcher, r.capture, session.OptionsFromConfig(cfg), logger)

	orchOpts := orchestration.OptionsFromConfig(cfg)
	orchOpts.Transport = r.transport
	orchOpts.Defaults = testData
	orchOpts.Logger = logger
	orchOpts.Observer = r.metrics
	r.orchestration = orchestration.NewClient(orchOpts)
	return r, nil
}

// Orchestration exposes the orchestration client, mainly for inspection
// after a run.
func (r *Runner) Orchestration() *orchestration.Client {
	return r.orchestration
}

// Metrics exposes the metrics collector.
func (r *Runner) Metrics() *metrics.Collector {
	return r.metrics
}

// RunAll executes every scenario and returns the run report. Scenarios that
// do not match the tag filter are reported as skipped. The returned error is
// only set when ctx was cancelled; scenario failures live in the report.
func (r *Runner) RunAll(ctx context.Context, scenarios []spec.Scenario) (*results.RunReport, error) {
	start := time.Now().UTC()
	ctx, runSpan := r.startRunSpan(ctx, scenarios)

	state := r.orchestration.Connect(ctx)
	r.logger.Info("run starting",
		zap.Int("scenarios", len(scenarios)),
		zap.Int("parallelism", r.cfg.Parallelism),
		zap.String("isolation", r.cfg.Isolation),
		zap.Stringer("orchestration", state))

	run, err := r.sessions.OpenRun(ctx)
	if err != nil {
		r.logger.Error("browser launch failed; every scenario will fail", zap.Error(err))
	}

	parallelism := r.cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup

	for _, scenario := range scenarios {
		scenario := scenario
		if !scenario.MatchesTags(r.cfg.IncludeTags, r.cfg.ExcludeTags) {
			r.skipScenario(scenario, "tag filtered", false)
			continue
		}
		if err := r.correlator.StartScenario(r.meta(scenario)); err != nil {
			r.logger.Warn("scenario not started", zap.String("scenario", scenario.ID), zap.Error(err))
			continue
		}

		if ctx.Err() != nil {
			r.skipScenario(scenario, "run cancelled", true)
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			r.skipScenario(scenario, "run cancelled", true)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.runScenario(ctx, run, scenario)
		}()
	}
	wg.Wait()

	teardownCtx := context.WithoutCancel(ctx)
	if err := r.sessions.CloseRun(teardownCtx, run); err != nil {
		r.logger.Warn("run teardown incomplete", zap.Error(err))
	}
	if err := r.orchestration.Close(teardownCtx); err != nil {
		r.logger.Warn("orchestration close failed", zap.Error(err))
	}

	runReport := r.correlator.Report(r.cfg.RunID, start)
	runReport.Metadata = r.runMetadata()
	r.finishRunSpan(runSpan, runReport, ctx.Err())
	r.logger.Info("run finished",
		zap.Int("total", runReport.Summary.Total),
		zap.Int("passed", runReport.Summary.Passed),
		zap.Int("failed", runReport.Summary.Failed),
		zap.Int("skipped", runReport.Summary.Skipped),
		zap.Duration("duration", runReport.Duration))

	if err := ctx.Err(); err != nil {
		return &runReport, fmt.Errorf("run interrupted: %w", err)
	}
	return &runReport, nil
}

func (r *Runner) meta(scenario spec.Scenario) evidence.ScenarioMeta {
	return evidence.ScenarioMeta{ID: scenario.ID, Name: scenario.Name, Feature: scenario.Feature, Tags: scenario.Tags}
}

// skipScenario records a scenario that never ran. A scenario already started
// in the correlator has its steps recorded as skipped; a filtered one has no
// records at all.
func (r *Runner) skipScenario(scenario spec.Scenario, reason string, started bool) {
	if !started {
		if err := r.correlator.StartScenario(r.meta(scenario)); err != nil {
			r.logger.Warn("scenario not recorded", zap.String("scenario", scenario.ID), zap.Error(err))
			return
		}
	} else {
		for _, step := range scenario.Steps {
			_, _ = r.correlator.SkipStep(scenario.ID, step.Text, step.Keyword, reason)
		}
	}
	r.correlator.SetMetadata(scenario.ID, "skip_reason", reason)
	outcome, err := r.correlator.FinishScenario(scenario.ID, "")
	if err != nil {
		return
	}
	r.metrics.ObserveScenario(scenario.Name, outcome.Status, 0)
	r.observeScenarioInfo(scenario, outcome.Status)
	r.telemetry.RecordScenario(outcome.Status, 0, r.scenarioAttributes(scenario))
	r.logger.Info("scenario skipped", zap.String("scenario", scenario.Name), zap.String("reason", reason))
}

func (r *Runner) runScenario(ctx context.Context, run *session.RunContext, scenario spec.Scenario) {
	logger := r.logger.With(zap.String("scenario", scenario.Name))
	if r.cfg.ScenarioTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ScenarioTimeout)
		defer cancel()
	}
	ctx, span := r.startScenarioSpan(ctx, scenario)
	start := time.Now()

	r.orchestration.StartScenario(scenario.Name)

	var scenarioErr error
	sess, err := r.sessions.OpenScenario(ctx, run, scenario.Name)
	if err != nil {
		scenarioErr = err
		logger.Error("scenario session unavailable", zap.Error(err))
		for _, step := range scenario.Steps {
			_, _ = r.correlator.SkipStep(scenario.ID, step.Text, step.Keyword, "session unavailable")
		}
	} else {
		scenarioErr = r.runSteps(ctx, sess, scenario, logger)
		if scenarioErr == nil {
			scenarioErr = r.scenarioCancelled(ctx)
		}
		if closeErr := r.sessions.CloseScenario(ctx, sess); closeErr != nil {
			logger.Warn("scenario teardown failed", zap.Error(closeErr))
			if scenarioErr == nil {
				scenarioErr = closeErr
			}
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.correlator.SetMetadata(scenario.ID, "timeout", "true")
	}

	r.orchestration.StopScenario(scenario.Name)

	detail := ""
	if scenarioErr != nil {
		detail = scenarioErr.Error()
	}
	outcome, err := r.correlator.FinishScenario(scenario.ID, detail)
	if err != nil {
		logger.Error("finish scenario failed", zap.Error(err))
		return
	}

	duration := time.Since(start)
	metadata := map[string]interface{}{"duration": duration.Seconds()}
	if outcome.Status == results.StatusFailed {
		metadata = map[string]interface{}{"error": firstError(outcome)}
		if shot := failureScreenshot(outcome); shot != "" {
			metadata["screenshot_path"] = shot
		}
	}
	r.orchestration.ReportResult(scenario.Name, outcome.Status, metadata)

	r.metrics.ObserveScenario(scenario.Name, outcome.Status, duration)
	r.observeScenarioInfo(scenario, outcome.Status)
	r.telemetry.RecordScenario(outcome.Status, duration, r.scenarioAttributes(scenario))
	r.finishScenarioSpan(span, scenario, outcome)
	logger.Info("scenario finished",
		zap.String("status", string(outcome.Status)),
		zap.Int("records", len(outcome.Records)),
		zap.Int("artifacts", outcome.ArtifactCount()),
		zap.Duration("duration", duration))
}

// scenarioCancelled turns a cancelled or timed out scenario context into a
// scenario error.
func (r *Runner) scenarioCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scenario interrupted: %w", err)
	}
	return nil
}

// runSteps executes the steps in order. After the first failure, or once ctx
// is done, the remaining steps are recorded as skipped. A step failure is not
// returned; it is already part of the evidence.
func (r *Runner) runSteps(ctx context.Context, sess *session.Session, scenario spec.Scenario, logger *zap.Logger) error {
	exec := steps.NewContext(r.cfg.RunID, scenario, sess, r.orchestration, r.data, r.cfg.BaseURL, logger)

	var mu sync.Mutex
	var current, last *results.StepContext
	sess.OnArtifact(func(artifact results.Artifact) {
		mu.Lock()
		step, previous := current, last
		mu.Unlock()
		switch {
		case step != nil:
			r.correlator.Attach(*step, artifact)
		case previous != nil:
			// A navigation started by an earlier step finished after it ended.
			r.correlator.AttachPending(*previous, artifact)
		default:
			r.correlator.Diagnose(scenario.ID, "navigation capture %s outside a step", artifact.Path)
		}
	})
	defer sess.OnArtifact(nil)

	failed := false
	for _, step := range scenario.Steps {
		if failed {
			_, _ = r.correlator.SkipStep(scenario.ID, step.Text, step.Keyword, "previous step failed")
			continue
		}
		if ctx.Err() != nil {
			_, _ = r.correlator.SkipStep(scenario.ID, step.Text, step.Keyword, "scenario cancelled")
			continue
		}

		stepCtx, err := r.correlator.BeginStep(scenario.ID, step.Text, step.Keyword)
		if err != nil {
			return err
		}
		mu.Lock()
		current = &stepCtx
		mu.Unlock()

		record := r.runStep(ctx, exec, sess, scenario, step, stepCtx)

		mu.Lock()
		current, last = nil, &stepCtx
		mu.Unlock()

		if record.Status == results.StatusFailed {
			failed = true
			logger.Warn("step failed", zap.String("step", step.Text), zap.String("detail", record.Detail))
			r.collectFailureDiagnostics(ctx, sess, scenario, record)
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, exec *steps.Context, sess *session.Session, scenario spec.Scenario, step spec.Step, stepCtx results.StepContext) results.EvidenceRecord {
	spanCtx, span := r.startStepSpan(ctx, scenario, step)
	handlerCtx := spanCtx
	if r.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithTimeout(spanCtx, r.cfg.StepTimeout)
		defer cancel()
	}

	stepErr := r.registry.Execute(handlerCtx, exec, step)

	if r.cfg.ScreenshotsEnabled {
		artifact, err := r.capture.Capture(ctx, sess, results.KindStep, capture.StepLabel(scenario.Name, step.Text), r.cfg.FullPageScreenshots)
		if err == nil {
			r.correlator.Attach(stepCtx, artifact)
		}
	}

	status, detail := results.StatusPassed, ""
	if stepErr != nil {
		status, detail = results.StatusFailed, stepErr.Error()
	}
	record, err := r.correlator.EndStep(stepCtx, status, detail)
	if err != nil {
		r.logger.Warn("end step failed", zap.String("step", step.Text), zap.Error(err))
	}

	r.metrics.ObserveStep(scenario.Name, step.Keyword, record.Status, record.Duration)
	r.telemetry.RecordStep(record.Status, record.Duration, r.stepAttributes(scenario, step))
	r.finishStepSpan(span, record, stepErr)
	return record
}

func (r *Runner) observeScenarioInfo(scenario spec.Scenario, status results.Status) {
	r.metrics.ObserveScenarioInfo(metrics.ScenarioInfo{
		Scenario:  scenario.Name,
		Feature:   scenario.Feature,
		Status:    status,
		Browser:   r.cfg.Browser,
		Isolation: r.cfg.Isolation,
	})
}

func (r *Runner) runMetadata() map[string]string {
	stats := r.orchestration.Stats()
	return map[string]string{
		"browser":             r.cfg.Browser,
		"headless":            fmt.Sprintf("%t", r.cfg.Headless),
		"isolation":           r.cfg.Isolation,
		"base_url":            r.cfg.BaseURL,
		"environment":         r.cfg.Environment,
		"orchestration_state": r.orchestration.State().String(),
		"orchestration_sent":  fmt.Sprintf("%d", stats.Sent),
		"orchestration_local": fmt.Sprintf("%d", stats.Local),
	}
}

// firstError returns the scenario error, or the detail of its first failed
// record.
func firstError(outcome results.ScenarioReport) string {
	if outcome.Error != "" {
		return outcome.Error
	}
	for _, record := range outcome.Records {
		if record.Status == results.StatusFailed {
			return record.Detail
		}
	}
	return ""
}

// failureScreenshot returns the last artifact of the failed step, or of the
// closest earlier step when the failed step has none.
func failureScreenshot(outcome results.ScenarioReport) string {
	failed := len(outcome.Records) - 1
	for i, record := range outcome.Records {
		if record.Status == results.StatusFailed {
			failed = i
			break
		}
	}
	for i := failed; i >= 0; i-- {
		if artifacts := outcome.Records[i].Artifacts; len(artifacts) > 0 {
			return artifacts[len(artifacts)-1].Path
		}
	}
	return ""
}

type captureObservers []capture.Observer

func (o captureObservers) ObserveCapture(kind results.ArtifactKind, err error) {
	for _, observer := range o {
		observer.ObserveCapture(kind, err)
	}
}
