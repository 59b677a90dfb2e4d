// Package evidence binds captured artifacts to the step that was active when
// they were taken and keeps per-scenario ordered evidence.
package evidence

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/results"
)

// ScenarioMeta describes a scenario when it is registered.
type ScenarioMeta struct {
	ID      string
	Name    string
	Feature string
	Tags    []string
}

// Correlator is safe for concurrent use by multiple scenario workers.
type Correlator struct {
	logger *zap.Logger
	clock  func() time.Time

	mu        sync.Mutex
	scenarios *orderedmap.OrderedMap[string, *scenarioState]
	steps     map[string]*stepState
}

type scenarioState struct {
	report   results.ScenarioReport
	steps    []*stepState
	finished bool
}

type stepState struct {
	ctx       results.StepContext
	artifacts []results.Artifact
	record    *results.EvidenceRecord
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock overrides the time source used for step start and end times.
func WithClock(clock func() time.Time) Option {
	return func(c *Correlator) { c.clock = clock }
}

// NewCorrelator returns an empty correlator.
func NewCorrelator(logger *zap.Logger, opts ...Option) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Correlator{
		logger:    logger.With(zap.String("component", "evidence")),
		clock:     time.Now,
		scenarios: orderedmap.New[string, *scenarioState](),
		steps:     make(map[string]*stepState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartScenario registers a scenario. Scenarios are reported in start order.
func (c *Correlator) StartScenario(meta ScenarioMeta) error {
	if meta.ID == "" {
		meta.ID = meta.Name
	}
	if meta.ID == "" {
		return fmt.Errorf("scenario id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.scenarios.Get(meta.ID); exists {
		return fmt.Errorf("scenario %q already started", meta.ID)
	}
	c.startLocked(meta)
	return nil
}

func (c *Correlator) startLocked(meta ScenarioMeta) *scenarioState {
	name := meta.Name
	if name == "" {
		name = meta.ID
	}
	state := &scenarioState{report: results.ScenarioReport{
		ID:        meta.ID,
		Name:      name,
		Feature:   meta.Feature,
		Tags:      append([]string(nil), meta.Tags...),
		StartTime: c.clock(),
		Records:   []results.EvidenceRecord{},
	}}
	c.scenarios.Set(meta.ID, state)
	return state
}

// BeginStep opens a step in scenario. A scenario that was never started is
// registered implicitly under its id.
func (c *Correlator) BeginStep(scenario, text, keyword string) (results.StepContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.scenarios.Get(scenario)
	if !ok {
		state = c.startLocked(ScenarioMeta{ID: scenario})
	}
	if state.finished {
		return results.StepContext{}, fmt.Errorf("scenario %q already finished", scenario)
	}

	step := &stepState{ctx: results.StepContext{
		ID:        uuid.NewString(),
		Scenario:  scenario,
		Text:      text,
		Keyword:   keyword,
		Index:     len(state.steps),
		StartedAt: c.clock(),
	}}
	state.steps = append(state.steps, step)
	c.steps[step.ctx.ID] = step

	return step.ctx, nil
}

// Attach binds artifact to an open step. Artifacts arriving after EndStep or
// captured before the step started are discarded with a diagnostic.
func (c *Correlator) Attach(step results.StepContext, artifact results.Artifact) bool {
	return c.attach(step, artifact, false)
}

// AttachPending is Attach for captures still in flight when their step ends.
// If the step is already finalized, the artifact goes to the step of the same
// scenario that is open now, provided that step started no later than the
// capture. Otherwise it is discarded with a diagnostic. The result reports
// whether the artifact was attached.
func (c *Correlator) AttachPending(step results.StepContext, artifact results.Artifact) bool {
	return c.attach(step, artifact, true)
}

func (c *Correlator) attach(step results.StepContext, artifact results.Artifact, pending bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.steps[step.ID]
	if !ok {
		c.logger.Warn("artifact for unknown step discarded", zap.String("step_id", step.ID), zap.String("path", artifact.Path))
		return false
	}
	scenario, _ := c.scenarios.Get(state.ctx.Scenario)

	if state.record != nil {
		if pending {
			return c.adoptLocked(scenario, state, artifact)
		}
		c.diagnoseLocked(scenario, "discarded late artifact %s: step %d %q already finalized", artifact.Path, state.ctx.Index, state.ctx.Text)
		return false
	}
	if artifact.CapturedAt.Before(state.ctx.StartedAt) {
		c.diagnoseLocked(scenario, "discarded artifact %s: captured before step %d started", artifact.Path, state.ctx.Index)
		return false
	}
	insertArtifact(state, artifact)
	return true
}

func (c *Correlator) adoptLocked(scenario *scenarioState, ended *stepState, artifact results.Artifact) bool {
	if scenario == nil || scenario.finished || len(scenario.steps) == 0 {
		c.diagnoseLocked(scenario, "discarded pending artifact %s: no open step", artifact.Path)
		return false
	}
	open := scenario.steps[len(scenario.steps)-1]
	if open == ended || open.record != nil {
		c.diagnoseLocked(scenario, "discarded pending artifact %s: no open step after step %d", artifact.Path, ended.ctx.Index)
		return false
	}
	if artifact.CapturedAt.Before(open.ctx.StartedAt) {
		c.diagnoseLocked(scenario, "discarded pending artifact %s: captured before step %d started", artifact.Path, open.ctx.Index)
		return false
	}
	insertArtifact(open, artifact)
	c.logger.Info("pending artifact attached to open step",
		zap.String("scenario", open.ctx.Scenario), zap.Int("step", open.ctx.Index), zap.String("path", artifact.Path))
	return true
}

// insertArtifact keeps artifacts ordered by capture time; equal times keep arrival order.
func insertArtifact(step *stepState, artifact results.Artifact) {
	i := sort.Search(len(step.artifacts), func(i int) bool {
		return step.artifacts[i].CapturedAt.After(artifact.CapturedAt)
	})
	step.artifacts = append(step.artifacts, results.Artifact{})
	copy(step.artifacts[i+1:], step.artifacts[i:])
	step.artifacts[i] = artifact
}

// EndStep finalizes a step. Calling it again returns the first record unchanged.
func (c *Correlator) EndStep(step results.StepContext, status results.Status, detail string) (results.EvidenceRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.steps[step.ID]
	if !ok {
		return results.EvidenceRecord{}, fmt.Errorf("unknown step %q", step.ID)
	}
	if state.record != nil {
		return copyRecord(*state.record), nil
	}
	if !status.Valid() {
		return results.EvidenceRecord{}, fmt.Errorf("invalid status %q", status)
	}
	ended := c.clock()
	record := results.EvidenceRecord{
		Step:      state.ctx,
		Artifacts: append([]results.Artifact{}, state.artifacts...),
		Status:    status,
		Detail:    detail,
		EndedAt:   ended,
		Duration:  ended.Sub(state.ctx.StartedAt),
	}
	state.record = &record
	state.artifacts = nil
	return copyRecord(record), nil
}

// SkipStep records a step that was never executed.
func (c *Correlator) SkipStep(scenario, text, keyword, detail string) (results.EvidenceRecord, error) {
	step, err := c.BeginStep(scenario, text, keyword)
	if err != nil {
		return results.EvidenceRecord{}, err
	}
	return c.EndStep(step, results.StatusSkipped, detail)
}

// SetMetadata attaches a key/value to a scenario report.
func (c *Correlator) SetMetadata(scenario, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.scenarios.Get(scenario)
	if !ok {
		return
	}
	if state.report.Metadata == nil {
		state.report.Metadata = map[string]string{}
	}
	state.report.Metadata[key] = value
}

// Diagnose records a scenario-level diagnostic.
func (c *Correlator) Diagnose(scenario, format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, _ := c.scenarios.Get(scenario)
	c.diagnoseLocked(state, format, args...)
}

func (c *Correlator) diagnoseLocked(state *scenarioState, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	fields := []zap.Field{zap.String("diagnostic", message)}
	if state != nil {
		fields = append(fields, zap.String("scenario", state.report.ID))
		state.report.Diagnostics = append(state.report.Diagnostics, message)
	}
	c.logger.Warn("evidence diagnostic", fields...)
}

// FinishScenario finalizes a scenario. Steps still open are closed as
// skipped. scenarioErr marks a failure outside any step, such as a session
// that could not be opened.
func (c *Correlator) FinishScenario(scenario string, scenarioErr string) (results.ScenarioReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.scenarios.Get(scenario)
	if !ok {
		return results.ScenarioReport{}, fmt.Errorf("unknown scenario %q", scenario)
	}
	if state.finished {
		return c.snapshotLocked(state), nil
	}
	now := c.clock()
	for _, step := range state.steps {
		if step.record != nil {
			continue
		}
		step.record = &results.EvidenceRecord{
			Step:      step.ctx,
			Artifacts: append([]results.Artifact{}, step.artifacts...),
			Status:    results.StatusSkipped,
			Detail:    "step did not complete",
			EndedAt:   now,
			Duration:  now.Sub(step.ctx.StartedAt),
		}
		step.artifacts = nil
	}
	state.report.Error = scenarioErr
	state.report.EndTime = now
	state.report.Duration = now.Sub(state.report.StartTime)
	state.finished = true
	return c.snapshotLocked(state), nil
}

// Scenario returns a snapshot of one scenario.
func (c *Correlator) Scenario(scenario string) (results.ScenarioReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.scenarios.Get(scenario)
	if !ok {
		return results.ScenarioReport{}, false
	}
	return c.snapshotLocked(state), true
}

// Report assembles a RunReport from every scenario in start order.
func (c *Correlator) Report(runID string, start time.Time) results.RunReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := c.clock()
	run := results.RunReport{
		RunID:     runID,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Scenarios: make([]results.ScenarioReport, 0, c.scenarios.Len()),
	}
	for pair := c.scenarios.Oldest(); pair != nil; pair = pair.Next() {
		run.Scenarios = append(run.Scenarios, c.snapshotLocked(pair.Value))
	}
	run.Summary = results.Summarize(run.Scenarios)
	return run
}

func (c *Correlator) snapshotLocked(state *scenarioState) results.ScenarioReport {
	report := state.report
	report.Tags = append([]string(nil), state.report.Tags...)
	report.Diagnostics = append([]string(nil), state.report.Diagnostics...)
	if state.report.Metadata != nil {
		report.Metadata = make(map[string]string, len(state.report.Metadata))
		for k, v := range state.report.Metadata {
			report.Metadata[k] = v
		}
	}
	report.Records = make([]results.EvidenceRecord, 0, len(state.steps))
	for _, step := range state.steps {
		if step.record == nil {
			continue
		}
		report.Records = append(report.Records, copyRecord(*step.record))
	}
	report.Status = results.ScenarioStatus(report.Records, report.Error)
	return report
}

func copyRecord(record results.EvidenceRecord) results.EvidenceRecord {
	record.Artifacts = append([]results.Artifact{}, record.Artifacts...)
	return record
}
