package steps

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/browser"
	"github.com/splunk/browser-e2e/e2e/framework/data"
	"github.com/splunk/browser-e2e/e2e/framework/logging"
	"github.com/splunk/browser-e2e/e2e/framework/pages"
	"github.com/splunk/browser-e2e/e2e/framework/results"
	"github.com/splunk/browser-e2e/e2e/framework/spec"
)

// Orchestrator is the part of the orchestration client steps use.
type Orchestrator interface {
	Connected() bool
	FetchDynamicData(ctx context.Context, key string) map[string]interface{}
	FetchServiceData(ctx context.Context, key string) (map[string]interface{}, bool)
	ReportResult(name string, status results.Status, metadata map[string]interface{})
}

// Context holds one scenario's state across its steps.
type Context struct {
	RunID         string
	Scenario      spec.Scenario
	Page          browser.Page
	Orchestration Orchestrator
	Data          *data.TestData
	BaseURL       string
	Logger        *zap.Logger
	Vars          map[string]string

	mu     sync.Mutex
	google *pages.Google
}

// NewContext creates a step context. page is usually a *session.Session so
// navigations are captured.
func NewContext(runID string, scenario spec.Scenario, page browser.Page, orch Orchestrator, td *data.TestData, baseURL string, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	if td == nil {
		td, _ = data.Parse(nil)
	}
	return &Context{
		RunID:         runID,
		Scenario:      scenario,
		Page:          page,
		Orchestration: orch,
		Data:          td,
		BaseURL:       baseURL,
		Logger:        logger.With(zap.String("scenario", scenario.Name), zap.String("run_id", runID)),
		Vars:          map[string]string{},
	}
}

// Google returns the scenario's Google page object.
func (c *Context) Google() *pages.Google {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.google == nil {
		base := c.Data.URL("google")
		if base == "" {
			base = c.BaseURL
		}
		c.google = pages.NewGoogle(c.Page, base, logging.NewLogr(c.Logger))
	}
	return c.google
}

// serviceValue returns the string field of key as held by the orchestration
// service. Local defaults never count.
func (c *Context) serviceValue(ctx context.Context, key, field string) string {
	if c.Orchestration == nil || !c.Orchestration.Connected() {
		return ""
	}
	value, ok := c.Orchestration.FetchServiceData(ctx, key)
	if !ok {
		return ""
	}
	return getString(value, field, "")
}

// report sends a step-level result when an orchestrator is configured.
func (c *Context) report(name string, passed bool, metadata map[string]interface{}) {
	if c.Orchestration == nil {
		return
	}
	status := results.StatusFailed
	if passed {
		status = results.StatusPassed
	}
	c.Orchestration.ReportResult(name, status, metadata)
}
