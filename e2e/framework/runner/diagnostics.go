package runner

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/capture"
	"github.com/splunk/browser-e2e/e2e/framework/results"
	"github.com/splunk/browser-e2e/e2e/framework/session"
	"github.com/splunk/browser-e2e/e2e/framework/spec"
)

const diagnosticsTimeout = 10 * time.Second

// PageDiagnostics is the browser state written next to a failed scenario.
type PageDiagnostics struct {
	Scenario   string           `json:"scenario"`
	Feature    string           `json:"feature,omitempty"`
	Step       string           `json:"step"`
	Detail     string           `json:"detail,omitempty"`
	Session    string           `json:"session"`
	Config     session.Snapshot `json:"config"`
	URL        string           `json:"url,omitempty"`
	Title      string           `json:"title,omitempty"`
	Errors     []string         `json:"errors,omitempty"`
	Screenshot string           `json:"screenshot,omitempty"`
	CapturedAt time.Time        `json:"captured_at"`
}

// collectFailureDiagnostics records the page URL and title for a failed
// step. It runs on its own deadline so a timed out scenario still gets
// diagnostics.
func (r *Runner) collectFailureDiagnostics(ctx context.Context, sess *session.Session, scenario spec.Scenario, record results.EvidenceRecord) {
	collectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnosticsTimeout)
	defer cancel()

	diag := PageDiagnostics{
		Scenario:   scenario.Name,
		Feature:    scenario.Feature,
		Step:       record.Step.Text,
		Detail:     record.Detail,
		Session:    sess.ID,
		Config:     sess.Config,
		CapturedAt: time.Now().UTC(),
	}
	if len(record.Artifacts) > 0 {
		diag.Screenshot = record.Artifacts[len(record.Artifacts)-1].Path
	}
	if sess.IsClosed() {
		diag.Errors = append(diag.Errors, "page closed")
	} else {
		if url, err := sess.URL(collectCtx); err != nil {
			diag.Errors = append(diag.Errors, "url: "+err.Error())
		} else {
			diag.URL = url
		}
		if title, err := sess.Title(collectCtx); err != nil {
			diag.Errors = append(diag.Errors, "title: "+err.Error())
		} else {
			diag.Title = title
		}
	}

	name := filepath.Join("diagnostics", capture.SanitizeLabel(scenario.ID, 0)+".json")
	written, err := r.artifacts.WriteJSON(name, diag)
	if err != nil {
		r.logger.Warn("failure diagnostics not written", zap.String("scenario", scenario.Name), zap.Error(err))
		r.correlator.SetMetadata(scenario.ID, "diagnostics_error", err.Error())
		return
	}
	r.correlator.SetMetadata(scenario.ID, "diagnostics", written)
	if diag.URL != "" {
		r.correlator.SetMetadata(scenario.ID, "failure_url", diag.URL)
	}
	if diag.Title != "" {
		r.correlator.SetMetadata(scenario.ID, "failure_title", diag.Title)
	}
}
