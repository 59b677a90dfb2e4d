package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/splunk/browser-e2e/e2e/framework/config"
	"github.com/splunk/browser-e2e/e2e/framework/failures"
	"github.com/splunk/browser-e2e/e2e/framework/results"
)

var runStart = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func sampleRun(t *testing.T, shotsDir string) results.RunReport {
	t.Helper()
	shot := filepath.Join(shotsDir, "step_search_20260304_050608_000001.png")
	require.NoError(t, os.WriteFile(shot, []byte("png-bytes"), 0o644))

	scenarios := []results.ScenarioReport{
		{
			ID: "f:1", Name: "Search <AI>", Feature: "Google Search", Tags: []string{"@smoke"},
			Status: results.StatusPassed, Duration: 1500 * time.Millisecond,
			Records: []results.EvidenceRecord{{
				Step:      results.StepContext{Keyword: "When", Text: `I search for "AI"`},
				Status:    results.StatusPassed,
				Artifacts: []results.Artifact{{Path: shot, Kind: results.KindStep, Label: "search", CapturedAt: runStart.Add(time.Second)}},
			}},
		},
		{
			ID: "f:2", Name: "Title", Status: results.StatusFailed, Error: "title mismatch",
			Diagnostics: []string{"late artifact discarded"},
			Records: []results.EvidenceRecord{
				{Step: results.StepContext{Keyword: "Then", Text: "the page title should contain \"x\""}, Status: results.StatusFailed, Detail: "expected x"},
				{Step: results.StepContext{Keyword: "And", Text: "I wait 1s"}, Status: results.StatusSkipped},
			},
		},
		{ID: "f:3", Name: "Excluded", Status: results.StatusSkipped},
	}
	return results.RunReport{
		RunID:     "run-42",
		StartTime: runStart,
		EndTime:   runStart.Add(3 * time.Second),
		Duration:  3 * time.Second,
		Scenarios: scenarios,
		Summary:   results.Summarize(scenarios),
	}
}

func newGenerator(t *testing.T, opts Options) *Generator {
	g := NewGenerator(opts, zaptest.NewLogger(t))
	g.now = func() time.Time { return runStart.Add(time.Minute) }
	return g
}

func TestGenerateKeepsEarlierRunsFromTheSameSecond(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "reports")
	first := sampleRun(t, root)
	first.RunID = "run-a"
	second := sampleRun(t, root)
	second.RunID = "run-b"

	firstPaths, err := newGenerator(t, Options{Dir: dir}).Generate(first, []string{config.FormatJSON})
	require.NoError(t, err)
	secondPaths, err := newGenerator(t, Options{Dir: dir}).Generate(second, []string{config.FormatJSON})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "test_report_20260304_050607.json"), firstPaths["json"])
	assert.Equal(t, filepath.Join(dir, "test_report_20260304_050607-1.json"), secondPaths["json"])

	for path, runID := range map[string]string{firstPaths["json"]: "run-a", secondPaths["json"]: "run-b"} {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &doc))
		assert.Equal(t, runID, doc["run_id"], path)
	}
}

func TestGenerateBothFormats(t *testing.T) {
	root := t.TempDir()
	run := sampleRun(t, root)
	g := newGenerator(t, Options{Dir: filepath.Join(root, "reports"), Title: "Nightly"})

	paths, err := g.Generate(run, []string{config.FormatHTML, config.FormatJSON, "html"})
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(root, "reports", "test_report_20260304_050607.html"), paths["html"])
	assert.Equal(t, filepath.Join(root, "reports", "test_report_20260304_050607.json"), paths["json"])

	html, err := os.ReadFile(paths["html"])
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "<title>Nightly - 20260304_050607</title>")
	assert.Contains(t, page, "Search &lt;AI&gt;", "scenario names are escaped")
	assert.Contains(t, page, "#28a745")
	assert.Contains(t, page, "#dc3545")
	assert.Contains(t, page, "#ffc107")
	assert.Contains(t, page, `src="../step_search_20260304_050608_000001.png"`)
	assert.Contains(t, page, "Screenshot Gallery")
	assert.Contains(t, page, "late artifact discarded")
	assert.Contains(t, page, "33.33%")

	raw, err := os.ReadFile(paths["json"])
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "run-42", doc["run_id"])
	summary := doc["summary"].(map[string]any)
	assert.Equal(t, float64(3), summary["total"])
	assert.Equal(t, float64(1), summary["passed"])
	assert.Equal(t, float64(1), summary["failed"])
	assert.Equal(t, float64(1), summary["skipped"])
	assert.Equal(t, 33.33, summary["pass_rate"])
	assert.Equal(t, "2026-03-04T05:07:07Z", summary["generated_at"])
	assert.Equal(t, "run-42", summary["run_id"])
	assert.Len(t, doc["scenarios"], 3)

	keys := strings.Index(string(raw), `"total"`) < strings.Index(string(raw), `"pass_rate"`)
	assert.True(t, keys, "summary keys keep their order")
}

func TestEmbedImages(t *testing.T) {
	root := t.TempDir()
	run := sampleRun(t, root)
	g := newGenerator(t, Options{Dir: root, EmbedImages: true})

	paths, err := g.Generate(run, []string{config.FormatHTML})
	require.NoError(t, err)
	html, err := os.ReadFile(paths["html"])
	require.NoError(t, err)
	assert.Contains(t, string(html), "data:image/png;base64,cG5nLWJ5dGVz")
}

func TestEmbedFallsBackToLink(t *testing.T) {
	root := t.TempDir()
	run := sampleRun(t, root)
	run.Scenarios[0].Records[0].Artifacts[0].Path = filepath.Join(root, "gone.png")
	g := newGenerator(t, Options{Dir: root, EmbedImages: true})

	paths, err := g.Generate(run, []string{config.FormatHTML})
	require.NoError(t, err)
	html, err := os.ReadFile(paths["html"])
	require.NoError(t, err)
	assert.Contains(t, string(html), `src="gone.png"`)
}

func TestRenderFailureIsIsolated(t *testing.T) {
	saved := templateFS
	templateFS = fstest.MapFS{templatePath: {Data: []byte("{{ .Missing ")}}
	defer func() { templateFS = saved }()

	root := t.TempDir()
	g := newGenerator(t, Options{Dir: root})
	paths, err := g.Generate(sampleRun(t, root), []string{config.FormatHTML, config.FormatJSON, "pdf"})

	require.Error(t, err)
	assert.True(t, failures.Is(err, failures.ReportRenderFailure))
	assert.Contains(t, err.Error(), "render html")
	assert.Contains(t, err.Error(), "render pdf")
	assert.NotContains(t, paths, "html")
	assert.FileExists(t, paths["json"])
}

func TestEmptyRun(t *testing.T) {
	g := newGenerator(t, Options{Dir: t.TempDir(), BaseName: "empty"})
	paths, err := g.Generate(results.RunReport{RunID: "r", StartTime: runStart}, []string{config.FormatHTML, config.FormatJSON})
	require.NoError(t, err)

	html, err := os.ReadFile(paths["html"])
	require.NoError(t, err)
	assert.Contains(t, string(html), "No scenarios were run.")
	assert.NotContains(t, string(html), "Screenshot Gallery")

	raw, err := os.ReadFile(paths["json"])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"scenarios": []`)
	assert.True(t, strings.HasSuffix(paths["json"], "empty_20260304_050607.json"))
}

func TestStatusColor(t *testing.T) {
	assert.Equal(t, "#28a745", StatusColor(results.StatusPassed))
	assert.Equal(t, "#dc3545", StatusColor(results.StatusFailed))
	assert.Equal(t, "#ffc107", StatusColor(results.StatusSkipped))
	assert.Equal(t, "#6c757d", StatusColor("unknown"))
}
