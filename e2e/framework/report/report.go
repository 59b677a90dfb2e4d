// Package report renders a RunReport as timestamped HTML and JSON files.
package report

import (
	"bytes"
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/artifacts"
	"github.com/splunk/browser-e2e/e2e/framework/config"
	"github.com/splunk/browser-e2e/e2e/framework/failures"
	"github.com/splunk/browser-e2e/e2e/framework/results"
)

// TimestampLayout is embedded in every report file name.
const TimestampLayout = "20060102_150405"

//go:embed templates/report.html.tmpl
var embeddedTemplates embed.FS

// overridden by tests
var (
	templateFS   fs.FS = embeddedTemplates
	templatePath       = "templates/report.html.tmpl"
)

var statusColors = map[results.Status]string{
	results.StatusPassed:  "#28a745",
	results.StatusFailed:  "#dc3545",
	results.StatusSkipped: "#ffc107",
}

// StatusColor returns the display color of status.
func StatusColor(status results.Status) string {
	if color, ok := statusColors[status]; ok {
		return color
	}
	return "#6c757d"
}

// Options configure a Generator.
type Options struct {
	Dir         string
	BaseName    string
	Title       string
	EmbedImages bool
}

// OptionsFromConfig maps run configuration onto generator options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dir:         cfg.ReportDir,
		BaseName:    cfg.ReportBaseName,
		Title:       cfg.ReportTitle,
		EmbedImages: cfg.EmbedImages,
	}
}

// Generator writes reports into one directory.
type Generator struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewGenerator returns a Generator.
func NewGenerator(opts Options, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(opts.BaseName) == "" {
		opts.BaseName = "test_report"
	}
	if strings.TrimSpace(opts.Title) == "" {
		opts.Title = "Test Report"
	}
	return &Generator{opts: opts, logger: logger.With(zap.String("component", "report")), now: time.Now}
}

// FileName returns the report file name for a format and run start time.
// Generate adds a -N suffix when that name is already taken.
func (g *Generator) FileName(format string, start time.Time) string {
	return fmt.Sprintf("%s_%s.%s", g.opts.BaseName, start.Format(TimestampLayout), format)
}

// Generate renders run in each requested format and returns the written path
// per format. A format that fails to render does not stop the others; every
// failure is returned as a ReportRenderFailure, combined.
func (g *Generator) Generate(run results.RunReport, formats []string) (map[string]string, error) {
	writer, err := artifacts.NewWriter(g.opts.Dir)
	if err != nil {
		return nil, failures.Wrap(failures.ReportRenderFailure, "create report dir", err)
	}
	start := run.StartTime
	if start.IsZero() {
		start = g.now()
	}
	generatedAt := g.now()

	paths := make(map[string]string, len(formats))
	var errs error
	for _, format := range dedupe(formats) {
		var payload []byte
		var renderErr error
		switch format {
		case config.FormatHTML:
			payload, renderErr = g.renderHTML(run, start, generatedAt)
		case config.FormatJSON:
			payload, renderErr = renderJSON(run, start, generatedAt)
		default:
			renderErr = fmt.Errorf("unsupported format %q", format)
		}
		if renderErr == nil {
			var path string
			path, renderErr = writer.WriteExclusive(g.FileName(format, start), payload)
			if renderErr == nil {
				paths[format] = path
				g.logger.Info("report generated", zap.String("format", format), zap.String("path", path))
				continue
			}
		}
		g.logger.Warn("report render failed", zap.String("format", format), zap.Error(renderErr))
		errs = multierr.Append(errs, failures.Wrap(failures.ReportRenderFailure, "render "+format, renderErr))
	}
	return paths, errs
}

func dedupe(formats []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(formats))
	for _, format := range formats {
		format = strings.ToLower(strings.TrimSpace(format))
		if format == "" || seen[format] {
			continue
		}
		seen[format] = true
		out = append(out, format)
	}
	return out
}

// Summary is the enriched run summary, keys in a stable order.
func Summary(run results.RunReport, generatedAt time.Time) *orderedmap.OrderedMap[string, any] {
	summary := run.Summary
	if summary.Total == 0 && len(run.Scenarios) > 0 {
		summary = results.Summarize(run.Scenarios)
	}
	out := orderedmap.New[string, any]()
	out.Set("total", summary.Total)
	out.Set("passed", summary.Passed)
	out.Set("failed", summary.Failed)
	out.Set("skipped", summary.Skipped)
	out.Set("pass_rate", summary.PassRate)
	out.Set("generated_at", generatedAt.UTC().Format(time.RFC3339))
	out.Set("run_id", run.RunID)
	return out
}

func renderJSON(run results.RunReport, start, generatedAt time.Time) ([]byte, error) {
	doc := orderedmap.New[string, any]()
	doc.Set("run_id", run.RunID)
	doc.Set("timestamp", start.Format(TimestampLayout))
	doc.Set("generated_at", generatedAt.UTC().Format(time.RFC3339))
	doc.Set("start_time", run.StartTime)
	doc.Set("end_time", run.EndTime)
	doc.Set("duration", run.Duration)
	doc.Set("summary", Summary(run, generatedAt))
	doc.Set("scenarios", nonNil(run.Scenarios))
	if len(run.Metadata) > 0 {
		doc.Set("metadata", run.Metadata)
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode json report")
	}
	return payload, nil
}

func nonNil(scenarios []results.ScenarioReport) []results.ScenarioReport {
	if scenarios == nil {
		return []results.ScenarioReport{}
	}
	return scenarios
}

type htmlView struct {
	Title       string
	RunID       string
	Timestamp   string
	GeneratedAt string
	Summary     results.Summary
	Scenarios   []scenarioView
	Gallery     []galleryItem
}

type scenarioView struct {
	Name        string
	Feature     string
	Tags        []string
	Status      results.Status
	Duration    string
	Error       string
	Diagnostics []string
	Records     []recordView
}

type recordView struct {
	Number   int
	Keyword  string
	Text     string
	Status   results.Status
	Detail   string
	Duration string
	Images   []imageView
}

type imageView struct {
	Src        template.URL
	Label      string
	Kind       results.ArtifactKind
	CapturedAt string
}

type galleryItem struct {
	imageView
	Scenario string
	Step     string
}

func (g *Generator) renderHTML(run results.RunReport, start, generatedAt time.Time) ([]byte, error) {
	source, err := fs.ReadFile(templateFS, templatePath)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", templatePath)
	}
	tpl, err := template.New("report").
		Funcs(template.FuncMap{"statusColor": func(status results.Status) template.CSS {
			return template.CSS(StatusColor(status))
		}}).
		Option("missingkey=error").
		Parse(string(source))
	if err != nil {
		return nil, errors.Wrap(err, "parse html template")
	}

	summary := run.Summary
	if summary.Total == 0 && len(run.Scenarios) > 0 {
		summary = results.Summarize(run.Scenarios)
	}
	view := htmlView{
		Title:       g.opts.Title,
		RunID:       run.RunID,
		Timestamp:   start.Format(TimestampLayout),
		GeneratedAt: generatedAt.Format("2006-01-02 15:04:05"),
		Summary:     summary,
	}
	for _, scenario := range run.Scenarios {
		sv := scenarioView{
			Name:        scenario.Name,
			Feature:     scenario.Feature,
			Tags:        scenario.Tags,
			Status:      scenario.Status,
			Duration:    seconds(scenario.Duration),
			Error:       scenario.Error,
			Diagnostics: scenario.Diagnostics,
		}
		for i, record := range scenario.Records {
			rv := recordView{
				Number:   i + 1,
				Keyword:  record.Step.Keyword,
				Text:     record.Step.Text,
				Status:   record.Status,
				Detail:   record.Detail,
				Duration: seconds(record.Duration),
			}
			for _, artifact := range record.Artifacts {
				image := g.image(artifact)
				rv.Images = append(rv.Images, image)
				view.Gallery = append(view.Gallery, galleryItem{imageView: image, Scenario: scenario.Name, Step: record.Step.Text})
			}
			sv.Records = append(sv.Records, rv)
		}
		view.Scenarios = append(view.Scenarios, sv)
	}

	var out bytes.Buffer
	if err := tpl.Execute(&out, view); err != nil {
		return nil, errors.Wrap(err, "execute html template")
	}
	return out.Bytes(), nil
}

// image links the artifact relative to the report dir, or inlines it when
// embedding is on and the file is readable.
func (g *Generator) image(artifact results.Artifact) imageView {
	view := imageView{
		Label:      artifact.Label,
		Kind:       artifact.Kind,
		CapturedAt: artifact.CapturedAt.Format("15:04:05.000"),
	}
	if g.opts.EmbedImages {
		data, err := os.ReadFile(artifact.Path)
		if err == nil {
			view.Src = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(data))
			return view
		}
		g.logger.Warn("embed screenshot failed, linking instead", zap.String("path", artifact.Path), zap.Error(err))
	}
	link := artifact.Path
	if rel, err := filepath.Rel(g.opts.Dir, artifact.Path); err == nil && filepath.IsAbs(artifact.Path) == filepath.IsAbs(g.opts.Dir) {
		link = rel
	}
	view.Src = template.URL(filepath.ToSlash(link))
	return view
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
