package runner

import (
	"context"
	"path"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/graph"
	"github.com/splunk/browser-e2e/e2e/framework/objectstore"
	"github.com/splunk/browser-e2e/e2e/framework/orchestration"
	"github.com/splunk/browser-e2e/e2e/framework/report"
	"github.com/splunk/browser-e2e/e2e/framework/results"
)

const neo4jExportTimeout = 5 * time.Minute

type orchestrationLog struct {
	State   string                 `json:"state"`
	Stats   orchestration.Stats    `json:"stats"`
	Results []orchestration.Result `json:"results"`
}

// FlushArtifacts writes the reports and run artifacts. Every output is
// attempted; failures are combined.
func (r *Runner) FlushArtifacts(run *results.RunReport) error {
	if run == nil {
		return nil
	}
	var errs error

	written, err := r.reports.Generate(*run, r.cfg.ReportFormats)
	errs = multierr.Append(errs, err)
	for format, file := range written {
		r.logger.Info("report written", zap.String("format", format), zap.String("path", file))
	}

	if _, err := r.artifacts.WriteJSON("results.json", run); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := r.artifacts.WriteJSON("summary.json", report.Summary(*run, time.Now())); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := r.artifacts.WriteJSON("orchestration_results.json", orchestrationLog{
		State:   r.orchestration.State().String(),
		Stats:   r.orchestration.Stats(),
		Results: r.orchestration.Results(),
	}); err != nil {
		errs = multierr.Append(errs, err)
	}

	if r.cfg.GraphEnabled {
		errs = multierr.Append(errs, r.writeGraph(*run))
	}
	if r.cfg.MetricsEnabled {
		if err := r.metrics.Write(r.cfg.MetricsPath); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (r *Runner) writeGraph(run results.RunReport) error {
	g := graph.Build(run, run.Metadata)
	var errs error
	if _, err := r.artifacts.WriteJSON("graph.json", g); err != nil {
		errs = multierr.Append(errs, err)
	}
	for name, diagram := range graph.NewPlantUMLGenerator(g, run).Diagrams() {
		if _, err := r.artifacts.WriteText(path.Join("diagrams", name), diagram); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if r.cfg.Neo4jEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), neo4jExportTimeout)
		defer cancel()
		err := graph.ExportNeo4j(ctx, graph.Neo4jConfig{
			URI:      r.cfg.Neo4jURI,
			User:     r.cfg.Neo4jUser,
			Password: r.cfg.Neo4jPassword,
			Database: r.cfg.Neo4jDatabase,
		}, g, r.logger)
		if err != nil {
			r.logger.Warn("neo4j export failed", zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// PublishArtifacts uploads the run directory to object storage under
// <run-id>/. It does nothing unless publishing is enabled and a provider is
// configured. A failure does not change the run status.
func (r *Runner) PublishArtifacts(ctx context.Context, run *results.RunReport) error {
	if !r.cfg.PublishArtifacts || r.cfg.ObjectStoreProvider == "" || run == nil {
		return nil
	}
	provider, err := r.newProvider(ctx, objectstore.FromConfig(r.cfg))
	if err != nil {
		r.logger.Error("object store unavailable", zap.Error(err))
		return err
	}
	defer provider.Close()

	files, err := r.artifacts.Files()
	if err != nil {
		return err
	}
	uploaded, err := objectstore.Publish(ctx, provider, r.artifacts.RunDir, files, run.RunID)
	r.logger.Info("artifacts published",
		zap.String("provider", objectstore.NormalizeProvider(r.cfg.ObjectStoreProvider)),
		zap.Int("files", len(files)),
		zap.Int("uploaded", len(uploaded)))
	if err != nil {
		r.logger.Error("artifact publish incomplete", zap.Error(err))
	}
	return err
}
