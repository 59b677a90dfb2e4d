package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/browser"
	"github.com/splunk/browser-e2e/e2e/framework/config"
	"github.com/splunk/browser-e2e/e2e/framework/data"
	"github.com/splunk/browser-e2e/e2e/framework/logging"
	"github.com/splunk/browser-e2e/e2e/framework/objectstore"
	"github.com/splunk/browser-e2e/e2e/framework/runner"
	"github.com/splunk/browser-e2e/e2e/framework/spec"
	"github.com/splunk/browser-e2e/e2e/framework/steps"
	"github.com/splunk/browser-e2e/e2e/framework/telemetry"
)

const publishTimeout = 10 * time.Minute

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the selected scenarios",
		Long: `Run every scenario under --feature-dir that matches the tag filter.

Screenshots, reports and run artifacts are written to --artifact-dir. The
command exits non-zero when any scenario failed.`,
		Args: cobra.NoArgs,
	}
	cfg := config.Bind(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Resolve(cmd.Flags()); err != nil {
			return err
		}
		return run(cmd.Context(), cfg, cmd.OutOrStdout())
	}
	return cmd
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger, err := logging.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	telemetryClient, shutdownTelemetry, err := telemetry.Init(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("failed to shutdown telemetry", zap.Error(err))
		}
	}()

	testData, err := loadTestData(ctx, cfg, logger)
	if err != nil {
		return err
	}

	scenarios, err := spec.LoadAll(cfg.FeatureDir)
	if err != nil {
		return fmt.Errorf("failed to load scenarios: %w", err)
	}

	stepRegistry := steps.NewRegistry()
	steps.RegisterDefaults(stepRegistry)

	r, err := runner.NewRunner(cfg, logger, stepRegistry, browser.NewRodLauncher(logger), testData, telemetryClient)
	if err != nil {
		return fmt.Errorf("failed to initialize runner: %w", err)
	}

	start := time.Now().UTC()
	result, runErr := r.RunAll(ctx, scenarios)
	if runErr != nil {
		logger.Warn("run interrupted", zap.Error(runErr))
	}
	if err := r.FlushArtifacts(result); err != nil {
		logger.Error("failed to write artifacts", zap.Error(err))
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := r.PublishArtifacts(publishCtx, result); err != nil {
		logger.Warn("artifacts not published", zap.Error(err))
	}

	summary := result.Summary
	logger.Info("run complete",
		zap.Any("summary", summary),
		zap.String("artifacts", cfg.ArtifactDir),
		zap.Duration("duration", time.Since(start)))
	fmt.Fprintf(out, "scenarios: %d passed=%d failed=%d skipped=%d\n", summary.Total, summary.Passed, summary.Failed, summary.Skipped)

	if runErr != nil {
		return runErr
	}
	if summary.Failed > 0 {
		return errFailed
	}
	return nil
}

// loadTestData resolves object store URLs through the local cache before
// loading the document.
func loadTestData(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*data.TestData, error) {
	path := cfg.TestDataPath
	if _, remote := objectstore.ParseURL(path); remote {
		cache, err := data.NewCache(cfg.DataCacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open data cache: %w", err)
		}
		path, err = data.NewFetcher(cache, objectstore.FromConfig(cfg), logger).Fetch(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch test data: %w", err)
		}
	}
	testData, err := data.Load(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load test data: %w", err)
	}
	return testData, nil
}
