package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/logging"
	"github.com/splunk/browser-e2e/e2e/framework/orchestration"
)

func newOrchestratorCmd() *cobra.Command {
	var (
		listen    string
		seedPath  string
		delay     time.Duration
		logFormat string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Serve a mock orchestration service",
		Long: `Serve the orchestration tools (fetch_dynamic_data, report_test_result,
start_test_orchestration, stop_test_orchestration) over streamable HTTP.

Dynamic data is seeded from --seed, a YAML or JSON map of key to object.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.Build(logFormat, logLevel)
			if err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}
			defer logger.Sync()

			seed := map[string]map[string]interface{}{}
			if seedPath != "" {
				seed, err = orchestration.LoadSeed(seedPath)
				if err != nil {
					return fmt.Errorf("failed to load seed: %w", err)
				}
			}
			mock := orchestration.NewMockServer(seed,
				orchestration.WithMockLogger(logger),
				orchestration.WithResponseDelay(delay))
			return serve(cmd.Context(), &http.Server{Addr: listen, Handler: mock, ReadHeaderTimeout: 10 * time.Second}, logger)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":8089", "address to listen on")
	cmd.Flags().StringVar(&seedPath, "seed", "", "dynamic data seed file (YAML or JSON)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "artificial delay before every tool response")
	cmd.Flags().StringVar(&logFormat, "log-format", "console", "log format: json|console")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}

func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("orchestration service listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("orchestration service stopped")
	return nil
}
