// Command browser-e2e runs browser scenarios, lists them, serves a mock
// orchestration service and queries run history.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/splunk/browser-e2e/e2e/framework/config"
)

// errFailed is returned when the run completed with failed scenarios.
var errFailed = errors.New("scenarios failed")

func main() {
	dotenv := os.Getenv("E2E_DOTENV")
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := config.LoadDotEnv(dotenv); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", dotenv, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "browser-e2e",
		Short:         "Run browser scenarios and collect evidence",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		newRunCmd(),
		newListCmd(),
		newOrchestratorCmd(),
		newQueryCmd(),
	)
	return rootCmd
}
