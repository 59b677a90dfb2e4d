package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/splunk/browser-e2e/e2e/framework/graph"
)

const queryTimeout = 30 * time.Second

var neo4jCfg graph.Neo4jConfig

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query run history exported to Neo4j",
	}

	cmd.PersistentFlags().StringVar(&neo4jCfg.URI, "neo4j-uri", os.Getenv("E2E_NEO4J_URI"), "Neo4j connection URI")
	cmd.PersistentFlags().StringVar(&neo4jCfg.User, "neo4j-user", os.Getenv("E2E_NEO4J_USER"), "Neo4j username")
	cmd.PersistentFlags().StringVar(&neo4jCfg.Password, "neo4j-password", os.Getenv("E2E_NEO4J_PASSWORD"), "Neo4j password")
	cmd.PersistentFlags().StringVar(&neo4jCfg.Database, "neo4j-database", getEnvOrDefault("E2E_NEO4J_DATABASE", "neo4j"), "Neo4j database name")

	cmd.AddCommand(
		newFailuresCmd(),
		newPassRateCmd(),
		newFlakyCmd(),
		newScreenshotsCmd(),
	)
	return cmd
}

// withQuery connects, runs fn and closes the connection.
func withQuery(ctx context.Context, fn func(context.Context, *graph.QueryInterface) error) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	qi, err := graph.NewQueryInterface(neo4jCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Neo4j: %w", err)
	}
	defer qi.Close(ctx)
	return fn(ctx, qi)
}

func newFailuresCmd() *cobra.Command {
	var category string
	var limit int

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List failed scenarios, optionally by error category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(cmd.Context(), func(ctx context.Context, qi *graph.QueryInterface) error {
				failures, err := qi.FindFailures(ctx, category, limit)
				if err != nil {
					return fmt.Errorf("query failed: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(failures) == 0 {
					fmt.Fprintln(out, "No failures found")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "RUN\tSCENARIO\tSTEP\tCATEGORY\tBROWSER\tERROR")
				for _, f := range failures {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						f.RunID, f.Scenario, f.FailureStep, f.ErrorCategory, f.Browser, f.ErrorMessage)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "error category, e.g. ElementNotFound or Timeout")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of results")
	return cmd
}

func newPassRateCmd() *cobra.Command {
	var feature string

	cmd := &cobra.Command{
		Use:   "pass-rate",
		Short: "Calculate the scenario pass rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(cmd.Context(), func(ctx context.Context, qi *graph.QueryInterface) error {
				stats, err := qi.PassRate(ctx, feature)
				if err != nil {
					return fmt.Errorf("query failed: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "=== Scenario Pass Rate ===")
				fmt.Fprintf(out, "Total:     %v\n", stats["total"])
				fmt.Fprintf(out, "Passed:    %v\n", stats["passed"])
				fmt.Fprintf(out, "Failed:    %v\n", stats["failed"])
				fmt.Fprintf(out, "Skipped:   %v\n", stats["skipped"])
				if rate, ok := stats["pass_rate"]; ok {
					fmt.Fprintf(out, "Pass Rate: %.2f%%\n", rate)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "limit to one feature")
	return cmd
}

func newFlakyCmd() *cobra.Command {
	var threshold float64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "flaky",
		Short: "Find scenarios that both pass and fail across runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(cmd.Context(), func(ctx context.Context, qi *graph.QueryInterface) error {
				flaky, err := qi.FindFlakyScenarios(ctx, threshold)
				if err != nil {
					return fmt.Errorf("query failed: %w", err)
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, flaky)
				}
				if len(flaky) == 0 {
					fmt.Fprintln(out, "No flaky scenarios found")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SCENARIO\tPASSED\tFAILED\tTOTAL\tPASS RATE")
				for _, f := range flaky {
					fmt.Fprintf(w, "%s\t%v\t%v\t%v\t%.2f\n", f["scenario"], f["passed"], f["failed"], f["total"], f["pass_rate"])
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0.1, "ignore scenarios whose pass rate is within threshold of 0 or 1")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newScreenshotsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "screenshots <step text>",
		Short: "List screenshots recorded for steps containing text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(cmd.Context(), func(ctx context.Context, qi *graph.QueryInterface) error {
				shots, err := qi.StepScreenshots(ctx, args[0], limit)
				if err != nil {
					return fmt.Errorf("query failed: %w", err)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "STEP\tSTATUS\tPATH")
				for _, shot := range shots {
					fmt.Fprintf(w, "%s\t%s\t%s\n", shot["step"], shot["status"], shot["path"])
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of results")
	return cmd
}

func writeJSON(out io.Writer, value any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
