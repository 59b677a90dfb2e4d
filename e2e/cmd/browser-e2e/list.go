package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/splunk/browser-e2e/e2e/framework/config"
	"github.com/splunk/browser-e2e/e2e/framework/spec"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the scenarios selected by the tag filter",
		Args:  cobra.NoArgs,
	}
	cfg := config.Bind(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Resolve(cmd.Flags()); err != nil {
			return err
		}
		scenarios, err := spec.LoadAll(cfg.FeatureDir)
		if err != nil {
			return fmt.Errorf("failed to load scenarios: %w", err)
		}
		selected, skipped := spec.Filter(scenarios, cfg.IncludeTags, cfg.ExcludeTags)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFEATURE\tSCENARIO\tTAGS\tSTEPS")
		for _, scenario := range selected {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
				scenario.ID, scenario.Feature, scenario.Name, strings.Join(scenario.Tags, ","), len(scenario.Steps))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d selected, %d filtered out\n", len(selected), len(skipped))
		return nil
	}
	return cmd
}
