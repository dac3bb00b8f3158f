package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/reclaim/internal/orchestrator"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover the account and store a snapshot",
	Long: `Enumerate every configured service in every region, build the resource
graph and store it as a new snapshot. Nothing is swept; run "reclaim sweep"
to compute reclaimable resources from the stored graph.`,
	Example: `  reclaim discover
  reclaim discover --region eu-west-1 --region us-east-1
  reclaim discover -c reclaim.toml`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{discover: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	d, err := a.orchestrator.Discover(ctx)
	if err != nil {
		return err
	}
	return printDiscovery(cmd.OutOrStdout(), d)
}

func printDiscovery(out io.Writer, d *orchestrator.Discovery) error {
	resources, relations := d.Result.Graph.Len()
	fmt.Fprintf(out, "Snapshot %d (pass %s)\n", d.Revision, d.PassID)
	if d.Account != "" {
		fmt.Fprintf(out, "  Account:   %s\n", d.Account)
	}
	fmt.Fprintf(out, "  Resources: %d\n", resources)
	fmt.Fprintf(out, "  Relations: %d\n", relations)
	fmt.Fprintf(out, "  Anomalies: %d\n", len(d.Result.Anomalies))

	if len(d.Result.Anomalies) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSERVICE\tREGION\tRULE\tDETAIL")
	for _, a := range d.Result.Anomalies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Kind, a.Service, a.Region, a.Rule, a.Detail)
	}
	return tw.Flush()
}
