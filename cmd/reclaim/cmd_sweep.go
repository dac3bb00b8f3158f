package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/reclaim/internal/emitter"
	"github.com/yairfalse/reclaim/internal/store"
)

var (
	sweepRevision int64
	sweepDiscover bool
	sweepFormat   string
	sweepD3       string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Report resources unreachable from any root",
	Long: `Mark every resource reachable from the roots and report the rest as
reclaimable. By default the latest stored snapshot is swept; --revision picks
an older one and --discover runs a fresh discovery first.`,
	Example: `  reclaim sweep
  reclaim sweep --revision 12
  reclaim sweep --discover --format json
  reclaim sweep --d3 graph.json`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().Int64Var(&sweepRevision, "revision", 0, "Snapshot revision to sweep (0 = latest)")
	sweepCmd.Flags().BoolVar(&sweepDiscover, "discover", false, "Discover the account before sweeping")
	sweepCmd.Flags().StringVarP(&sweepFormat, "format", "o", emitter.FormatTable, "Output format (table, json)")
	sweepCmd.Flags().StringVar(&sweepD3, "d3", "", "Write a D3 force-graph JSON file")
	sweepCmd.MarkFlagsMutuallyExclusive("revision", "discover")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{
		discover: sweepDiscover,
		out:      cmd.OutOrStdout(),
		format:   sweepFormat,
		d3Path:   sweepD3,
	})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	if sweepDiscover {
		_, err = a.orchestrator.RunCycle(ctx)
		return err
	}

	_, err = a.orchestrator.SweepSnapshot(ctx, sweepRevision)
	if errors.Is(err, store.ErrNotFound) && sweepRevision == 0 {
		return fmt.Errorf("no snapshot in %s: run \"reclaim discover\" or pass --discover", a.store.Path())
	}
	return err
}
