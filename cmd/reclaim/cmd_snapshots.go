package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/reclaim/internal/store"
)

var snapshotsKeep int

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect and compact stored snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(func(s *store.Store) error {
			return printSnapshots(cmd.OutOrStdout(), s.List())
		})
	},
}

var snapshotsCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Delete all but the newest snapshots",
	Example: `  reclaim snapshots compact            # keep storage.keep_snapshots
  reclaim snapshots compact --keep 3`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keep := snapshotsKeep
		if keep == 0 {
			keep = cfg.Storage.KeepSnapshots
		}

		s, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		removed, err := s.Compact(keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d snapshot(s), kept %d, current revision %d\n",
			removed, len(s.List()), s.CurrentRevision())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsCompactCmd)

	snapshotsCompactCmd.Flags().IntVar(&snapshotsKeep, "keep", 0, "Snapshots to keep (default storage.keep_snapshots)")
}

func withStore(fn func(*store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(s)
}

func printSnapshots(out io.Writer, infos []store.Info) error {
	if len(infos) == 0 {
		fmt.Fprintln(out, "No snapshots stored")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REVISION\tTAKEN\tRESOURCES\tRELATIONS\tANOMALIES\tREGIONS")
	for _, info := range infos {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\n",
			info.Revision,
			info.Taken.UTC().Format(time.RFC3339),
			info.Resources,
			info.Relations,
			info.Meta.Anomalies,
			strings.Join(info.Meta.Regions, ","),
		)
	}
	return tw.Flush()
}
