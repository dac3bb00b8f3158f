package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/reclaim/internal/daemon"
)

var (
	daemonInterval    time.Duration
	daemonMetricsAddr string
	daemonOnce        bool
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Discover and sweep continuously",
	Long: `Run reclaim as a daemon: discover and sweep the account on an interval,
store every snapshot and export the reclaimable set as metrics.

Endpoints:
- /metrics  Prometheus metrics
- /healthz  daemon health as JSON
- /readyz   ready once a cycle has completed

Stops gracefully on SIGTERM/SIGINT.`,
	Example: `  reclaim daemon                         # Run with config defaults
  reclaim daemon --interval 30m          # Sweep every 30 minutes
  reclaim daemon --metrics-addr :2112    # Custom metrics address
  reclaim daemon --once                  # One cycle, then exit`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Cycle interval (default daemon.interval)")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics HTTP address (default daemon.metrics_addr)")
	daemonCmd.Flags().BoolVar(&daemonOnce, "once", false, "Run one cycle and exit")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if daemonInterval > 0 {
		cfg.Daemon.Interval = daemonInterval
	}
	if daemonMetricsAddr != "" {
		cfg.Daemon.MetricsAddr = daemonMetricsAddr
	}
	if daemonOnce {
		cfg.Daemon.OneShot = true
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{discover: true, prometheus: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	d, err := daemon.NewDaemon(a.orchestrator, daemon.Config{
		Interval:    cfg.Daemon.Interval,
		MetricsAddr: cfg.Daemon.MetricsAddr,
		OneShot:     cfg.Daemon.OneShot,
		Signals:     true,
		Handler:     promhttp.Handler(),
		Logger:      &log.Logger,
	})
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
