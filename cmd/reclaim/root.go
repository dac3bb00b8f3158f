package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/reclaim/internal/config"
	"github.com/yairfalse/reclaim/internal/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	debug      bool
	profile    string
	regions    []string

	rootCmd = &cobra.Command{
		Use:   "reclaim",
		Short: "Garbage collection for cloud infrastructure",
		Long: `Reclaim - mark-and-sweep garbage collection for cloud infrastructure

Reclaim discovers every resource of an AWS account, builds the graph of
relations between them and marks everything reachable from a set of roots:
resources declared by application manifests, resources in use and resources
a policy protects. Whatever is left unmarked is reported as reclaimable.

Reclaim never deletes anything.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Reclaim {{.Version}} - garbage collection for cloud infrastructure
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.StringVar(&profile, "profile", "", "AWS shared config profile")
	flags.StringSliceVar(&regions, "region", nil, "AWS regions to enumerate (repeatable)")
}

// loadConfig reads the config file when given and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if profile != "" {
		cfg.AWS.Profile = profile
	}
	if len(regions) > 0 {
		cfg.AWS.Regions = regions
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log.Logger = telemetry.NewLogger(os.Stderr, telemetry.LogOptions{
		Service: cfg.OTEL.ServiceName,
		Level:   cfg.Log.Level,
	})
	return cfg, nil
}
