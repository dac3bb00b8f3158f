// Package config handles TOML configuration for reclaim.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	AWS       AWSConfig       `toml:"aws"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Roots     RootsConfig     `toml:"roots"`
	Report    ReportConfig    `toml:"report"`
	Storage   StorageConfig   `toml:"storage"`
	Export    ExportConfig    `toml:"export"`
	Daemon    DaemonConfig    `toml:"daemon"`
	OTEL      OTELConfig      `toml:"otel"`
	Log       LogConfig       `toml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Regions []string `toml:"regions"`
	Profile string   `toml:"profile"`
}

// DiscoveryConfig controls the extraction pass.
type DiscoveryConfig struct {
	// Mapping is an external rule set; empty means the built-in one.
	Mapping         string   `toml:"mapping"`
	Concurrency     int      `toml:"concurrency"`
	ExcludeKinds    []string `toml:"exclude_kinds"`
	ExcludeServices []string `toml:"exclude_services"`
}

// RootsConfig controls root-set construction.
type RootsConfig struct {
	Manifest    string `toml:"manifest"`
	Policy      string `toml:"policy"`
	ProtectUsed bool   `toml:"protect_used"`
}

// ReportConfig narrows what is reported as reclaimable.
type ReportConfig struct {
	IncludeTags map[string]string `toml:"include_tags"`
	ExcludeTags map[string]string `toml:"exclude_tags"`
}

// StorageConfig holds snapshot store settings.
type StorageConfig struct {
	Path          string `toml:"path"`
	KeepSnapshots int    `toml:"keep_snapshots"`
}

// ExportConfig holds file export settings.
type ExportConfig struct {
	D3Path string `toml:"d3_path"`
}

// DaemonConfig holds daemon mode settings.
type DaemonConfig struct {
	IntervalStr string        `toml:"interval"`
	Interval    time.Duration `toml:"-"`
	MetricsAddr string        `toml:"metrics_addr"`
	OneShot     bool          `toml:"one_shot"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Daemon.Interval, _ = time.ParseDuration(cfg.Daemon.IntervalStr)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse config: unknown key %q", undecoded[0].String())
	}

	applyDefaults(cfg)

	if err := parseInterval(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.AWS.Regions) == 0 {
		cfg.AWS.Regions = []string{"us-east-1"}
	}
	if cfg.Discovery.Concurrency == 0 {
		cfg.Discovery.Concurrency = 8
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = ".reclaim"
	}
	if cfg.Storage.KeepSnapshots == 0 {
		cfg.Storage.KeepSnapshots = 10
	}
	if cfg.Daemon.IntervalStr == "" {
		cfg.Daemon.IntervalStr = "1h"
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = ":9090"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "reclaim"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseInterval(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Daemon.IntervalStr)
	if err != nil {
		return fmt.Errorf("parse interval %q: %w", cfg.Daemon.IntervalStr, err)
	}
	cfg.Daemon.Interval = d
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if len(c.AWS.Regions) == 0 {
		errs = append(errs, errors.New("aws: at least one region required"))
	}
	if c.Discovery.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("discovery: concurrency must be positive (got %d)", c.Discovery.Concurrency))
	}
	if c.Storage.KeepSnapshots < 1 {
		errs = append(errs, fmt.Errorf("storage: keep_snapshots must be positive (got %d)", c.Storage.KeepSnapshots))
	}
	if c.Daemon.Interval <= 0 {
		errs = append(errs, fmt.Errorf("daemon: interval must be positive (got %s)", c.Daemon.Interval))
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		errs = append(errs, fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate))
	}
	return errors.Join(errs...)
}
