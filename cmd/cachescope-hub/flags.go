package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/c360/cachescope/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths []string
	Addr        string
	Path        string
	MetricsAddr string
	LogLevel    string
	LogFormat   string
	Debug       bool
	ShowVersion bool
	Validate    bool

	flags *pflag.FlagSet
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)

	fs.StringArrayVarP(&cfg.ConfigPaths, "config", "c", nil,
		"Configuration file, JSON or YAML; repeat to layer files (env: CACHESCOPE_CONFIG)")
	fs.StringVar(&cfg.Addr, "addr", "", "Listen address for devices and dashboards")
	fs.StringVar(&cfg.Path, "path", "", "Websocket path")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Prometheus listen address, empty to disable")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "Log format: json, text")
	fs.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "%s - relay between cachescope agents and dashboards\n\nUsage: %s [options]\n\nOptions:\n",
			appName, appName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if len(cfg.ConfigPaths) == 0 {
		if path := os.Getenv("CACHESCOPE_CONFIG"); path != "" {
			cfg.ConfigPaths = []string{path}
		}
	}
	cfg.flags = fs
	return cfg, nil
}

// apply copies explicitly set flags over the loaded configuration.
func (c *CLIConfig) apply(cfg *config.HubConfig) {
	changed := func(name string) bool { return c.flags != nil && c.flags.Changed(name) }

	if changed("addr") {
		cfg.Addr = c.Addr
	}
	if changed("path") {
		cfg.Path = c.Path
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = c.MetricsAddr
	}
	if changed("log-level") {
		cfg.Log.Level = c.LogLevel
	}
	if changed("log-format") {
		cfg.Log.Format = c.LogFormat
	}
	if changed("debug") {
		cfg.Debug = c.Debug
	}
	if cfg.Debug {
		cfg.Log.Level = "debug"
	}
}
