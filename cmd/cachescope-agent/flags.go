package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/c360/cachescope/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths  []string
	InspectorURL string
	Codec        string
	DeviceName   string
	Mode         string
	LogLevel     string
	LogFormat    string
	MetricsAddr  string
	Debug        bool
	ShowVersion  bool
	Validate     bool

	flags *pflag.FlagSet
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)

	fs.StringArrayVarP(&cfg.ConfigPaths, "config", "c", nil,
		"Configuration file, JSON or YAML; repeat to layer files (env: CACHESCOPE_CONFIG)")
	fs.StringVar(&cfg.InspectorURL, "inspector-url", "", "Inspector hub websocket URL")
	fs.StringVar(&cfg.Codec, "codec", "", "Wire codec: json, cbor")
	fs.StringVar(&cfg.DeviceName, "device-name", "", "Device name shown in the inspector")
	fs.StringVar(&cfg.Mode, "mode", "", "Change detection mode: unconditional, strict")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "Log format: json, text")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Prometheus listen address, empty to disable")
	fs.BoolVar(&cfg.Debug, "debug", false, "Emit info and debug logs")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, `%s - query cache agent for the cachescope inspector

Usage: %s [options]

Options:
`, appName, appName)
		fs.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Layer a YAML file over the defaults and connect over CBOR
  %s -c agent.yaml --codec=cbor

  # Override a single field from the environment
  CACHESCOPE_INSPECTOR_URL=ws://10.0.2.2:42831/ %s
`, appName, appName)
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
func (c *CLIConfig) apply(cfg *config.AgentConfig) {
	changed := func(name string) bool { return c.flags != nil && c.flags.Changed(name) }

	if changed("inspector-url") {
		cfg.Inspector.URL = c.InspectorURL
	}
	if changed("codec") {
		cfg.Inspector.Codec = c.Codec
	}
	if changed("device-name") {
		cfg.Device.Name = c.DeviceName
	}
	if changed("mode") {
		cfg.Sync.Mode = c.Mode
	}
	if changed("log-level") {
		cfg.Log.Level = c.LogLevel
	}
	if changed("log-format") {
		cfg.Log.Format = c.LogFormat
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = c.MetricsAddr
	}
	if changed("debug") {
		cfg.Debug = c.Debug
	}
}
