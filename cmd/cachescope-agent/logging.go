package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/c360/cachescope/config"
	"github.com/c360/cachescope/pkg/logging"
)

// setupLogger builds the root logger. Records below Warn pass only while
// the returned gate has debug output enabled.
func setupLogger(w io.Writer, cfg config.LogConfig, debug bool) (*slog.Logger, *logging.Gate) {
	var logLevel slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	gate := logging.NewGate(handler, debug)
	return slog.New(gate).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	), gate
}
