// Package main runs the cachescope inspector hub.
package main

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/c360/cachescope/config"
	"github.com/c360/cachescope/health"
	"github.com/c360/cachescope/inspector"
	"github.com/c360/cachescope/metric"
	"github.com/c360/cachescope/pkg/tlsutil"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "cachescope-hub"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(args)
	if err != nil {
		return err
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger := setupLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "layers", cli.ConfigPaths)
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	return serve(ctx, cfg, ln, logger)
}

// loadConfig layers the config files, the environment and the flags.
func loadConfig(cli *CLIConfig) (*config.HubConfig, error) {
	loader := config.NewLoader()
	for _, path := range cli.ConfigPaths {
		loader.AddLayer(path)
	}
	cfg, err := loader.LoadHub()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cli.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func hubConfig(cfg *config.HubConfig) inspector.Config {
	return inspector.Config{
		Addr:            cfg.Addr,
		Path:            cfg.Path,
		PingInterval:    cfg.PingInterval.Std(),
		WriteTimeout:    cfg.WriteTimeout.Std(),
		CommandRate:     cfg.CommandRate,
		CommandBurst:    cfg.CommandBurst,
		ShutdownTimeout: cfg.ShutdownTimeout.Std(),
	}
}

// serve runs the hub on ln, plus the metrics server when configured, until
// ctx ends.
func serve(ctx context.Context, cfg *config.HubConfig, ln net.Listener, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	hub, err := inspector.New(hubConfig(cfg),
		inspector.WithLogger(logger),
		inspector.WithMetrics(registry),
	)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("create hub: %w", err)
	}

	tlsConfig, err := tlsutil.LoadServerConfig(cfg.TLS)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("load TLS config: %w", err)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
		logger.Info("serving wss", "min_version", cfg.TLS.MinVersion, "mutual_tls", len(cfg.TLS.ClientCAFiles) > 0)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		monitor := health.NewMonitor()
		monitor.Register("devices", func() health.Status {
			return health.NewHealthy("devices", fmt.Sprintf("%d devices connected", len(hub.Devices())))
		})
		server := metric.NewServer(cfg.MetricsAddr, "", registry,
			metric.WithHealthHandler(monitor.Handler(appName)))
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Stop(stopCtx)
		})
		logger.Info("metrics available", "address", server.Address())
	}
	g.Go(func() error { return hub.Serve(gctx, ln) })

	err = g.Wait()
	logger.Info("cachescope hub stopped")
	return err
}
