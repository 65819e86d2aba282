// Package main runs a cachescope agent: a device process whose query cache
// is mirrored to, and controlled from, the inspector hub.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/c360/cachescope/changedetect"
	"github.com/c360/cachescope/config"
	"github.com/c360/cachescope/health"
	"github.com/c360/cachescope/identity"
	"github.com/c360/cachescope/metric"
	"github.com/c360/cachescope/pkg/tlsutil"
	"github.com/c360/cachescope/querycache"
	"github.com/c360/cachescope/session"
	"github.com/c360/cachescope/transport"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "cachescope-agent"
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

	logger, _ := setupLogger(os.Stdout, cfg.Log, cfg.Debug)
	slog.SetDefault(logger)

	if cli.Validate {
		fmt.Printf("configuration is valid (%d layers)\n", len(cli.ConfigPaths))
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return runAgent(ctx, cfg, logger)
}

// loadConfig layers the config files, the environment and the flags.
func loadConfig(cli *CLIConfig) (*config.AgentConfig, error) {
	loader := config.NewLoader()
	for _, path := range cli.ConfigPaths {
		loader.AddLayer(path)
	}
	cfg, err := loader.LoadAgent()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cli.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runAgent(ctx context.Context, cfg *config.AgentConfig, logger *slog.Logger) error {
	id, err := identity.Resolve(identity.Settings{
		DeviceName:   cfg.Device.Name,
		DeviceID:     cfg.Device.ID,
		DeviceIDFile: cfg.Device.IDFile,
		Platform:     cfg.Device.Platform,
		ExtraInfo:    cfg.Device.ExtraInfo,
		EnvPrefix:    cfg.Device.EnvPrefix,
	})
	if err != nil {
		return fmt.Errorf("resolve device identity: %w", err)
	}
	logger = logger.With("device_id", id.DeviceID)
	logger.Info("Starting cachescope agent",
		"device_name", id.DeviceName,
		"platform", id.Platform,
		"inspector", cfg.Inspector.URL)

	mode, err := changedetect.ParseMode(cfg.Sync.Mode)
	if err != nil {
		return err
	}
	codec, err := transport.CodecByName(cfg.Inspector.Codec)
	if err != nil {
		return err
	}

	transportOpts := []transport.Option{
		transport.WithCodec(codec),
		transport.WithLogger(logger),
		transport.WithHandshakeTimeout(cfg.Inspector.HandshakeTimeout.Std()),
	}
	if strings.HasPrefix(cfg.Inspector.URL, "wss://") {
		tlsConfig, err := tlsutil.LoadClientConfig(cfg.Inspector.TLS)
		if err != nil {
			return fmt.Errorf("load inspector TLS config: %w", err)
		}
		transportOpts = append(transportOpts, transport.WithTLSConfig(tlsConfig))
	}

	registry := metric.NewMetricsRegistry()
	transportOpts = append(transportOpts, transport.WithMetrics(registry))
	monitor := health.NewMonitor()

	backends, err := openStores(ctx, cfg.Storage, logger, monitor)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer backends.Close(context.Background())
	monitor.UpdateHealthy("storage", fmt.Sprintf("%d namespaces attached", len(cfg.Storage)))

	client := querycache.NewClient(
		querycache.WithLogger(logger),
		querycache.WithMetricsRegistry(registry),
	)
	defer client.Close()
	monitor.Register("cache", func() health.Status {
		return health.NewHealthy("cache", fmt.Sprintf("%d queries, %d mutations",
			len(client.QueryCache().GetAll()), len(client.MutationCache().GetAll())))
	})

	conn, err := transport.Default().Acquire(cfg.Inspector.URL, id, transportOpts...)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	defer func() { _ = transport.Default().Release(conn) }()

	monitor.UpdateDegraded("inspector", "not connected yet")
	unwatch := conn.OnStateChange(func(connected bool) {
		if connected {
			monitor.UpdateHealthy("inspector", "connected")
			return
		}
		monitor.UpdateDegraded("inspector", "reconnecting")
	})
	defer unwatch()

	sess, err := session.New(client, conn, id,
		session.WithMode(mode),
		session.WithStorage(backends.Storage()...),
		session.WithLogger(logger),
		session.WithMetrics(registry),
		session.WithTailTimeout(cfg.Sync.TailTimeout.Std()),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer func() {
		if err := sess.Stop(); err != nil {
			logger.Warn("session stop incomplete", "error", err)
		}
	}()

	d, err := startDemo(ctx, client)
	if err != nil {
		return fmt.Errorf("seed demo queries: %w", err)
	}
	defer d.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
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
	g.Go(func() error {
		return maintainConnection(gctx, conn,
			cfg.Inspector.ReconnectInitial.Std(), cfg.Inspector.ReconnectMax.Std(), logger)
	})

	err = g.Wait()
	logger.Info("cachescope agent stopped")
	return err
}
