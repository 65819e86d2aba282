package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/cachescope/config"
	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/health"
	"github.com/c360/cachescope/natsclient"
	"github.com/c360/cachescope/session"
	"github.com/c360/cachescope/storage"
	"github.com/c360/cachescope/storage/memstore"
	"github.com/c360/cachescope/storage/natskv"
	"github.com/c360/cachescope/storage/redisstore"
	"github.com/c360/cachescope/storage/sealedstore"
	"github.com/c360/cachescope/storage/sqlitestore"
	"github.com/c360/cachescope/storagebridge"
)

// stores owns the backends opened for the storage namespaces.
type stores struct {
	logger  *slog.Logger
	monitor *health.Monitor
	opened  []storage.Store
	nats    map[string]*natsclient.Client
	entries []session.Storage
}

// openStores opens every configured backend and wraps it in the shape its
// namespace expects. On error everything opened so far is closed. NATS
// connection changes are reported to monitor when it is not nil.
func openStores(ctx context.Context, cfgs []config.StorageConfig, logger *slog.Logger,
	monitor *health.Monitor) (*stores, error) {
	s := &stores{logger: logger, monitor: monitor, nats: make(map[string]*natsclient.Client)}
	for _, c := range cfgs {
		store, err := s.open(ctx, c)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		s.opened = append(s.opened, store)

		ns := storagebridge.Namespace(c.Namespace)
		var backend storagebridge.Backend
		switch ns {
		case storagebridge.NamespaceMMKV:
			backend = storagebridge.Backend{Kind: storagebridge.KindMMKV, Instance: storage.NewListener(store)}
		case storagebridge.NamespaceAsync:
			backend = storagebridge.Backend{Kind: storagebridge.KindAsync, Instance: storage.Async{Store: store}}
		case storagebridge.NamespaceSecure:
			backend = storagebridge.Backend{Kind: storagebridge.KindSecure, Instance: storage.Secure{Store: store}}
		default:
			s.Close(ctx)
			return nil, errors.WrapInvalid(fmt.Errorf("%w: namespace %q", errors.ErrInvalidConfig, c.Namespace),
				"agent", "openStores", "select backend shape")
		}

		s.entries = append(s.entries, session.Storage{
			Namespace:    ns,
			Backend:      backend,
			PollInterval: c.PollInterval.Std(),
			Keys:         c.Keys,
		})
		logger.Info("storage namespace ready", "namespace", c.Namespace, "backend", c.Backend)
	}
	return s, nil
}

func (s *stores) open(ctx context.Context, c config.StorageConfig) (storage.Store, error) {
	switch c.Backend {
	case config.BackendMemory:
		return memstore.New(), nil
	case config.BackendSQLite:
		return sqlitestore.Open(c.Path)
	case config.BackendRedis:
		return redisstore.Open(ctx, c.URL, c.Prefix)
	case config.BackendSealed:
		return sealedstore.Open(c.Path, c.IdentityFile)
	case config.BackendNATS:
		client, err := s.natsClient(ctx, c)
		if err != nil {
			return nil, err
		}
		return natskv.New(ctx, client, c.Bucket)
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnsupportedBackend, c.Backend),
			"agent", "open", "open storage backend")
	}
}

// natsClient returns one connected client per server URL. Token and
// reconnect wait come from the first namespace naming that URL.
func (s *stores) natsClient(ctx context.Context, c config.StorageConfig) (*natsclient.Client, error) {
	url := c.URL
	if client, ok := s.nats[url]; ok {
		return client, nil
	}
	client, err := natsclient.NewClient(url, natsOptions(c, s.logger, s.monitor)...)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	if s.monitor != nil {
		natsHealthReporter(s.monitor, c.Bucket)(true)
	}

	s.nats[url] = client
	return client, nil
}

func natsOptions(c config.StorageConfig, logger *slog.Logger, monitor *health.Monitor) []natsclient.ClientOption {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithClientName(appName),
	}
	if c.Token != "" {
		opts = append(opts, natsclient.WithToken(c.Token))
	}
	if c.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(c.ReconnectWait.Std()))
	}
	if monitor != nil {
		opts = append(opts, natsclient.WithHealthChangeCallback(natsHealthReporter(monitor, c.Bucket)))
	}
	return opts
}

// natsHealthReporter records NATS connectivity as the "nats" component. A
// lost connection degrades the agent; nats.go keeps reconnecting.
func natsHealthReporter(monitor *health.Monitor, bucket string) func(bool) {
	return func(healthy bool) {
		if healthy {
			monitor.UpdateHealthy("nats", "connected, bucket "+bucket)
			return
		}
		monitor.UpdateDegraded("nats", "reconnecting, bucket "+bucket)
	}
}

// Storage returns the namespaces for the session.
func (s *stores) Storage() []session.Storage {
	return s.entries
}

// Close closes every backend, then the NATS connections they used.
func (s *stores) Close(ctx context.Context) {
	for _, store := range s.opened {
		if err := store.Close(); err != nil {
			s.logger.Warn("closing storage backend failed", "error", err)
		}
	}
	s.opened = nil
	for url, client := range s.nats {
		if err := client.Close(ctx); err != nil {
			s.logger.Warn("closing NATS connection failed", "url", url, "error", err)
		}
	}
	s.nats = map[string]*natsclient.Client{}
}
