package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/cachescope/pkg/retry"
	"github.com/c360/cachescope/transport"
)

// maintainConnection keeps client connected until ctx ends. Each attempt is
// a single dial; the retry policy spaces them out and a lost connection
// starts a fresh round.
func maintainConnection(ctx context.Context, client *transport.Client, initial, maxDelay time.Duration, logger *slog.Logger) error {
	policy := retry.Persistent()
	policy.InitialDelay = initial
	policy.MaxDelay = maxDelay
	policy.OnRetry = func(attempt int, err error) {
		logger.Debug("inspector not reachable", "url", client.URL(), "attempt", attempt, "error", err)
	}

	for {
		err := retry.Do(ctx, policy, func() error { return client.Connect(ctx) })
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Warn("still unable to reach inspector", "url", client.URL(), "error", err)
			continue
		}

		logger.Info("connected to inspector", "url", client.URL())
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			logger.Warn("inspector connection lost", "url", client.URL())
		}
	}
}
