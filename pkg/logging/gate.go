// Package logging provides slog helpers shared by the agent and hub.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Gate is a slog.Handler that drops records below Warn unless debug output is
// enabled. Warnings and errors always pass through to the wrapped handler.
type Gate struct {
	next  slog.Handler
	debug *atomic.Bool
}

// NewGate wraps next. The gate starts with debug output set to debug.
func NewGate(next slog.Handler, debug bool) *Gate {
	g := &Gate{next: next, debug: &atomic.Bool{}}
	g.debug.Store(debug)
	return g
}

// SetDebug enables or disables records below Warn. Loggers derived through
// WithAttrs or WithGroup share the setting.
func (g *Gate) SetDebug(enabled bool) {
	g.debug.Store(enabled)
}

// Debug reports whether records below Warn are emitted.
func (g *Gate) Debug() bool {
	return g.debug.Load()
}

// Enabled implements slog.Handler.
func (g *Gate) Enabled(ctx context.Context, level slog.Level) bool {
	if level < slog.LevelWarn && !g.debug.Load() {
		return false
	}
	return g.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (g *Gate) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < slog.LevelWarn && !g.debug.Load() {
		return nil
	}
	return g.next.Handle(ctx, record)
}

// WithAttrs implements slog.Handler.
func (g *Gate) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Gate{next: g.next.WithAttrs(attrs), debug: g.debug}
}

// WithGroup implements slog.Handler.
func (g *Gate) WithGroup(name string) slog.Handler {
	return &Gate{next: g.next.WithGroup(name), debug: g.debug}
}

// Discard returns a logger that drops everything. Tests use it to keep output quiet.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
