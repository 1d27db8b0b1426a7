package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Fanout sends each record to every handler enabled for its level.
type Fanout []slog.Handler

// Enabled reports whether any handler takes records at level.
func (f Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes r to every enabled handler. All handlers are tried; their
// errors are joined.
func (f Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithAttrs implements slog.Handler.
func (f Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(Fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

// WithGroup implements slog.Handler.
func (f Fanout) WithGroup(name string) slog.Handler {
	out := make(Fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// MinLevel drops records below a floor before they reach the wrapped
// handler, whatever level the handler itself accepts.
type MinLevel struct {
	slog.Handler
	Floor slog.Level
}

// Enabled implements slog.Handler.
func (m MinLevel) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= m.Floor && m.Handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (m MinLevel) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < m.Floor {
		return nil
	}
	return m.Handler.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (m MinLevel) WithAttrs(attrs []slog.Attr) slog.Handler {
	return MinLevel{Handler: m.Handler.WithAttrs(attrs), Floor: m.Floor}
}

// WithGroup implements slog.Handler.
func (m MinLevel) WithGroup(name string) slog.Handler {
	return MinLevel{Handler: m.Handler.WithGroup(name), Floor: m.Floor}
}
