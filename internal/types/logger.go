package types

import (
	"context"
	"log/slog"
)

// NewSlogLogger returns a *slog.Logger that forwards records to logger.
// A nil logger yields slog.Default().
func NewSlogLogger(logger Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return slog.New(slogAdapter{logger: logger})
}

//nolint:govet // Simple adapter struct - alignment optimization minimal
type slogAdapter struct {
	attrs  []slog.Attr
	logger Logger
	group  string
}

// Enabled implements slog.Handler. Level filtering is left to the wrapped logger.
func (a slogAdapter) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle implements slog.Handler.
//
//nolint:gocritic // slog.Handler interface requires passing Record by value
func (a slogAdapter) Handle(_ context.Context, r slog.Record) error {
	args := make([]any, 0, (len(a.attrs)+r.NumAttrs())*2)
	for _, attr := range a.attrs {
		args = append(args, attr.Key, attr.Value.Resolve().Any())
	}
	r.Attrs(func(attr slog.Attr) bool {
		args = append(args, a.qualify(attr.Key), attr.Value.Resolve().Any())
		return true
	})

	switch {
	case r.Level >= slog.LevelError:
		a.logger.Error(r.Message, args...)
	case r.Level >= slog.LevelWarn:
		a.logger.Warn(r.Message, args...)
	case r.Level >= slog.LevelInfo:
		a.logger.Info(r.Message, args...)
	default:
		a.logger.Debug(r.Message, args...)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (a slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	qualified := make([]slog.Attr, len(a.attrs), len(a.attrs)+len(attrs))
	copy(qualified, a.attrs)
	for _, attr := range attrs {
		qualified = append(qualified, slog.Attr{Key: a.qualify(attr.Key), Value: attr.Value})
	}
	return slogAdapter{logger: a.logger, attrs: qualified}.withGroup(a.group)
}

// WithGroup implements slog.Handler.
func (a slogAdapter) WithGroup(name string) slog.Handler {
	if name == "" {
		return a
	}
	return a.withGroup(a.qualify(name))
}

func (a slogAdapter) withGroup(group string) slogAdapter {
	a.group = group
	return a
}

func (a slogAdapter) qualify(key string) string {
	if a.group == "" {
		return key
	}
	return a.group + "." + key
}
