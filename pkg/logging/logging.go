// Package logging provides shared logging utilities for pusherkit.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with pusherkit-specific helpers.
type Logger struct {
	base *slog.Logger
}

// Setup initializes logging with the given level and format, writing to
// stderr, and sets the result as the slog default.
// Valid levels: debug, info, warn, error. Valid formats: json, text.
func Setup(level, format string) *Logger {
	return SetupWriter(level, format, os.Stderr)
}

// SetupWriter initializes logging with the given level, format, and writer.
func SetupWriter(level, format string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	base := slog.New(handler)
	slog.SetDefault(base)
	return &Logger{base: base}
}

// ParseLevel maps a level name to its slog.Level. Unknown names log at info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a Logger wrapping the given slog.Logger.
// If base is nil, uses slog.Default().
func New(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{base: base}
}

// With returns a Logger carrying the given attributes on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{base: l.base.With(args...)}
}

// WithComponent adds a component name attribute.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(slog.String("component", name))
}

// WithChannel adds a channel name attribute.
func (l *Logger) WithChannel(name string) *Logger {
	return l.With(slog.String("channel", name))
}

// WithError adds an error attribute.
func (l *Logger) WithError(err error) *Logger {
	return l.With(slog.String("error", err.Error()))
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.base.Debug(msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.base.Info(msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.base.Warn(msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.base.Error(msg, args...)
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.base
}
