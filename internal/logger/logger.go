// Package logger builds the slog loggers used by the model and the encdec
// tool.
package logger

import (
	"io"
	"log/slog"
	"strings"
)

// Logger is what the model and the decoding loop log through. Any slog
// handler can back it via New.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

type slogLogger struct {
	*slog.Logger
}

func (l slogLogger) With(args ...any) Logger {
	return slogLogger{l.Logger.With(args...)}
}

// New wraps handler.
func New(handler slog.Handler) Logger {
	return slogLogger{slog.New(handler)}
}

// Text logs human-readable lines at level and above.
func Text(w io.Writer, level slog.Level) Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// JSON logs one object per record at level and above.
func JSON(w io.Writer, level slog.Level) Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Nop discards everything.
func Nop() Logger {
	return New(slog.DiscardHandler)
}

// ParseLevel maps "debug", "warn"/"warning" and "error" to their slog
// levels, case-insensitively. Anything else is info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
