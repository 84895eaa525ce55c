// Package logging configures the relay's structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger is the application-wide structured logger instance.
var Logger = slog.Default()

var level = new(slog.LevelVar)

// ParseLevel maps "debug", "info", "warn" and "error" to a slog.Level.
// Anything else yields slog.LevelInfo.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// InitLogger initializes the global logger writing to stdout.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
func InitLogger(levelName, format string) *slog.Logger {
	return InitLoggerTo(os.Stdout, levelName, format)
}

// InitLoggerTo is InitLogger with an explicit destination.
func InitLoggerTo(w io.Writer, levelName, format string) *slog.Logger {
	level.Set(ParseLevel(levelName))

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
	return Logger
}

// SetLevel changes the level of the logger built by InitLogger without
// rebuilding it.
func SetLevel(levelName string) {
	level.Set(ParseLevel(levelName))
}

// Level reports the current minimum level.
func Level() slog.Level {
	return level.Level()
}

// WithConn returns a logger with the conn_id field.
func WithConn(base *slog.Logger, id uuid.UUID) *slog.Logger {
	if base == nil {
		base = Logger
	}
	return base.With("conn_id", id.String())
}
