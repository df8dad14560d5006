package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a JSON slog.Logger writing to os.Stdout.
// debug forces the Debug level; otherwise level names one of debug, info, warn or error
// and anything unrecognised means Info.
func New(debug bool, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, debug, level)
}

// NewWithWriter creates a JSON slog.Logger with a specific writer.
func NewWithWriter(w io.Writer, debug bool, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(debug, level),
	}))
}

func parseLevel(debug bool, level string) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything. Tests use it to keep output quiet.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
