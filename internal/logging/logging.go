package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init creates and sets the package-level default slog logger on stderr.
// JSON output suits log collectors; text output is for people at a terminal.
func Init(jsonOutput bool, level slog.Level) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, jsonOutput, level)))
}

// NewHandler builds the handler Init installs, writing to w.
func NewHandler(w io.Writer, jsonOutput bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if jsonOutput {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel converts a string ("debug", "info", "warn", "error") to slog.Level.
// Unknown strings default to LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
