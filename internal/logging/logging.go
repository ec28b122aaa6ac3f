package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON *slog.Logger writing to stderr and, when logFile is set,
// appending to that file as well. The logger becomes the slog default. The
// cleanup func closes the log file and must be deferred by the caller.
func New(level, logFile string) (*slog.Logger, func(), error) {
	return newWithWriter(os.Stderr, level, logFile)
}

func newWithWriter(w io.Writer, level, logFile string) (*slog.Logger, func(), error) {
	cleanup := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(w, f)
		cleanup = func() { _ = f.Close() }
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	logger := slog.New(handler).With("app", "docustitch")
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// ParseLevel maps debug, info, warn and error (any case) to a slog level.
// Anything else is info.
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
