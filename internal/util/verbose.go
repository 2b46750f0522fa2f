package util

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	logger  *slog.Logger
	verbose atomic.Bool
)

// InitLogger initializes the global slog logger with appropriate level
func InitLogger(v bool) {
	InitLoggerTo(os.Stderr, v)
}

// InitLoggerTo is InitLogger with an explicit destination.
func InitLoggerTo(w io.Writer, v bool) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo, // Default level
	}

	if v {
		opts.Level = slog.LevelDebug
	}
	verbose.Store(v)

	handler := slog.NewTextHandler(w, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// GetLogger returns the configured logger instance
func GetLogger() *slog.Logger {
	if logger == nil {
		// Fallback initialization with INFO level
		InitLogger(false)
	}
	return logger
}

// SetVerbose records the --verbose flag and re-initializes the logger level.
func SetVerbose(v bool) {
	InitLogger(v)
}

// IsVerbose reports whether debug logging was requested.
func IsVerbose() bool {
	return verbose.Load()
}
