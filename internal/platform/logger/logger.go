package logger

import (
	"log/slog"
	"os"
)

// New returns a structured JSON logger writing to stdout.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// NewText returns a text logger, convenient for local runs and tests.
func NewText() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}
