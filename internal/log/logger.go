package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog logger with the given level string (debug, info, warn, error).
func New(level string) *zerolog.Logger {
	logger, _, _ := NewWithFile(level, "")
	return logger
}

// NewWithFile builds a console logger that also appends JSON lines to path when path is set.
// The returned closer releases the file and is never nil.
func NewWithFile(level, path string) (*zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl := parseLevel(level)
	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if path == "" {
		logger := zerolog.New(console).Level(lvl).With().Timestamp().Logger()
		return &logger, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger := zerolog.New(console).Level(lvl).With().Timestamp().Logger()
		return &logger, nopCloser{}, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger := zerolog.New(console).Level(lvl).With().Timestamp().Logger()
		return &logger, nopCloser{}, fmt.Errorf("open log file: %w", err)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(console, f)).Level(lvl).With().Timestamp().Logger()
	return &logger, f, nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
