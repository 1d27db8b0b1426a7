// Package logging builds the process-wide slog logger: console output plus
// rotating log files.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/syntrixbase/reindexer/internal/config"
)

const (
	mainLogName  = "reindexer.log"
	errorLogName = "errors.log"
)

var (
	logFiles   []*lumberjack.Logger
	logFilesMu sync.Mutex
)

// Initialize installs the configured logger as slog's default.
func Initialize(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)
	slog.Info("Logging initialized",
		"level", cfg.Level,
		"format", cfg.Format,
		"dir", cfg.Dir,
		"console_enabled", cfg.Console.Enabled,
		"file_enabled", cfg.File.Enabled,
	)
	return nil
}

// NewLogger creates a logger for cfg. With files enabled, everything goes
// to reindexer.log and warnings and above are repeated in errors.log.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var handlers Fanout

	if cfg.Console.Enabled {
		handlers = append(handlers, newHandler(os.Stdout, cfg.Console.Format, ParseLevel(cfg.Console.Level)))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		main := openLogFile(cfg, mainLogName)
		handlers = append(handlers, newHandler(main, cfg.File.Format, ParseLevel(cfg.File.Level)))

		errs := openLogFile(cfg, errorLogName)
		handlers = append(handlers, MinLevel{
			Handler: newHandler(errs, cfg.File.Format, slog.LevelWarn),
			Floor:   slog.LevelWarn,
		})
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	case 1:
		return slog.New(handlers[0]), nil
	default:
		return slog.New(handlers), nil
	}
}

// Shutdown closes every log file opened by NewLogger.
func Shutdown() error {
	logFilesMu.Lock()
	defer logFilesMu.Unlock()

	var firstErr error
	for _, f := range logFiles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close log file: %w", err)
		}
	}
	logFiles = nil
	return firstErr
}

func openLogFile(cfg config.LoggingConfig, name string) *lumberjack.Logger {
	f := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}
	logFilesMu.Lock()
	logFiles = append(logFiles, f)
	logFilesMu.Unlock()
	return f
}

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch level {
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

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return NewTextHandler(w, opts)
}
