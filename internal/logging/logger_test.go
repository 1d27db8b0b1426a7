package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/reindexer/internal/config"
)

func testLoggingConfig(t *testing.T) config.LoggingConfig {
	cfg := config.DefaultLoggingConfig()
	cfg.Dir = t.TempDir()
	cfg.Console.Enabled = false
	return cfg
}

func TestNewLogger_WritesMainLog(t *testing.T) {
	cfg := testLoggingConfig(t)
	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("reindexer started", "slot", 1)
	require.NoError(t, Shutdown())

	content, err := os.ReadFile(filepath.Join(cfg.Dir, "reindexer.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "[INFO] reindexer started slot=1")
	assert.NoFileExists(t, filepath.Join(cfg.Dir, "errors.log"))
}

func TestNewLogger_ErrorLogGetsWarnAndAbove(t *testing.T) {
	cfg := testLoggingConfig(t)
	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("tick ran")
	logger.Warn("exception when reindexing")
	logger.Error("failed to shut down")
	require.NoError(t, Shutdown())

	main, err := os.ReadFile(filepath.Join(cfg.Dir, "reindexer.log"))
	require.NoError(t, err)
	assert.Contains(t, string(main), "tick ran")
	assert.Contains(t, string(main), "exception when reindexing")

	errs, err := os.ReadFile(filepath.Join(cfg.Dir, "errors.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(errs), "tick ran")
	assert.Contains(t, string(errs), "[WARN] exception when reindexing")
	assert.Contains(t, string(errs), "[ERROR] failed to shut down")
}

func TestNewLogger_JSONFormat(t *testing.T) {
	cfg := testLoggingConfig(t)
	cfg.File.Format = "json"
	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("test json", "key", "value")
	require.NoError(t, Shutdown())

	content, err := os.ReadFile(filepath.Join(cfg.Dir, "reindexer.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"test json"`)
	assert.Contains(t, string(content), `"key":"value"`)
}

func TestNewLogger_FileLevel(t *testing.T) {
	cfg := testLoggingConfig(t)
	cfg.File.Level = "warn"
	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, Shutdown())

	content, err := os.ReadFile(filepath.Join(cfg.Dir, "reindexer.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(content), "hidden")
	assert.Contains(t, string(content), "shown")
}

func TestNewLogger_NoOutputs(t *testing.T) {
	cfg := testLoggingConfig(t)
	cfg.File.Enabled = false
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Error("dropped")
}

func TestNewLogger_BadDirectory(t *testing.T) {
	cfg := testLoggingConfig(t)
	blocker := filepath.Join(cfg.Dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	cfg.Dir = filepath.Join(blocker, "logs")

	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestInitialize(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	cfg := testLoggingConfig(t)
	require.NoError(t, Initialize(cfg))
	require.NoError(t, Shutdown())

	content, err := os.ReadFile(filepath.Join(cfg.Dir, "reindexer.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Logging initialized")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
