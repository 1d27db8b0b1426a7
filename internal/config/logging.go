package config

import (
	"fmt"
	"os"

	services "github.com/syntrixbase/reindexer/internal/services/config"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string         `yaml:"level"`  // debug, info, warn, error
	Format   string         `yaml:"format"` // text, json
	Dir      string         `yaml:"dir"`
	Rotation RotationConfig `yaml:"rotation"`
	Console  OutputConfig   `yaml:"console"`
	File     OutputConfig   `yaml:"file"`
}

// RotationConfig holds log rotation settings.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // MB
	MaxBackups int  `yaml:"max_backups"` // number of files
	MaxAge     int  `yaml:"max_age"`     // days
	Compress   bool `yaml:"compress"`
}

// OutputConfig configures one log destination. Empty level and format
// inherit the top-level values.
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats = map[string]bool{"text": true, "json": true}
)

// DefaultLoggingConfig returns default logging configuration.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
		Dir:    "logs",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		Console: OutputConfig{Enabled: true},
		File:    OutputConfig{Enabled: true},
	}
}

// ApplyDefaults fills in missing values with defaults. Compress cannot be
// told apart from an explicit false and is left alone.
func (c *LoggingConfig) ApplyDefaults() {
	d := DefaultLoggingConfig()
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Dir == "" {
		c.Dir = d.Dir
	}
	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = d.Rotation.MaxSize
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = d.Rotation.MaxBackups
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = d.Rotation.MaxAge
	}
	c.Console.inherit(c.Level, c.Format)
	c.File.inherit(c.Level, c.Format)
}

func (o *OutputConfig) inherit(level, format string) {
	if o.Level == "" {
		o.Level = level
	}
	if o.Format == "" {
		o.Format = format
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *LoggingConfig) ApplyEnvOverrides() {
	if val := os.Getenv("REINDEXER_LOG_LEVEL"); val != "" {
		c.Level = val
		c.Console.Level = val
		c.File.Level = val
	}
	if val := os.Getenv("REINDEXER_LOG_DIR"); val != "" {
		c.Dir = val
	}
}

// ResolvePaths places a relative log directory next to the config directory.
func (c *LoggingConfig) ResolvePaths(configDir, _ string) {
	c.Dir = resolveDir(configDir, c.Dir)
}

// Validate validates the configuration.
func (c *LoggingConfig) Validate(_ services.DeploymentMode) error {
	if !validLevels[c.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Level)
	}
	if !validFormats[c.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Format)
	}
	if c.File.Enabled && c.Dir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}
	for name, out := range map[string]OutputConfig{"console": c.Console, "file": c.File} {
		if !out.Enabled {
			continue
		}
		if out.Level != "" && !validLevels[out.Level] {
			return fmt.Errorf("invalid %s log level: %s", name, out.Level)
		}
		if out.Format != "" && !validFormats[out.Format] {
			return fmt.Errorf("invalid %s log format: %s", name, out.Format)
		}
	}
	return nil
}
