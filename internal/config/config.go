// Package config loads the process configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	coordination "github.com/syntrixbase/reindexer/internal/coordination/config"
	"github.com/syntrixbase/reindexer/internal/health"
	reindexing "github.com/syntrixbase/reindexer/internal/reindexer/config"
	services "github.com/syntrixbase/reindexer/internal/services/config"
	visitor "github.com/syntrixbase/reindexer/internal/visitor/config"
)

// Config holds the application configuration.
type Config struct {
	Deployment services.DeploymentConfig `yaml:"deployment"`
	Logging    LoggingConfig             `yaml:"logging"`
	Health     health.Config             `yaml:"health"`

	Coordination coordination.Config `yaml:"coordination"`
	Reindexing   reindexing.Config   `yaml:"reindexing"`
	Visitor      visitor.Config      `yaml:"visitor"`
}

// DefaultConfig returns the configuration used before any file is read.
func DefaultConfig() *Config {
	return &Config{
		Deployment:   services.DefaultDeploymentConfig(),
		Logging:      DefaultLoggingConfig(),
		Health:       health.DefaultConfig(),
		Coordination: coordination.DefaultConfig(),
		Reindexing:   reindexing.DefaultConfig(),
		Visitor:      visitor.DefaultConfig(),
	}
}

// Load reads configuration from configDir.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults -> ApplyEnvOverrides -> ResolvePaths -> Validate
func Load(configDir string) (*Config, error) {
	cfg := DefaultConfig()

	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	// Deployment goes first: its mode and data dir parameterize the rest.
	cfg.Deployment.ApplyDefaults()
	cfg.Deployment.ApplyEnvOverrides()
	if err := cfg.Deployment.Validate(cfg.Deployment.Mode); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	dataDir := resolveDir(configDir, cfg.Deployment.Standalone.DataDir)
	cfg.Deployment.Standalone.DataDir = dataDir

	if err := ApplyServiceConfigs(configDir, dataDir, cfg.Deployment.Mode,
		&cfg.Logging,
		&cfg.Health,
		&cfg.Coordination,
		&cfg.Reindexing,
		&cfg.Visitor,
	); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}

// resolveDir places a relative path next to the config directory, or
// relative to it when the path climbs out with "..".
func resolveDir(configDir, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	base := filepath.Dir(configDir)
	if len(dir) >= 2 && dir[:2] == ".." {
		base = configDir
	}
	return filepath.Clean(filepath.Join(base, dir))
}
