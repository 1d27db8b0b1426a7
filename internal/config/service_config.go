package config

import (
	services "github.com/syntrixbase/reindexer/internal/services/config"
)

// ServiceConfig is the configuration lifecycle every config section follows.
type ServiceConfig interface {
	// ApplyDefaults fills zero values with defaults.
	ApplyDefaults()

	// ApplyEnvOverrides applies environment variable overrides.
	ApplyEnvOverrides()

	// ResolvePaths makes relative paths absolute. configDir anchors
	// config-related paths; dataDir anchors runtime data such as the
	// standalone coordination database.
	ResolvePaths(configDir, dataDir string)

	// Validate returns an error if the configuration is invalid for mode.
	Validate(mode services.DeploymentMode) error
}

// ApplyServiceConfigs runs the lifecycle over each config in order and
// stops at the first validation error.
func ApplyServiceConfigs(configDir, dataDir string, mode services.DeploymentMode, configs ...ServiceConfig) error {
	for _, cfg := range configs {
		cfg.ApplyDefaults()
		cfg.ApplyEnvOverrides()
		cfg.ResolvePaths(configDir, dataDir)
		if err := cfg.Validate(mode); err != nil {
			return err
		}
	}
	return nil
}
