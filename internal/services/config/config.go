package config

import (
	"fmt"
	"os"
)

// DeploymentMode represents the deployment mode of the service.
type DeploymentMode string

const (
	// ModeDistributed is the default mode where a fleet of peers shares a networked coordination backend.
	ModeDistributed DeploymentMode = "distributed"
	// ModeStandalone runs a single process that owns its coordination data locally.
	ModeStandalone DeploymentMode = "standalone"
)

// IsStandalone returns true if this is standalone mode.
func (m DeploymentMode) IsStandalone() bool {
	return m == ModeStandalone
}

// IsDistributed returns true if this is distributed mode.
// Empty string defaults to distributed.
func (m DeploymentMode) IsDistributed() bool {
	return m == "" || m == ModeDistributed
}

// DeploymentConfig holds deployment mode settings
type DeploymentConfig struct {
	Mode       DeploymentMode   `yaml:"mode"` // "standalone" or "distributed" (default)
	Standalone StandaloneConfig `yaml:"standalone"`
}

// StandaloneConfig holds standalone-specific settings
type StandaloneConfig struct {
	DataDir string `yaml:"data_dir"` // Root for locally persisted coordination state
}

func DefaultDeploymentConfig() DeploymentConfig {
	return DeploymentConfig{
		Mode: ModeDistributed,
		Standalone: StandaloneConfig{
			DataDir: "data",
		},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *DeploymentConfig) ApplyDefaults() {
	defaults := DefaultDeploymentConfig()
	if c.Mode == "" {
		c.Mode = defaults.Mode
	}
	if c.Standalone.DataDir == "" {
		c.Standalone.DataDir = defaults.Standalone.DataDir
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *DeploymentConfig) ApplyEnvOverrides() {
	if val := os.Getenv("REINDEXER_DEPLOYMENT_MODE"); val != "" {
		c.Mode = DeploymentMode(val)
	}
	if val := os.Getenv("REINDEXER_DATA_DIR"); val != "" {
		c.Standalone.DataDir = val
	}
}

// ResolvePaths resolves relative paths using the given base directories.
// The data dir is itself the base for other sections, so nothing to resolve here.
func (c *DeploymentConfig) ResolvePaths(_, _ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *DeploymentConfig) Validate(_ DeploymentMode) error {
	if c.Mode != "" && c.Mode != ModeStandalone && c.Mode != ModeDistributed {
		return fmt.Errorf("deployment.mode must be 'standalone' or 'distributed', got '%s'", c.Mode)
	}
	return nil
}
