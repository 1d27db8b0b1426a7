package health

import (
	"fmt"
	"os"

	services "github.com/syntrixbase/reindexer/internal/services/config"
)

// Config configures the health server.
type Config struct {
	// Enabled turns the HTTP server on. Defaults to true.
	Enabled *bool `yaml:"enabled"`
	// Addr is the listen address. Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the default health configuration.
func DefaultConfig() Config {
	enabled := true
	return Config{Enabled: &enabled, Addr: ":9090"}
}

// IsEnabled reports whether the server should run.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultConfig().Addr
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("REINDEXER_HEALTH_ADDR"); val != "" {
		c.Addr = val
	}
}

// ResolvePaths resolves relative paths using the given base directories.
// No paths to resolve in health config.
func (c *Config) ResolvePaths(_, _ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate(_ services.DeploymentMode) error {
	if c.IsEnabled() && c.Addr == "" {
		return fmt.Errorf("health.addr is required")
	}
	return nil
}
