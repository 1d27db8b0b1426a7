// Package config provides configuration for the reindexing maintainer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	services "github.com/syntrixbase/reindexer/internal/services/config"
)

// Config holds the reindexing maintainer configuration.
type Config struct {
	// Enabled is the master switch. A disabled maintainer never schedules.
	Enabled bool `yaml:"enabled"`

	// Tenant names the lock and the persisted state blob.
	// Defaults to "default".
	Tenant string `yaml:"tenant"`

	// ClusterName is the content cluster to reindex. Must be listed in Clusters.
	ClusterName string `yaml:"cluster_name"`

	// BaseInterval is the scheduler base interval. Defaults to 1m.
	BaseInterval time.Duration `yaml:"base_interval"`

	// PeerHostnames is the comma-joined fleet, e.g. "h1:2181,h2:2181".
	// Ports are ignored. Order defines each peer's slot.
	PeerHostnames string `yaml:"peer_hostnames"`

	// Hostname overrides os.Hostname when locating this process in the fleet.
	Hostname string `yaml:"hostname"`

	// CheckpointEveryN persists the cursor after this many updates. Defaults to 128.
	CheckpointEveryN int `yaml:"checkpoint_every_n"`

	// CheckpointEvery persists the cursor at least this often. Defaults to 10s.
	CheckpointEvery time.Duration `yaml:"checkpoint_every"`

	// GracePeriod bounds how long shutdown waits for an in-flight tick. Defaults to 20s.
	GracePeriod time.Duration `yaml:"grace_period"`

	// LockTimeout bounds each lock acquisition attempt. Defaults to 1s.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// Ready maps document type name to the epoch millisecond after which
	// it should be reindexed.
	Ready map[string]int64 `yaml:"ready"`

	// Clusters lists the known content clusters.
	Clusters map[string]ClusterConfig `yaml:"clusters"`

	// DocumentTypes is the document type registry.
	DocumentTypes map[string]DocumentTypeConfig `yaml:"document_types"`
}

// ClusterConfig describes one content cluster.
type ClusterConfig struct {
	ConfigID string `yaml:"config_id"`
	// DocumentTypes maps document type name to bucket space.
	DocumentTypes map[string]string `yaml:"document_types"`
}

// DocumentTypeConfig describes where documents of a type live.
type DocumentTypeConfig struct {
	// Collection holding the documents. Defaults to the type name.
	Collection string `yaml:"collection"`
	// Selection is an optional CEL expression over `doc` choosing the
	// documents to re-feed.
	Selection string `yaml:"selection"`
}

// DefaultConfig returns the default reindexing configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		Tenant:           "default",
		BaseInterval:     time.Minute,
		CheckpointEveryN: 128,
		CheckpointEvery:  10 * time.Second,
		GracePeriod:      20 * time.Second,
		LockTimeout:      time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Tenant == "" {
		c.Tenant = d.Tenant
	}
	if c.BaseInterval == 0 {
		c.BaseInterval = d.BaseInterval
	}
	if c.CheckpointEveryN == 0 {
		c.CheckpointEveryN = d.CheckpointEveryN
	}
	if c.CheckpointEvery == 0 {
		c.CheckpointEvery = d.CheckpointEvery
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = d.LockTimeout
	}
	for name, dt := range c.DocumentTypes {
		if dt.Collection == "" {
			dt.Collection = name
			c.DocumentTypes[name] = dt
		}
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("REINDEXER_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Enabled = b
		}
	}
	if val := os.Getenv("REINDEXER_CLUSTER"); val != "" {
		c.ClusterName = val
	}
	if val := os.Getenv("REINDEXER_PEERS"); val != "" {
		c.PeerHostnames = val
	}
	if val := os.Getenv("REINDEXER_HOSTNAME"); val != "" {
		c.Hostname = val
	}
}

// ResolvePaths resolves relative paths using the given base directories.
// No paths to resolve in reindexing config.
func (c *Config) ResolvePaths(_, _ string) { _ = c }

// Validate returns an error if the configuration is invalid. Cluster and
// document type names are checked against the registry when the
// maintainer is built.
func (c *Config) Validate(_ services.DeploymentMode) error {
	if c.Tenant == "" {
		return fmt.Errorf("reindexing.tenant is required")
	}
	if c.BaseInterval <= 0 {
		return fmt.Errorf("reindexing.base_interval must be positive")
	}
	if c.CheckpointEveryN <= 0 {
		return fmt.Errorf("reindexing.checkpoint_every_n must be positive")
	}
	if c.CheckpointEvery <= 0 {
		return fmt.Errorf("reindexing.checkpoint_every must be positive")
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("reindexing.grace_period must be positive")
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("reindexing.lock_timeout must not be negative")
	}
	if c.Enabled && c.ClusterName == "" {
		return fmt.Errorf("reindexing.cluster_name is required when enabled")
	}
	return nil
}
