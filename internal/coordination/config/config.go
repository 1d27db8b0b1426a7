// Package config provides configuration for the coordination backend.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	services "github.com/syntrixbase/reindexer/internal/services/config"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendNATS   = "nats"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
)

// Config selects and configures the coordination backend.
type Config struct {
	// Backend is one of memory, pebble, nats, mongo, redis.
	// Defaults to "nats".
	Backend string `yaml:"backend"`

	// SessionTTL is how long a lock outlives its last heartbeat.
	// Defaults to 15s.
	SessionTTL time.Duration `yaml:"session_ttl"`

	Pebble PebbleConfig `yaml:"pebble"`
	NATS   NATSConfig   `yaml:"nats"`
	Mongo  MongoConfig  `yaml:"mongo"`
	Redis  RedisConfig  `yaml:"redis"`
}

// PebbleConfig holds settings for the local pebble backend.
type PebbleConfig struct {
	// Path is resolved against the data dir when relative.
	Path string `yaml:"path"`
}

// NATSConfig holds settings for the JetStream KV backend.
type NATSConfig struct {
	URL         string `yaml:"url"`
	LockBucket  string `yaml:"lock_bucket"`
	StateBucket string `yaml:"state_bucket"`
}

// MongoConfig holds settings for the MongoDB backend.
type MongoConfig struct {
	URI             string `yaml:"uri"`
	DatabaseName    string `yaml:"database_name"`
	LockCollection  string `yaml:"lock_collection"`
	StateCollection string `yaml:"state_collection"`
}

// RedisConfig holds settings for the Redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultConfig returns the default coordination configuration.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendNATS,
		SessionTTL: 15 * time.Second,
		Pebble: PebbleConfig{
			Path: "coordination",
		},
		NATS: NATSConfig{
			URL:         "nats://localhost:4222",
			LockBucket:  "reindexer_locks",
			StateBucket: "reindexer_state",
		},
		Mongo: MongoConfig{
			URI:             "mongodb://localhost:27017",
			DatabaseName:    "reindexer",
			LockCollection:  "_reindexer_locks",
			StateCollection: "_reindexer_state",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "reindexer:",
		},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = d.SessionTTL
	}
	if c.Pebble.Path == "" {
		c.Pebble.Path = d.Pebble.Path
	}
	if c.NATS.URL == "" {
		c.NATS.URL = d.NATS.URL
	}
	if c.NATS.LockBucket == "" {
		c.NATS.LockBucket = d.NATS.LockBucket
	}
	if c.NATS.StateBucket == "" {
		c.NATS.StateBucket = d.NATS.StateBucket
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = d.Mongo.URI
	}
	if c.Mongo.DatabaseName == "" {
		c.Mongo.DatabaseName = d.Mongo.DatabaseName
	}
	if c.Mongo.LockCollection == "" {
		c.Mongo.LockCollection = d.Mongo.LockCollection
	}
	if c.Mongo.StateCollection == "" {
		c.Mongo.StateCollection = d.Mongo.StateCollection
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = d.Redis.Addr
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = d.Redis.KeyPrefix
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("REINDEXER_COORDINATION_BACKEND"); val != "" {
		c.Backend = val
	}
	if val := os.Getenv("NATS_URL"); val != "" {
		c.NATS.URL = val
	}
	if val := os.Getenv("MONGO_URI"); val != "" {
		c.Mongo.URI = val
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
}

// ResolvePaths makes the pebble path absolute under dataDir.
func (c *Config) ResolvePaths(_, dataDir string) {
	if c.Pebble.Path != "" && !filepath.IsAbs(c.Pebble.Path) {
		c.Pebble.Path = filepath.Join(dataDir, c.Pebble.Path)
	}
}

// Validate returns an error if the configuration is invalid.
// A standalone process keeps its locks local, so a fleet needs a networked backend.
func (c *Config) Validate(mode services.DeploymentMode) error {
	switch c.Backend {
	case BackendMemory, BackendPebble:
		if mode.IsDistributed() {
			return fmt.Errorf("coordination.backend %q cannot exclude peers in distributed mode", c.Backend)
		}
	case BackendNATS, BackendMongo, BackendRedis:
		if mode.IsStandalone() {
			return fmt.Errorf("coordination.backend %q requires distributed mode", c.Backend)
		}
	default:
		return fmt.Errorf("coordination.backend must be one of memory, pebble, nats, mongo, redis, got %q", c.Backend)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("coordination.session_ttl must be positive")
	}
	return nil
}
