// Package config provides configuration for the document visitor that
// re-feeds documents during reindexing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	services "github.com/syntrixbase/reindexer/internal/services/config"
)

// Config holds the visitor configuration.
type Config struct {
	// BatchSize is the number of documents read per worker call. Defaults to 256.
	BatchSize int `yaml:"batch_size"`

	// Source is where documents are read from.
	Source MongoConfig `yaml:"source"`

	// Sink is where documents are re-fed to.
	Sink NATSConfig `yaml:"sink"`
}

// MongoConfig configures the MongoDB document source.
type MongoConfig struct {
	URI          string        `yaml:"uri"`
	DatabaseName string        `yaml:"database_name"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// NATSConfig configures the JetStream re-feed sink.
type NATSConfig struct {
	URL string `yaml:"url"`

	// StreamName is created on start if missing. Defaults to "REINDEX".
	StreamName string `yaml:"stream_name"`

	// SubjectPrefix prefixes every subject: <prefix>.<cluster>.<type>.
	// Defaults to "reindex".
	SubjectPrefix string `yaml:"subject_prefix"`

	// RetryAttempts bounds publish retries when no responders are available.
	RetryAttempts int `yaml:"retry_attempts"`
}

// DefaultConfig returns the default visitor configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize: 256,
		Source: MongoConfig{
			URI:          "mongodb://localhost:27017",
			DatabaseName: "syntrix",
			QueryTimeout: 30 * time.Second,
		},
		Sink: NATSConfig{
			URL:           "nats://localhost:4222",
			StreamName:    "REINDEX",
			SubjectPrefix: "reindex",
			RetryAttempts: 3,
		},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Source.URI == "" {
		c.Source.URI = d.Source.URI
	}
	if c.Source.DatabaseName == "" {
		c.Source.DatabaseName = d.Source.DatabaseName
	}
	if c.Source.QueryTimeout == 0 {
		c.Source.QueryTimeout = d.Source.QueryTimeout
	}
	if c.Sink.URL == "" {
		c.Sink.URL = d.Sink.URL
	}
	if c.Sink.StreamName == "" {
		c.Sink.StreamName = d.Sink.StreamName
	}
	if c.Sink.SubjectPrefix == "" {
		c.Sink.SubjectPrefix = d.Sink.SubjectPrefix
	}
	if c.Sink.RetryAttempts == 0 {
		c.Sink.RetryAttempts = d.Sink.RetryAttempts
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("VISITOR_MONGO_URI"); val != "" {
		c.Source.URI = val
	}
	if val := os.Getenv("VISITOR_MONGO_DATABASE"); val != "" {
		c.Source.DatabaseName = val
	}
	if val := os.Getenv("VISITOR_NATS_URL"); val != "" {
		c.Sink.URL = val
	}
	if val := os.Getenv("VISITOR_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.BatchSize = n
		}
	}
}

// ResolvePaths resolves relative paths using the given base directories.
// No paths to resolve in visitor config.
func (c *Config) ResolvePaths(_, _ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate(_ services.DeploymentMode) error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("visitor.batch_size must be positive")
	}
	if c.Source.URI == "" {
		return fmt.Errorf("visitor.source.uri is required")
	}
	if c.Source.DatabaseName == "" {
		return fmt.Errorf("visitor.source.database_name is required")
	}
	if c.Source.QueryTimeout <= 0 {
		return fmt.Errorf("visitor.source.query_timeout must be positive")
	}
	if c.Sink.URL == "" {
		return fmt.Errorf("visitor.sink.url is required")
	}
	if c.Sink.StreamName == "" || c.Sink.SubjectPrefix == "" {
		return fmt.Errorf("visitor.sink.stream_name and subject_prefix are required")
	}
	if c.Sink.RetryAttempts < 0 {
		return fmt.Errorf("visitor.sink.retry_attempts must not be negative")
	}
	return nil
}
