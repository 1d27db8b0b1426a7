package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coordination "github.com/syntrixbase/reindexer/internal/coordination/config"
	services "github.com/syntrixbase/reindexer/internal/services/config"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, "config")
	require.NoError(t, os.Mkdir(configDir, 0755))

	cfg, err := Load(configDir)
	require.NoError(t, err)

	assert.Equal(t, services.ModeDistributed, cfg.Deployment.Mode)
	assert.Equal(t, coordination.BackendNATS, cfg.Coordination.Backend)
	assert.False(t, cfg.Reindexing.Enabled)
	assert.Equal(t, time.Minute, cfg.Reindexing.BaseInterval)
	assert.Equal(t, 256, cfg.Visitor.BatchSize)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.Equal(t, filepath.Join(root, "logs"), cfg.Logging.Dir)
	assert.Equal(t, filepath.Join(root, "data"), cfg.Deployment.Standalone.DataDir)
}

func TestLoad_FileAndLocalOverride(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yml", `
deployment:
  mode: standalone
coordination:
  backend: pebble
reindexing:
  enabled: true
  cluster_name: content
  peer_hostnames: "h1:2181,h2:2181"
  base_interval: 30s
  ready:
    music: 1700000000000
  clusters:
    content:
      config_id: content/distributor
      document_types:
        music: default
  document_types:
    music:
      selection: doc.year > 2000
visitor:
  batch_size: 64
`)
	writeConfig(t, root, "config.local.yml", `
reindexing:
  hostname: h2
logging:
  level: debug
`)

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, services.ModeStandalone, cfg.Deployment.Mode)
	assert.Equal(t, filepath.Join(filepath.Dir(root), "data", "coordination"), cfg.Coordination.Pebble.Path)
	assert.True(t, cfg.Reindexing.Enabled)
	assert.Equal(t, "h2", cfg.Reindexing.Hostname)
	assert.Equal(t, 30*time.Second, cfg.Reindexing.BaseInterval)
	assert.Equal(t, int64(1_700_000_000_000), cfg.Reindexing.Ready["music"])
	assert.Equal(t, "music", cfg.Reindexing.DocumentTypes["music"].Collection)
	assert.Equal(t, "default", cfg.Reindexing.Clusters["content"].DocumentTypes["music"])
	assert.Equal(t, 64, cfg.Visitor.BatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "debug", cfg.Logging.Console.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	root := t.TempDir()
	t.Setenv("REINDEXER_ENABLED", "true")
	t.Setenv("REINDEXER_CLUSTER", "content")
	t.Setenv("REINDEXER_COORDINATION_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REINDEXER_LOG_LEVEL", "warn")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.True(t, cfg.Reindexing.Enabled)
	assert.Equal(t, "content", cfg.Reindexing.ClusterName)
	assert.Equal(t, coordination.BackendRedis, cfg.Coordination.Backend)
	assert.Equal(t, "cache:6379", cfg.Coordination.Redis.Addr)
	assert.Equal(t, "warn", cfg.Logging.File.Level)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "reindexing: ["},
		{"bad mode", "deployment:\n  mode: cluster\n"},
		{"standalone on networked backend", "deployment:\n  mode: standalone\ncoordination:\n  backend: nats\n"},
		{"enabled without cluster", "reindexing:\n  enabled: true\n"},
		{"bad log level", "logging:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, "config.yml", tt.content)
			_, err := Load(root)
			assert.Error(t, err)
		})
	}
}

func TestResolveDir(t *testing.T) {
	assert.Equal(t, "/srv/logs", resolveDir("/srv/config", "logs"))
	assert.Equal(t, "/srv/config/logs", resolveDir("/srv/config", "../config/logs"))
	assert.Equal(t, "/var/log/reindexer", resolveDir("/srv/config", "/var/log/reindexer"))
	assert.Equal(t, "", resolveDir("/srv/config", ""))
}

func TestLoggingConfig(t *testing.T) {
	var cfg LoggingConfig
	cfg.ApplyDefaults()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "text", cfg.Console.Format)
	assert.Equal(t, 100, cfg.Rotation.MaxSize)
	assert.False(t, cfg.Rotation.Compress)
	assert.NoError(t, cfg.Validate(services.ModeDistributed))

	cfg.File = OutputConfig{Enabled: true, Format: "xml"}
	assert.Error(t, cfg.Validate(services.ModeDistributed))

	cfg.File.Enabled = false
	cfg.Dir = ""
	assert.NoError(t, cfg.Validate(services.ModeDistributed))

	cfg.Format = "yaml"
	assert.Error(t, cfg.Validate(services.ModeDistributed))
}
