package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/reindexer/internal/coordination"
	"github.com/syntrixbase/reindexer/internal/coordination/config"
	"github.com/syntrixbase/reindexer/internal/coordination/memory"
	"github.com/syntrixbase/reindexer/internal/coordination/mongo"
	"github.com/syntrixbase/reindexer/internal/coordination/nats"
	"github.com/syntrixbase/reindexer/internal/coordination/pebble"
	"github.com/syntrixbase/reindexer/internal/coordination/redis"
)

func TestNewStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Pebble.Path = t.TempDir()

	tests := []struct {
		backend string
		check   func(t *testing.T, s coordination.Store)
	}{
		{config.BackendMemory, func(t *testing.T, s coordination.Store) { assert.IsType(t, &memory.Store{}, s) }},
		{config.BackendPebble, func(t *testing.T, s coordination.Store) { assert.IsType(t, &pebble.Store{}, s) }},
		{config.BackendNATS, func(t *testing.T, s coordination.Store) { assert.IsType(t, &nats.Store{}, s) }},
		{config.BackendMongo, func(t *testing.T, s coordination.Store) { assert.IsType(t, &mongo.Store{}, s) }},
		{config.BackendRedis, func(t *testing.T, s coordination.Store) { assert.IsType(t, &redis.Store{}, s) }},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			c := cfg
			c.Backend = tt.backend
			s, err := NewStore(c, "h1/abc", nil)
			require.NoError(t, err)
			tt.check(t, s)
			assert.NoError(t, s.Close())
		})
	}
}

func TestNewStore_Unsupported(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "zookeeper"
	_, err := NewStore(cfg, "h1", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported coordination backend")
}

func TestNewStore_MemoryIsReady(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = config.BackendMemory
	s, err := NewStore(cfg, "h1", nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureReady(context.Background()))

	lease, err := s.Acquire(context.Background(), "notifications/t", 0)
	require.NoError(t, err)
	assert.Equal(t, "h1", lease.Owner())
	require.NoError(t, lease.Release(context.Background()))
}
