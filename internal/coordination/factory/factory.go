// Package factory builds the configured coordination backend.
package factory

import (
	"fmt"
	"log/slog"

	"github.com/syntrixbase/reindexer/internal/coordination"
	"github.com/syntrixbase/reindexer/internal/coordination/config"
	"github.com/syntrixbase/reindexer/internal/coordination/memory"
	"github.com/syntrixbase/reindexer/internal/coordination/mongo"
	"github.com/syntrixbase/reindexer/internal/coordination/nats"
	"github.com/syntrixbase/reindexer/internal/coordination/pebble"
	"github.com/syntrixbase/reindexer/internal/coordination/redis"
)

// NewStore creates the backend named by cfg.Backend. Locks it hands out are
// owned by owner. The store is not connected until EnsureReady.
func NewStore(cfg config.Config, owner string, logger *slog.Logger) (coordination.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewStore(owner, logger), nil
	case config.BackendPebble:
		return pebble.New(pebble.Config{
			Path:   cfg.Pebble.Path,
			Owner:  owner,
			Logger: logger,
		})
	case config.BackendNATS:
		return nats.New(nats.Config{
			URL:         cfg.NATS.URL,
			LockBucket:  cfg.NATS.LockBucket,
			StateBucket: cfg.NATS.StateBucket,
			SessionTTL:  cfg.SessionTTL,
			Owner:       owner,
			Logger:      logger,
		})
	case config.BackendMongo:
		return mongo.New(mongo.Config{
			URI:             cfg.Mongo.URI,
			DatabaseName:    cfg.Mongo.DatabaseName,
			LockCollection:  cfg.Mongo.LockCollection,
			StateCollection: cfg.Mongo.StateCollection,
			SessionTTL:      cfg.SessionTTL,
			Owner:           owner,
			Logger:          logger,
		})
	case config.BackendRedis:
		return redis.New(redis.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			KeyPrefix:  cfg.Redis.KeyPrefix,
			SessionTTL: cfg.SessionTTL,
			Owner:      owner,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unsupported coordination backend: %s", cfg.Backend)
	}
}
