// Package redis implements the coordination store on Redis. Locks are
// SET NX PX keys holding the owner token; only the owner may extend or
// delete them.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/syntrixbase/reindexer/internal/coordination"
)

var (
	extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Config configures the Redis store.
type Config struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	SessionTTL time.Duration
	Owner      string
	Logger     *slog.Logger
}

// Store is a coordination.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	cfg    Config
	logger *slog.Logger
	owned  bool
}

var _ coordination.Store = (*Store)(nil)

// New creates a store with its own client.
func New(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := NewWithClient(client, cfg)
	s.owned = true
	return s, nil
}

// NewWithClient creates a store on an existing client, which Close leaves open.
func NewWithClient(client goredis.UniversalClient, cfg Config) *Store {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "reindexer:"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = coordination.DefaultSessionTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "coordination-redis"),
	}
}

// EnsureReady pings the server.
func (s *Store) EnsureReady(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return coordination.Wrap("ready", s.cfg.Addr, err)
	}
	return nil
}

// Acquire implements coordination.Store.
func (s *Store) Acquire(ctx context.Context, name string, timeout time.Duration) (coordination.Lease, error) {
	key := s.lockKey(name)
	owner := s.cfg.Owner
	ttl := s.cfg.SessionTTL

	var sent time.Time
	err := coordination.RetryAcquire(ctx, timeout, func(ctx context.Context) error {
		sent = time.Now()
		ok, err := s.client.SetNX(ctx, key, owner, ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return coordination.ErrBusy
		}
		return nil
	})
	if err != nil {
		return nil, coordination.Wrap("acquire", name, err)
	}

	return coordination.StartSession(coordination.SessionOptions{
		Name:       name,
		Owner:      owner,
		TTL:        ttl,
		AcquiredAt: sent,
		Heartbeat: func(ctx context.Context) error {
			n, err := extendScript.Run(ctx, s.client, []string{key}, owner, ttl.Milliseconds()).Int64()
			if err != nil {
				return err
			}
			if n == 0 {
				return coordination.ErrLeaseLost
			}
			return nil
		},
		Release: func(ctx context.Context) error {
			return releaseScript.Run(ctx, s.client, []string{key}, owner).Err()
		},
		Logger: s.logger,
	}), nil
}

// Read implements coordination.Store.
func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.blobKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, coordination.Wrap("read", key, err)
	}
	return data, true, nil
}

// Write implements coordination.Store.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.blobKey(key), data, 0).Err(); err != nil {
		return coordination.Wrap("write", key, err)
	}
	return nil
}

// Close closes the client if the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

func (s *Store) lockKey(name string) string { return s.cfg.KeyPrefix + "lock:" + name }
func (s *Store) blobKey(key string) string  { return s.cfg.KeyPrefix + "blob:" + key }
