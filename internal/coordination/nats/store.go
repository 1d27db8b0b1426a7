// Package nats implements the coordination store on NATS JetStream key-value
// buckets. Locks live in a bucket whose TTL is the session timeout; holders
// keep them alive with revision-checked updates.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/reindexer/internal/coordination"
)

// Config configures the NATS store.
type Config struct {
	URL         string
	LockBucket  string
	StateBucket string
	SessionTTL  time.Duration
	Owner       string
	Logger      *slog.Logger
}

// bucket is the subset of a JetStream key-value bucket the store uses.
type bucket interface {
	Get(ctx context.Context, key string) ([]byte, uint64, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string, revision uint64) error
}

// natsConnectFunc connects to NATS (injectable for testing).
type natsConnectFunc func(url string) (*nats.Conn, error)

// bucketFactory provisions the lock and state buckets (injectable for testing).
type bucketFactory func(ctx context.Context, nc *nats.Conn, cfg Config) (locks, state bucket, err error)

var defaultNatsConnect natsConnectFunc = func(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name("reindexer"))
}

var defaultBucketFactory bucketFactory = func(ctx context.Context, nc *nats.Conn, cfg Config) (bucket, bucket, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create JetStream: %w", err)
	}
	locks, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.LockBucket,
		Description: "reindexer leader locks",
		History:     1,
		TTL:         cfg.SessionTTL,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to provision bucket %s: %w", cfg.LockBucket, err)
	}
	state, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.StateBucket,
		Description: "reindexer progress",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to provision bucket %s: %w", cfg.StateBucket, err)
	}
	return kvBucket{kv: locks}, kvBucket{kv: state}, nil
}

// Store is a coordination.Store backed by NATS JetStream.
type Store struct {
	cfg           Config
	logger        *slog.Logger
	natsConnect   natsConnectFunc
	bucketFactory bucketFactory

	mu    sync.RWMutex
	nc    *nats.Conn
	locks bucket
	state bucket
}

var _ coordination.Store = (*Store)(nil)

// New creates a store. The connection is established by EnsureReady.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if cfg.LockBucket == "" {
		cfg.LockBucket = "reindexer_locks"
	}
	if cfg.StateBucket == "" {
		cfg.StateBucket = "reindexer_state"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = coordination.DefaultSessionTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:           cfg,
		logger:        logger.With("component", "coordination-nats"),
		natsConnect:   defaultNatsConnect,
		bucketFactory: defaultBucketFactory,
	}, nil
}

// EnsureReady connects and provisions both buckets.
func (s *Store) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks != nil {
		return nil
	}

	nc, err := s.natsConnect(s.cfg.URL)
	if err != nil {
		return coordination.Wrap("ready", s.cfg.URL, fmt.Errorf("failed to connect to NATS at %s: %w", s.cfg.URL, err))
	}
	locks, state, err := s.bucketFactory(ctx, nc, s.cfg)
	if err != nil {
		if nc != nil {
			nc.Close()
		}
		return coordination.Wrap("ready", s.cfg.URL, err)
	}
	s.nc = nc
	s.locks = locks
	s.state = state
	s.logger.Info("Connected to NATS", "url", s.cfg.URL, "lock_bucket", s.cfg.LockBucket, "state_bucket", s.cfg.StateBucket)
	return nil
}

// Acquire implements coordination.Store.
func (s *Store) Acquire(ctx context.Context, name string, timeout time.Duration) (coordination.Lease, error) {
	locks, _, err := s.buckets("acquire", name)
	if err != nil {
		return nil, err
	}
	key := EncodeKey(name)
	owner := []byte(s.cfg.Owner)

	var revision uint64
	var sent time.Time
	err = coordination.RetryAcquire(ctx, timeout, func(ctx context.Context) error {
		sent = time.Now()
		rev, err := locks.Create(ctx, key, owner)
		if errors.Is(err, jetstream.ErrKeyExists) {
			return coordination.ErrBusy
		}
		if err != nil {
			return err
		}
		revision = rev
		return nil
	})
	if err != nil {
		return nil, coordination.Wrap("acquire", name, err)
	}

	var mu sync.Mutex
	return coordination.StartSession(coordination.SessionOptions{
		Name:  name,
		Owner:      s.cfg.Owner,
		TTL:        s.cfg.SessionTTL,
		AcquiredAt: sent,
		Heartbeat: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			rev, err := locks.Update(ctx, key, owner, revision)
			if wrongRevision(err) || errors.Is(err, jetstream.ErrKeyNotFound) {
				return coordination.ErrLeaseLost
			}
			if err != nil {
				return err
			}
			revision = rev
			return nil
		},
		Release: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			err := locks.Delete(ctx, key, revision)
			if wrongRevision(err) {
				// someone else owns it now
				return nil
			}
			return err
		},
		Logger: s.logger,
	}), nil
}

// Read implements coordination.Store.
func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	_, state, err := s.buckets("read", key)
	if err != nil {
		return nil, false, err
	}
	data, _, err := state.Get(ctx, EncodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, coordination.Wrap("read", key, err)
	}
	return data, true, nil
}

// Write implements coordination.Store.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	_, state, err := s.buckets("write", key)
	if err != nil {
		return err
	}
	if _, err := state.Put(ctx, EncodeKey(key), data); err != nil {
		return coordination.Wrap("write", key, err)
	}
	return nil
}

// Close closes the NATS connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nc != nil {
		s.logger.Info("Closing NATS connection...")
		s.nc.Close()
		s.nc = nil
	}
	s.locks = nil
	s.state = nil
	return nil
}

func (s *Store) buckets(op, key string) (bucket, bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.locks == nil || s.state == nil {
		return nil, nil, coordination.Wrap(op, key, coordination.ErrNotReady)
	}
	return s.locks, s.state, nil
}

func wrongRevision(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// EncodeKey maps a coordination key onto the JetStream key alphabet
// ([-/_=.a-zA-Z0-9]); anything else becomes '_'.
func EncodeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '/', r == '_', r == '=', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}

// kvBucket adapts jetstream.KeyValue to bucket.
type kvBucket struct {
	kv jetstream.KeyValue
}

func (b kvBucket) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

func (b kvBucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return b.kv.Put(ctx, key, value)
}

func (b kvBucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return b.kv.Create(ctx, key, value)
}

func (b kvBucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return b.kv.Update(ctx, key, value, revision)
}

func (b kvBucket) Delete(ctx context.Context, key string, revision uint64) error {
	return b.kv.Delete(ctx, key, jetstream.LastRevision(revision))
}
