// Package pebble implements a durable single-node coordination store on
// PebbleDB. Locks are held in process; blobs survive restarts. It backs the
// standalone deployment mode where one process owns the data directory.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/syntrixbase/reindexer/internal/coordination"
	"github.com/syntrixbase/reindexer/internal/coordination/memory"
)

const blobPrefix = "blob/"

// Config configures the pebble store.
type Config struct {
	Path   string
	Owner  string
	Logger *slog.Logger
}

// Store is a coordination.Store backed by PebbleDB.
type Store struct {
	path   string
	owner  string
	locks  *memory.LockTable
	logger *slog.Logger

	mu sync.RWMutex
	db *pebble.DB
}

var _ coordination.Store = (*Store)(nil)

// New creates a store rooted at cfg.Path. The database is opened by EnsureReady.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("pebble store path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "coordination-pebble")
	return &Store{
		path:   cfg.Path,
		owner:  cfg.Owner,
		locks:  memory.NewLockTable(logger),
		logger: logger,
	}, nil
}

// EnsureReady opens the database if it is not open yet.
func (s *Store) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	if err := os.MkdirAll(s.path, 0755); err != nil {
		return coordination.Wrap("ready", s.path, fmt.Errorf("failed to create store directory: %w", err))
	}
	db, err := pebble.Open(s.path, &pebble.Options{})
	if err != nil {
		return coordination.Wrap("ready", s.path, err)
	}
	s.db = db
	s.logger.Info("pebble coordination store opened", "path", s.path)
	return nil
}

// Acquire implements coordination.Store.
func (s *Store) Acquire(ctx context.Context, name string, timeout time.Duration) (coordination.Lease, error) {
	if _, err := s.handle("acquire", name); err != nil {
		return nil, err
	}
	var lease coordination.Lease
	err := coordination.RetryAcquire(ctx, timeout, func(ctx context.Context) error {
		session, err := s.locks.TryAcquire(name, s.owner)
		if err != nil {
			return err
		}
		lease = session
		return nil
	})
	if err != nil {
		return nil, coordination.Wrap("acquire", name, err)
	}
	return lease, nil
}

// Read implements coordination.Store.
func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	db, err := s.handle("read", key)
	if err != nil {
		return nil, false, err
	}
	value, closer, err := db.Get([]byte(blobPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, coordination.Wrap("read", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), value...), true, nil
}

// Write implements coordination.Store.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	db, err := s.handle("write", key)
	if err != nil {
		return err
	}
	if err := db.Set([]byte(blobPrefix+key), data, pebble.Sync); err != nil {
		return coordination.Wrap("write", key, err)
	}
	return nil
}

// Close releases all locks and closes the database.
func (s *Store) Close() error {
	s.locks.ExpireAll()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close pebble store: %w", err)
	}
	return nil
}

func (s *Store) handle(op, key string) (*pebble.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, coordination.Wrap(op, key, coordination.ErrNotReady)
	}
	return s.db, nil
}
