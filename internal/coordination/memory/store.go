// Package memory implements an in-process coordination store. Locks only
// exclude holders within the same process; it backs tests and single-process
// runs that do not need durable progress.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/syntrixbase/reindexer/internal/coordination"
)

// LockTable is a set of named in-process locks handing out sessions.
type LockTable struct {
	mu     sync.Mutex
	held   map[string]*coordination.Session
	logger *slog.Logger
}

// NewLockTable creates an empty lock table.
func NewLockTable(logger *slog.Logger) *LockTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockTable{
		held:   make(map[string]*coordination.Session),
		logger: logger,
	}
}

// TryAcquire takes the lock once, returning coordination.ErrBusy if it is held.
func (t *LockTable) TryAcquire(name, owner string) (*coordination.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.held[name]; ok && s.Context().Err() == nil {
		return nil, coordination.ErrBusy
	}

	var session *coordination.Session
	session = coordination.StartSession(coordination.SessionOptions{
		Name:  name,
		Owner: owner,
		Release: func(ctx context.Context) error {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.held[name] == session {
				delete(t.held, name)
			}
			return nil
		},
		Logger: t.logger,
	})
	t.held[name] = session
	return session, nil
}

// Expire drops the named lock as if its holder's session had timed out.
// It reports whether a lock was held.
func (t *LockTable) Expire(name string) bool {
	t.mu.Lock()
	s, ok := t.held[name]
	delete(t.held, name)
	t.mu.Unlock()
	if ok {
		s.Lose()
	}
	return ok
}

// Holder returns the owner of the named lock, if any.
func (t *LockTable) Holder(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.held[name]
	if !ok || s.Context().Err() != nil {
		return "", false
	}
	return s.Owner(), true
}

// ExpireAll drops every lock.
func (t *LockTable) ExpireAll() {
	t.mu.Lock()
	held := t.held
	t.held = make(map[string]*coordination.Session)
	t.mu.Unlock()
	for _, s := range held {
		s.Lose()
	}
}

// Store is an in-memory coordination.Store.
type Store struct {
	locks *LockTable
	owner string

	mu     sync.RWMutex
	blobs  map[string][]byte
	faults map[string]error
	closed bool
}

var _ coordination.Store = (*Store)(nil)

// NewStore creates an empty store. Leases are owned by owner.
func NewStore(owner string, logger *slog.Logger) *Store {
	return &Store{
		locks:  NewLockTable(logger),
		owner:  owner,
		blobs:  make(map[string][]byte),
		faults: make(map[string]error),
	}
}

// Shared returns a view of s that acquires locks under a different owner,
// modelling a second process attached to the same backend.
func (s *Store) Shared(owner string) *Peer {
	return &Peer{Store: s, owner: owner}
}

// Locks exposes the lock table for tests.
func (s *Store) Locks() *LockTable { return s.locks }

// InjectFault makes every subsequent op ("ready", "acquire", "read", "write") fail with
// err until cleared with a nil err.
func (s *Store) InjectFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// EnsureReady implements coordination.Store.
func (s *Store) EnsureReady(ctx context.Context) error {
	return s.check("ready", "")
}

// Acquire implements coordination.Store.
func (s *Store) Acquire(ctx context.Context, name string, timeout time.Duration) (coordination.Lease, error) {
	return s.acquire(ctx, name, s.owner, timeout)
}

func (s *Store) acquire(ctx context.Context, name, owner string, timeout time.Duration) (coordination.Lease, error) {
	if err := s.check("acquire", name); err != nil {
		return nil, err
	}
	var lease coordination.Lease
	err := coordination.RetryAcquire(ctx, timeout, func(ctx context.Context) error {
		session, err := s.locks.TryAcquire(name, owner)
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
	if err := s.check("read", key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// Write implements coordination.Store.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	if err := s.check("write", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

// Close implements coordination.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.locks.ExpireAll()
	return nil
}

func (s *Store) check(op, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return coordination.Wrap(op, key, coordination.ErrClosed)
	}
	if err, ok := s.faults[op]; ok {
		return coordination.Wrap(op, key, err)
	}
	return nil
}

// Peer is a second handle onto a Store with its own lock owner.
type Peer struct {
	*Store
	owner string
}

// Acquire implements coordination.Store for the peer's owner.
func (p *Peer) Acquire(ctx context.Context, name string, timeout time.Duration) (coordination.Lease, error) {
	return p.Store.acquire(ctx, name, p.owner, timeout)
}
