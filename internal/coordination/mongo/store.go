// Package mongo implements the coordination store on MongoDB. A lock is a
// document keyed by lock name carrying its owner and an expiry that the
// holder keeps pushing forward.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/reindexer/internal/coordination"
)

// Config configures the MongoDB store.
type Config struct {
	URI             string
	DatabaseName    string
	LockCollection  string
	StateCollection string
	SessionTTL      time.Duration
	Owner           string
	Logger          *slog.Logger
}

// lockDoc is the MongoDB document structure for locks.
type lockDoc struct {
	ID        string    `bson:"_id"`
	Owner     string    `bson:"owner"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// blobDoc is the MongoDB document structure for stored blobs.
type blobDoc struct {
	ID        string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Store is a coordination.Store backed by MongoDB.
type Store struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	client *mongo.Client
	locks  *mongo.Collection
	blobs  *mongo.Collection
}

var _ coordination.Store = (*Store)(nil)

// New creates a store. The connection is established by EnsureReady.
func New(cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if cfg.DatabaseName == "" {
		cfg.DatabaseName = "reindexer"
	}
	if cfg.LockCollection == "" {
		cfg.LockCollection = "_reindexer_locks"
	}
	if cfg.StateCollection == "" {
		cfg.StateCollection = "_reindexer_state"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = coordination.DefaultSessionTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:    cfg,
		logger: logger.With("component", "coordination-mongo"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewWithClient creates a ready store on an existing client. The client is
// not disconnected by Close.
func NewWithClient(client *mongo.Client, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		cfg.URI = "client"
	}
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	db := client.Database(s.cfg.DatabaseName)
	s.locks = db.Collection(s.cfg.LockCollection)
	s.blobs = db.Collection(s.cfg.StateCollection)
	return s, nil
}

// EnsureReady connects, pings, and remembers the collections.
func (s *Store) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks != nil {
		return nil
	}

	clientOpts := options.Client().ApplyURI(s.cfg.URI)
	if clientOpts.ConnectTimeout == nil {
		clientOpts.SetConnectTimeout(10 * time.Second)
	}
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return coordination.Wrap("ready", s.cfg.DatabaseName, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return coordination.Wrap("ready", s.cfg.DatabaseName, err)
	}

	db := client.Database(s.cfg.DatabaseName)
	s.client = client
	s.locks = db.Collection(s.cfg.LockCollection)
	s.blobs = db.Collection(s.cfg.StateCollection)
	s.logger.Info("Connected to MongoDB", "database", s.cfg.DatabaseName)
	return nil
}

// Acquire implements coordination.Store.
func (s *Store) Acquire(ctx context.Context, name string, timeout time.Duration) (coordination.Lease, error) {
	locks, _, err := s.collections("acquire", name)
	if err != nil {
		return nil, err
	}
	owner := s.cfg.Owner

	var sent time.Time
	err = coordination.RetryAcquire(ctx, timeout, func(ctx context.Context) error {
		sent = time.Now()
		now := s.now()
		if _, err := locks.DeleteOne(ctx, expiredFilter(name, now)); err != nil {
			return err
		}
		_, err := locks.InsertOne(ctx, lockDoc{ID: name, Owner: owner, ExpiresAt: now.Add(s.cfg.SessionTTL)})
		if mongo.IsDuplicateKeyError(err) {
			return coordination.ErrBusy
		}
		return err
	})
	if err != nil {
		return nil, coordination.Wrap("acquire", name, err)
	}

	return coordination.StartSession(coordination.SessionOptions{
		Name:       name,
		Owner:      owner,
		TTL:        s.cfg.SessionTTL,
		AcquiredAt: sent,
		Heartbeat: func(ctx context.Context) error {
			res, err := locks.UpdateOne(ctx, ownerFilter(name, owner),
				bson.M{"$set": bson.M{"expires_at": s.now().Add(s.cfg.SessionTTL)}})
			if err != nil {
				return err
			}
			if res.MatchedCount == 0 {
				return coordination.ErrLeaseLost
			}
			return nil
		},
		Release: func(ctx context.Context) error {
			_, err := locks.DeleteOne(ctx, ownerFilter(name, owner))
			return err
		},
		Logger: s.logger,
	}), nil
}

// Read implements coordination.Store.
func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	_, blobs, err := s.collections("read", key)
	if err != nil {
		return nil, false, err
	}
	var doc blobDoc
	err = blobs.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, coordination.Wrap("read", key, err)
	}
	return doc.Data, true, nil
}

// Write implements coordination.Store.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	_, blobs, err := s.collections("write", key)
	if err != nil {
		return err
	}
	doc := blobDoc{ID: key, Data: data, UpdatedAt: s.now()}
	opts := options.Replace().SetUpsert(true)
	if _, err := blobs.ReplaceOne(ctx, bson.M{"_id": key}, doc, opts); err != nil {
		return coordination.Wrap("write", key, err)
	}
	return nil
}

// Close disconnects the client if this store created it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.client.Disconnect(ctx)
		s.client = nil
	}
	s.locks = nil
	s.blobs = nil
	if err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	return nil
}

func (s *Store) collections(op, key string) (*mongo.Collection, *mongo.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.locks == nil {
		return nil, nil, coordination.Wrap(op, key, coordination.ErrNotReady)
	}
	return s.locks, s.blobs, nil
}

func expiredFilter(name string, now time.Time) bson.M {
	return bson.M{"_id": name, "expires_at": bson.M{"$lt": now}}
}

func ownerFilter(name, owner string) bson.M {
	return bson.M{"_id": name, "owner": owner}
}
