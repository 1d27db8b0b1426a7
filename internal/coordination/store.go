// Package coordination defines the contract of the external coordination
// service: named, session-bound exclusive locks and small durable blobs.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBusy is returned by Acquire when another owner holds the lock.
	ErrBusy = errors.New("coordination: lock held by another owner")
	// ErrLeaseLost is the cancellation cause of a lease whose session expired.
	ErrLeaseLost = errors.New("coordination: lease lost")
	// ErrLeaseReleased is the cancellation cause of a lease released by its holder.
	ErrLeaseReleased = errors.New("coordination: lease released")
	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("coordination: store closed")
	// ErrNotReady is returned when an operation runs before EnsureReady succeeded.
	ErrNotReady = errors.New("coordination: store not ready")
)

// Store is a coordination backend.
//
// Locks are exclusive and bound to a backend session: if the holder stops
// heartbeating, the backend releases the lock on its own. Writes are atomic
// and last-writer-wins; callers serialise them by holding the lock.
type Store interface {
	// EnsureReady blocks until the backend is reachable and provisioned.
	EnsureReady(ctx context.Context) error

	// Acquire takes the named lock, retrying until timeout elapses.
	// It returns ErrBusy when the lock stays held elsewhere.
	Acquire(ctx context.Context, name string, timeout time.Duration) (Lease, error)

	// Read returns the blob stored at key. ok is false when the key is absent.
	Read(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Write stores data at key.
	Write(ctx context.Context, key string, data []byte) error

	Close() error
}

// Lease is proof of lock ownership.
type Lease interface {
	// Name is the lock name.
	Name() string

	// Owner is the unique token identifying this holder.
	Owner() string

	// Context is cancelled when the lease ends. context.Cause reports
	// ErrLeaseLost when the session expired, ErrLeaseReleased after Release.
	Context() context.Context

	// Release gives the lock up. It is safe to call more than once.
	Release(ctx context.Context) error
}

// Error wraps a backend failure with the operation and key it concerned.
// These failures are transient from the scheduler's point of view: the
// current tick ends and the next one retries.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("coordination %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("coordination %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err wrapped in an *Error, or nil. ErrBusy and errors that are
// already *Error pass through unchanged.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBusy) {
		return err
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}

// IsBusy reports whether err means the lock is held elsewhere.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsLeaseLost reports whether err (or ctx's cause) means the session expired.
func IsLeaseLost(err error) bool {
	return errors.Is(err, ErrLeaseLost)
}

// IsTransient reports whether err is a backend failure that a later attempt
// may not hit again.
func IsTransient(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && !errors.Is(err, ErrClosed)
}
