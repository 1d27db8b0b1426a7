package reindexer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/syntrixbase/reindexer/internal/coordination"
)

const releaseTimeout = 5 * time.Second

// LockName returns the coordination lock guarding tenant's reindexing.
func LockName(tenant string) string {
	return "notifications/" + tenant
}

// Work runs while the lock is held. ctx ends when the caller cancels or
// the lease is lost, whichever comes first.
type Work func(ctx context.Context, lease coordination.Lease) error

// Gate runs work only while holding a tenant's coordination lock.
type Gate struct {
	store   coordination.Store
	timeout time.Duration
	logger  *slog.Logger
}

// NewGate creates a gate acquiring locks from store, waiting at most timeout.
func NewGate(store coordination.Store, timeout time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:   store,
		timeout: timeout,
		logger:  logger.With("component", "leader-gate"),
	}
}

// TryRun acquires the tenant's lock and runs work under it. It returns
// coordination.ErrBusy without running work when another owner holds the
// lock. The lock is released on every exit from work, panics included.
func (g *Gate) TryRun(ctx context.Context, tenant string, work Work) (err error) {
	name := LockName(tenant)
	lease, err := g.store.Acquire(ctx, name, g.timeout)
	if err != nil {
		if coordination.IsBusy(err) {
			return coordination.ErrBusy
		}
		return coordination.Wrap("acquire", name, err)
	}
	LeasesAcquired.Inc()
	g.logger.Debug("acquired reindexing lock", "lock", name, "owner", lease.Owner())

	runCtx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(lease.Context(), func() {
		cancel(context.Cause(lease.Context()))
	})

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("reindexing panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("reindexing panicked: %v", r)
		}
		stop()
		cancel(context.Canceled)

		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer releaseCancel()
		if rerr := lease.Release(releaseCtx); rerr != nil {
			g.logger.Warn("failed to release reindexing lock", "lock", name, "error", rerr)
		}
	}()

	return work(runCtx, lease)
}
