package reindexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/reindexer/internal/clock"
	"github.com/syntrixbase/reindexer/internal/coordination"
)

// ErrInterrupted is the cancellation cause used for cooperative shutdown.
// A tick ending with it stopped cleanly at a persisted cursor.
var ErrInterrupted = errors.New("reindexing interrupted")

// LoopConfig configures a Loop.
type LoopConfig struct {
	Tenant  string
	Cluster Cluster
	Ready   ReadyMap
	Policy  CheckpointPolicy
}

// Loop drives the worker through every ready document type of a cluster,
// persisting progress under the tenant's state key.
type Loop struct {
	store   coordination.Store
	worker  Worker
	clock   clock.Clock
	cluster Cluster
	ready   ReadyMap
	key     string
	policy  CheckpointPolicy
	logger  *slog.Logger
}

// NewLoop creates a reindex loop.
func NewLoop(store coordination.Store, worker Worker, clk clock.Clock, cfg LoopConfig, logger *slog.Logger) *Loop {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		store:   store,
		worker:  worker,
		clock:   clk,
		cluster: cfg.Cluster,
		ready:   cfg.Ready,
		key:     StateKey(cfg.Tenant),
		policy:  cfg.Policy,
		logger:  logger.With("component", "reindex-loop", "cluster", cfg.Cluster.Name),
	}
}

// Reindex processes ready types in order of ready instant, then name, until
// all are done or failed. It must run under lease. It returns ErrInterrupted
// when ctx was cancelled and the position was saved.
func (l *Loop) Reindex(ctx context.Context, lease coordination.Lease) error {
	state, err := l.readState(lease.Context())
	if err != nil {
		return err
	}

	for _, rt := range l.ready.ordered(l.clock.Now()) {
		if err := l.reindexType(ctx, lease, state, rt); err != nil {
			return err
		}
	}
	return nil
}

// ReadState returns the persisted state without taking the lock. The result
// may be stale.
func (l *Loop) ReadState(ctx context.Context) (*State, error) {
	return l.readState(ctx)
}

func (l *Loop) readState(ctx context.Context) (*State, error) {
	data, ok, err := l.store.Read(ctx, l.key)
	if err != nil {
		return nil, coordination.Wrap("read", l.key, err)
	}
	if !ok {
		return NewState(), nil
	}
	return DecodeState(data)
}

func (l *Loop) reindexType(ctx context.Context, lease coordination.Lease, state *State, rt readyType) error {
	name := rt.typ.Name
	logger := l.logger.With("type", name)

	p := state.Progress(l.cluster.Name, name)
	switch {
	case p == nil:
		p = NewProgress()
		state.SetProgress(l.cluster.Name, name, p)
	case p.StaleFor(rt.readyAt):
		logger.Info("new reindexing cycle", "readyAt", rt.readyAt, "previousState", p.State)
		p.Reset()
	}
	recordTypeState(name, p.State)
	if p.State.Terminal() {
		return nil
	}
	if ctx.Err() != nil {
		return l.interrupted(ctx, lease, state, name, nil)
	}

	if p.State == StateRunning {
		logger.Info("resuming reindexing left running by a previous leader", "cursor", p.Cursor)
	} else {
		if err := p.Start(l.clock.Now()); err != nil {
			return err
		}
		if err := l.persist(lease, state, name); err != nil {
			return err
		}
		logger.Info("reindexing started")
	}
	recordTypeState(name, p.State)

	tracker := newCheckpointTracker(l.policy, l.clock)
	for {
		if ctx.Err() != nil {
			return l.interrupted(ctx, lease, state, name, tracker)
		}

		outcome, err := l.worker.Reindex(ctx, rt.typ, p.Cursor)
		if err != nil {
			if ctx.Err() != nil {
				return l.interrupted(ctx, lease, state, name, tracker)
			}
			if tracker.Dirty() {
				if perr := l.persist(lease, state, name); perr != nil {
					logger.Warn("failed to save cursor after worker error", "error", perr)
				}
			}
			return fmt.Errorf("reindexing %s: %w", name, err)
		}
		WorkerOutcomes.WithLabelValues(name, outcome.Kind.String()).Inc()

		switch outcome.Kind {
		case OutcomeDone:
			if err := p.Succeed(l.clock.Now()); err != nil {
				return err
			}
			if err := l.persist(lease, state, name); err != nil {
				return err
			}
			recordTypeState(name, p.State)
			logger.Info("reindexing completed")
			return nil

		case OutcomeProgress:
			if err := p.Advance(outcome.Cursor); err != nil {
				return err
			}
			if tracker.Record() {
				if err := l.persist(lease, state, name); err != nil {
					return err
				}
				tracker.Mark()
			}

		case OutcomeFailed:
			if err := p.Fail(l.clock.Now(), outcome.Message); err != nil {
				return err
			}
			if err := l.persist(lease, state, name); err != nil {
				return err
			}
			recordTypeState(name, p.State)
			logger.Warn("reindexing failed", "message", outcome.Message)
			return nil

		case OutcomeInterrupted:
			if err := p.Advance(outcome.Cursor); err != nil {
				return err
			}
			return l.interrupted(ctx, lease, state, name, nil)

		default:
			return fmt.Errorf("reindexing %s: worker returned unknown outcome %d", name, outcome.Kind)
		}
	}
}

// interrupted saves the current position and reports a clean stop. A nil
// tracker forces the write. Nothing is written once the lease is gone.
func (l *Loop) interrupted(ctx context.Context, lease coordination.Lease, state *State, typ string, tracker *checkpointTracker) error {
	if err := lease.Context().Err(); err != nil {
		return coordination.Wrap("reindex", lease.Name(), context.Cause(lease.Context()))
	}
	if tracker == nil || tracker.Dirty() {
		if err := l.persist(lease, state, typ); err != nil {
			return err
		}
	}
	l.logger.Info("reindexing interrupted", "type", typ, "cause", context.Cause(ctx))
	return ErrInterrupted
}

func (l *Loop) persist(lease coordination.Lease, state *State, typ string) error {
	leaseCtx := lease.Context()
	if leaseCtx.Err() != nil {
		return coordination.Wrap("write", l.key, context.Cause(leaseCtx))
	}
	data, err := state.Encode()
	if err != nil {
		return err
	}
	if err := l.store.Write(leaseCtx, l.key, data); err != nil {
		return coordination.Wrap("write", l.key, err)
	}
	if typ != "" {
		CheckpointsSaved.WithLabelValues(typ).Inc()
	}
	return nil
}
