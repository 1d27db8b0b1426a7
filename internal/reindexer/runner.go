package reindexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/syntrixbase/reindexer/internal/clock"
	"github.com/syntrixbase/reindexer/internal/coordination"
	"github.com/syntrixbase/reindexer/internal/reindexer/config"
)

// ErrShutdownTimeout is returned by Stop when the in-flight tick outlived
// the grace period. The backend's session timeout releases the lock.
var ErrShutdownTimeout = errors.New("reindexer did not stop within grace period")

// TickResult classifies how a tick ended.
type TickResult string

const (
	TickRan         TickResult = "ran"
	TickBusy        TickResult = "busy"
	TickError       TickResult = "error"
	TickInterrupted TickResult = "interrupted"
)

// Options holds the collaborators of a Runner.
type Options struct {
	Config   config.Config
	Store    coordination.Store
	Worker   Worker
	Registry Registry // defaults to the configured document types
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Status is a snapshot of a Runner for health reporting.
type Status struct {
	Enabled    bool
	Running    bool
	Hostname   string
	Cluster    string
	Slot       Slot
	Leader     bool
	Ticks      int64
	LastTick   time.Time
	LastResult TickResult
	LastError  string
	NextTick   time.Time
}

// Runner fires ticks on this host's slot. Each tick runs the reindex loop
// if the tenant's lock is free. Ticks never overlap.
type Runner struct {
	cfg      config.Config
	hostname string
	peers    []string
	cluster  Cluster
	store    coordination.Store
	gate     *Gate
	loop     *Loop
	clock    clock.Clock
	logger   *slog.Logger

	// startMu serializes Start and Stop so neither sees a half-started runner.
	startMu    sync.Mutex
	mu         sync.RWMutex
	running    bool
	cancel     context.CancelCauseFunc
	done       chan struct{}
	slot       Slot
	leader     bool
	ticks      int64
	lastTick   time.Time
	lastResult TickResult
	lastErr    error
	nextTick   time.Time
}

// ResolveHostname returns the configured hostname, or the system's.
func ResolveHostname(cfg config.Config) string {
	if cfg.Hostname != "" {
		return cfg.Hostname
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return hostname
}

// NewRunner resolves the configured cluster and ready instants and builds
// a runner. It returns a *ConfigurationError for names the registry does
// not know, whether or not reindexing is enabled.
func NewRunner(opts Options) (*Runner, error) {
	cfg := opts.Config
	if opts.Store == nil {
		return nil, fmt.Errorf("coordination store is required")
	}
	if opts.Worker == nil {
		return nil, fmt.Errorf("worker is required")
	}
	if cfg.BaseInterval < time.Millisecond {
		return nil, &ConfigurationError{Field: "base_interval", Reason: "must be at least 1ms"}
	}

	registry := opts.Registry
	if registry == nil {
		registry = RegistryFromConfig(cfg.DocumentTypes)
	}
	cluster, err := ParseCluster(cfg.ClusterName, cfg.Clusters, registry)
	if err != nil {
		return nil, err
	}
	ready, err := ParseReady(cfg.Ready, registry, cluster)
	if err != nil {
		return nil, err
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		cfg:      cfg,
		hostname: ResolveHostname(cfg),
		peers:    ParsePeers(cfg.PeerHostnames),
		cluster:  cluster,
		store:    opts.Store,
		gate:     NewGate(opts.Store, cfg.LockTimeout, logger),
		loop: NewLoop(opts.Store, opts.Worker, clk, LoopConfig{
			Tenant:  cfg.Tenant,
			Cluster: cluster,
			Ready:   ready,
			Policy:  CheckpointPolicy{EveryN: cfg.CheckpointEveryN, Interval: cfg.CheckpointEvery},
		}, logger),
		clock:  clk,
		logger: logger.With("component", "reindexer", "tenant", cfg.Tenant),
	}, nil
}

// Start waits for the coordination store and arms the schedule. A disabled
// runner does nothing.
func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.logger.Info("reindexing disabled")
		return nil
	}

	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.mu.RLock()
	running := r.running
	r.mu.RUnlock()
	if running {
		return nil
	}

	if err := r.store.EnsureReady(ctx); err != nil {
		return fmt.Errorf("coordination store not ready: %w", err)
	}

	now := r.clock.Now()
	slot := CalculateSlot(r.hostname, r.peers, r.cfg.BaseInterval, now)
	if slot.Index < 0 && len(r.peers) > 0 {
		r.logger.Warn("host is not among peers, schedule is not staggered", "hostname", r.hostname, "peers", r.peers)
	}
	timer := r.clock.NewTimer(slot.Delay)
	first := now.Add(slot.Delay)

	runCtx, cancel := context.WithCancelCause(ctx)
	r.mu.Lock()
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.slot = slot
	r.nextTick = first
	done := r.done
	r.mu.Unlock()

	go r.runLoop(runCtx, timer, first, done)

	r.logger.Info("reindexer started",
		"hostname", r.hostname,
		"slot", slot.Index,
		"peers", slot.Peers,
		"delay", slot.Delay,
		"stride", slot.Stride)
	return nil
}

// Stop cancels the in-flight tick and waits up to the grace period for it
// to save its position and release the lock.
func (r *Runner) Stop(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.mu.Unlock()

	cancel(ErrInterrupted)

	grace := time.NewTimer(r.cfg.GracePeriod)
	defer grace.Stop()

	select {
	case <-done:
		r.logger.Info("reindexer stopped")
		return nil
	case <-grace.C:
		r.logger.Error("failed to shut down reindexer within grace period", "gracePeriod", r.cfg.GracePeriod)
		return ErrShutdownTimeout
	case <-ctx.Done():
		r.logger.Error("interrupted while waiting for reindexer to shut down")
		return ctx.Err()
	}
}

// runLoop fires ticks at first + k*stride. Slots missed while a tick ran
// long are skipped, not caught up.
func (r *Runner) runLoop(ctx context.Context, timer clock.Timer, next time.Time, done chan struct{}) {
	defer close(done)
	defer timer.Stop()

	stride := r.slot.Stride
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
		}

		r.Tick(ctx)

		now := r.clock.Now()
		next = next.Add(stride)
		skipped := 0
		for next.Before(now) {
			next = next.Add(stride)
			skipped++
		}
		if skipped > 0 {
			r.logger.Debug("tick overran its slot", "skipped", skipped)
		}

		r.mu.Lock()
		r.nextTick = next
		r.mu.Unlock()
		timer.Reset(next.Sub(now))
	}
}

// Tick runs one scheduled attempt. Errors never escape it; they are logged
// and reflected in the result.
func (r *Runner) Tick(ctx context.Context) TickResult {
	started := time.Now()
	result, err := r.tick(ctx)
	TickDuration.Observe(time.Since(started).Seconds())
	TicksTotal.WithLabelValues(string(result)).Inc()

	r.mu.Lock()
	r.ticks++
	r.lastTick = r.clock.Now()
	r.lastResult = result
	r.lastErr = err
	r.mu.Unlock()
	return result
}

func (r *Runner) tick(ctx context.Context) (result TickResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reindexing tick panicked", "panic", rec)
			result, err = TickError, fmt.Errorf("tick panicked: %v", rec)
		}
	}()

	err = r.gate.TryRun(ctx, r.cfg.Tenant, r.work)
	switch {
	case err == nil:
		return TickRan, nil
	case coordination.IsBusy(err):
		r.logger.Debug("reindexing lock held by another peer")
		return TickBusy, nil
	case errors.Is(err, ErrInterrupted) || errors.Is(context.Cause(ctx), ErrInterrupted):
		r.logger.Info("reindexing stopped for shutdown")
		return TickInterrupted, nil
	case coordination.IsLeaseLost(err):
		r.logger.Warn("reindexing lock lost mid-run, progress since the last checkpoint is redone", "error", err)
		return TickError, err
	case coordination.IsTransient(err):
		r.logger.Warn("coordination backend failure while reindexing", "error", err)
		return TickError, err
	default:
		r.logger.Warn("exception when reindexing", "error", err)
		return TickError, err
	}
}

func (r *Runner) work(ctx context.Context, lease coordination.Lease) error {
	r.setLeader(true)
	defer r.setLeader(false)
	return r.loop.Reindex(ctx, lease)
}

func (r *Runner) setLeader(leader bool) {
	r.mu.Lock()
	r.leader = leader
	r.mu.Unlock()
}

// ReadState returns the last persisted reindexing state of the tenant.
func (r *Runner) ReadState(ctx context.Context) (*State, error) {
	return r.loop.ReadState(ctx)
}

// Cluster returns the cluster being reindexed.
func (r *Runner) Cluster() Cluster {
	return r.cluster
}

// Status returns a snapshot of the runner.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Status{
		Enabled:    r.cfg.Enabled,
		Running:    r.running,
		Hostname:   r.hostname,
		Cluster:    r.cluster.Name,
		Slot:       r.slot,
		Leader:     r.leader,
		Ticks:      r.ticks,
		LastTick:   r.lastTick,
		LastResult: r.lastResult,
		NextTick:   r.nextTick,
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}
