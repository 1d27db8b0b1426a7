package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/reindexer/internal/config"
	"github.com/syntrixbase/reindexer/internal/coordination"
	"github.com/syntrixbase/reindexer/internal/coordination/factory"
	"github.com/syntrixbase/reindexer/internal/health"
	"github.com/syntrixbase/reindexer/internal/reindexer"
	"github.com/syntrixbase/reindexer/internal/visitor"
)

// Injectable for tests.
var (
	storeFactory  = factory.NewStore
	workerFactory = connectVisitor
)

// connectVisitor opens the document source and sink and builds the worker
// that re-feeds documents through them.
func connectVisitor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (reindexer.Worker, func(context.Context) error, error) {
	conns, err := visitor.Connect(ctx, cfg.Visitor)
	if err != nil {
		return nil, nil, err
	}
	v, err := visitor.New(visitor.Options{
		Cluster:       cfg.Reindexing.ClusterName,
		Types:         cfg.Reindexing.DocumentTypes,
		BatchSize:     cfg.Visitor.BatchSize,
		SubjectPrefix: cfg.Visitor.Sink.SubjectPrefix,
		Source:        conns.Source,
		Sink:          conns.Sink,
		Logger:        logger,
	})
	if err != nil {
		_ = conns.Close(ctx)
		return nil, nil, err
	}
	return v, conns.Close, nil
}

// disabledWorker stands in for the visitor when reindexing is off. The
// runner never schedules then, so it is only there to satisfy NewRunner.
var disabledWorker = reindexer.WorkerFunc(func(context.Context, reindexer.DocumentType, string) (reindexer.Outcome, error) {
	return reindexer.Failed("reindexing disabled"), nil
})

// Init builds the coordination store, the worker, the runner, and the
// health checker. Nothing is started. On error, whatever was opened is closed.
func (m *Manager) Init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			m.closeResources(context.WithoutCancel(ctx))
		}
	}()

	rcfg := m.cfg.Reindexing
	if rcfg.ClusterName == "" {
		m.logger.Info("no cluster configured, reindexing is idle")
		m.checker = health.NewChecker(idleStatus{}, m.logger)
		return nil
	}

	hostname := reindexer.ResolveHostname(rcfg)
	m.store, err = storeFactory(m.cfg.Coordination, coordination.NewOwner(hostname), m.logger)
	if err != nil {
		return fmt.Errorf("failed to create coordination store: %w", err)
	}

	worker := reindexer.Worker(disabledWorker)
	if rcfg.Enabled {
		worker, m.closeWork, err = workerFactory(ctx, m.cfg, m.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize visitor: %w", err)
		}
	}

	m.runner, err = reindexer.NewRunner(reindexer.Options{
		Config: rcfg,
		Store:  m.store,
		Worker: worker,
		Logger: m.logger,
	})
	if err != nil {
		return err
	}

	m.checker = health.NewChecker(m.runner, m.logger)
	m.logger.Info("initialized reindexer",
		"cluster", rcfg.ClusterName,
		"enabled", rcfg.Enabled,
		"backend", m.cfg.Coordination.Backend,
		"hostname", hostname)
	return nil
}

// closeResources closes the worker's connections and the store.
func (m *Manager) closeResources(ctx context.Context) error {
	var errs []error
	if m.closeWork != nil {
		if err := m.closeWork(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close visitor: %w", err))
		}
		m.closeWork = nil
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close coordination store: %w", err))
		}
		m.store = nil
	}
	return errors.Join(errs...)
}
