// Package services assembles the reindexer process from its configuration.
package services

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/syntrixbase/reindexer/internal/config"
	"github.com/syntrixbase/reindexer/internal/coordination"
	"github.com/syntrixbase/reindexer/internal/health"
	"github.com/syntrixbase/reindexer/internal/reindexer"
)

// Manager owns the long-lived components of the process.
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger

	store      coordination.Store
	closeWork  func(ctx context.Context) error
	runner     *reindexer.Runner
	checker    *health.Checker
	serveGroup *errgroup.Group
	stopServe  context.CancelFunc
}

// NewManager creates a manager for cfg. A nil logger uses slog.Default.
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "services"),
	}
}

// Runner returns the reindexing runner, or nil when no cluster is configured.
func (m *Manager) Runner() *reindexer.Runner {
	return m.runner
}

// Checker returns the health checker built by Init.
func (m *Manager) Checker() *health.Checker {
	return m.checker
}

// idleStatus reports a maintainer that was never configured.
type idleStatus struct{}

func (idleStatus) Status() reindexer.Status { return reindexer.Status{} }
