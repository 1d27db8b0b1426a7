package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/syntrixbase/reindexer/internal/health"
)

// Start arms the reindexing schedule and starts the health server. The
// runner outlives ctx; only Shutdown stops it, so an in-flight tick gets
// to save its position.
func (m *Manager) Start(ctx context.Context) error {
	if m.checker == nil {
		return fmt.Errorf("manager not initialized")
	}

	if m.runner != nil {
		if err := m.runner.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	}

	if m.cfg.Health.IsEnabled() {
		serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		m.stopServe = cancel
		m.serveGroup, serveCtx = errgroup.WithContext(serveCtx)
		m.serveGroup.Go(func() error {
			return health.StartServer(serveCtx, m.cfg.Health.Addr, m.checker)
		})
	}
	return nil
}
