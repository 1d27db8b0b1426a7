package services

import (
	"context"
	"errors"
	"fmt"
)

// Shutdown stops the runner first so the lock is released while the store
// is still open, then the health server, then the connections.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error

	if m.runner != nil {
		m.logger.Info("stopping reindexer...")
		if err := m.runner.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop reindexer: %w", err))
		}
	}

	if m.stopServe != nil {
		m.logger.Info("stopping health server...")
		m.stopServe()
		if err := m.serveGroup.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("health server: %w", err))
		}
		m.stopServe = nil
	}

	if err := m.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
