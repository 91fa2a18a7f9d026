// Package shutdown runs the cleanup hooks of the process in order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Manager runs registered hooks in reverse registration order, like defers,
// so the listener stops before the stores it depends on close.
type Manager struct {
	mu     sync.Mutex
	hooks  []hook
	logger *zap.Logger
	done   bool
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

func (m *Manager) RegisterShutdown(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Shutdown runs every hook once, even after a failure or an expired context,
// and returns the joined errors. Later calls are no-ops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	hooks := m.hooks
	m.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.fn(ctx); err != nil {
			m.logger.Error("Shutdown hook failed", zap.String("component", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s shutdown: %w", h.name, err))
			continue
		}
		m.logger.Debug("Component stopped", zap.String("component", h.name), zap.Duration("took", time.Since(start)))
	}
	return errors.Join(errs...)
}
