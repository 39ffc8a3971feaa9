package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ShutdownCoordinator collects teardown hooks and runs them once, in
// reverse registration order, so dependents stop before what they
// depend on.
type ShutdownCoordinator struct {
	mu    sync.Mutex
	hooks []shutdownHook
	done  bool
}

type shutdownHook struct {
	name string
	fn   func(context.Context) error
}

// Register adds a teardown hook. Hooks run in LIFO order.
func (s *ShutdownCoordinator) Register(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, shutdownHook{name: name, fn: fn})
}

// Shutdown runs every registered hook, continuing past failures and
// returning them joined. Calls after the first are no-ops.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	hooks := s.hooks
	s.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		slog.Debug("shutting down", "component", h.name)
		if err := h.fn(ctx); err != nil {
			slog.Error("shutdown failed", "component", h.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
