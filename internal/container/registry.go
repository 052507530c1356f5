package container

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// The registry is the only process-wide mutable state in this package: a
// record of live sessions so crash/exit cleanup can find them. It has its
// own lock; all other state is session-scoped.
var registry = struct {
	mu       sync.Mutex
	sessions map[string]*Session
}{sessions: make(map[string]*Session)}

func register(s *Session) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.sessions[s.name] = s
}

func unregister(name string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.sessions, name)
}

// ActiveSessions returns the names of currently registered sessions.
func ActiveSessions() []string {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	names := make([]string, 0, len(registry.sessions))
	for name := range registry.sessions {
		names = append(names, name)
	}
	return names
}

// CleanupAll stops every registered session. Best effort: failures are
// logged and the loop continues. Called from the process signal handler so
// terminated runs do not leave orphaned containers behind.
func CleanupAll(logger *zap.Logger) {
	registry.mu.Lock()
	sessions := make([]*Session, 0, len(registry.sessions))
	for _, s := range registry.sessions {
		sessions = append(sessions, s)
	}
	registry.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, s := range sessions {
		if err := s.Stop(ctx); err != nil {
			logger.Warn("cleanup failed", zap.String("container", s.Name()), zap.Error(err))
		}
	}
}

// ReapStale removes containers matching namePrefix that belong to no live
// session, leftovers of prior crashed runs. Returns the names removed.
func ReapStale(ctx context.Context, runner DockerRunner, namePrefix string, logger *zap.Logger) ([]string, error) {
	names, err := runner.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}

	registry.mu.Lock()
	live := make(map[string]bool, len(registry.sessions))
	for name := range registry.sessions {
		live[name] = true
	}
	registry.mu.Unlock()

	var reaped []string
	for _, name := range names {
		if live[name] {
			continue
		}
		if err := runner.Remove(ctx, name, true); err != nil && !IsNotFound(err) {
			logger.Warn("failed to reap stale container", zap.String("container", name), zap.Error(err))
			continue
		}
		logger.Info("reaped stale container", zap.String("container", name))
		reaped = append(reaped, name)
	}
	return reaped, nil
}
