package container

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a session.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateHealthy    State = "healthy"
	StateUnhealthy  State = "unhealthy"
	StateStopped    State = "stopped"
)

// ExecResult is the raw outcome of one command run inside the session.
// Interpretation into typed counts happens in the checks package.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Config holds parameters for creating a Session.
type Config struct {
	Runner DockerRunner
	// Name must be unique per job; concurrent runs reusing a name corrupt
	// each other's state. Callers derive it from the run id.
	Name          string
	Image         string
	Mounts        []Mount
	HealthTimeout time.Duration // default 8s
	ExecTimeout   time.Duration // default 5m; per-call timeouts override
	Logger        *zap.Logger
}

// Session manages one long-lived container as an isolated execution
// environment: startup, health verification, serialized command execution,
// crash recovery, and teardown.
type Session struct {
	mu sync.Mutex

	runner        DockerRunner
	name          string
	image         string
	mounts        []Mount
	healthTimeout time.Duration
	execTimeout   time.Duration
	logger        *zap.Logger

	state State
}

// NewSession creates a Session and registers it for process-exit cleanup.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("session name is required")
	}
	if cfg.Image == "" {
		return nil, fmt.Errorf("image is required")
	}

	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 8 * time.Second
	}
	execTimeout := cfg.ExecTimeout
	if execTimeout <= 0 {
		execTimeout = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		runner:        cfg.Runner,
		name:          cfg.Name,
		image:         cfg.Image,
		mounts:        cfg.Mounts,
		healthTimeout: healthTimeout,
		execTimeout:   execTimeout,
		logger:        logger.With(zap.String("container", cfg.Name)),
		state:         StateNotStarted,
	}
	register(s)
	return s, nil
}

// Name returns the container name.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start brings the session to a healthy state. It is idempotent: a healthy
// session returns immediately with no destructive action. A same-named
// container that exists but fails its health check is forcefully removed
// and recreated.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Session) startLocked(ctx context.Context) error {
	if s.state == StateHealthy {
		return nil
	}
	s.state = StateStarting

	exists, err := s.runner.Exists(ctx, s.name)
	if err != nil {
		s.state = StateUnhealthy
		return &ContainerError{Op: "start", Name: s.name, Err: err}
	}

	if exists {
		if err := s.healthCheckLocked(ctx); err == nil {
			s.state = StateHealthy
			return nil
		}
		// A "running" container can still be unready or wedged; remove it
		// and start over rather than trusting the process state.
		s.logger.Warn("existing container failed health check, recreating")
		if err := s.runner.Remove(ctx, s.name, true); err != nil && !IsNotFound(err) {
			s.state = StateUnhealthy
			return &ContainerError{Op: "start", Name: s.name, Err: fmt.Errorf("remove unhealthy container: %w", err)}
		}
	}

	if err := s.createAndStartLocked(ctx); err != nil {
		s.state = StateUnhealthy
		return err
	}

	if err := s.healthCheckLocked(ctx); err != nil {
		s.state = StateUnhealthy
		_ = s.runner.Remove(ctx, s.name, true)
		return &ContainerError{Op: "health", Name: s.name, Err: err}
	}

	s.state = StateHealthy
	s.logger.Info("container session healthy", zap.String("image", s.image))
	return nil
}

func (s *Session) createAndStartLocked(ctx context.Context) error {
	if err := s.runner.Create(ctx, s.name, s.image, s.mounts); err != nil {
		return &ContainerError{Op: "start", Name: s.name, Err: fmt.Errorf("create: %w", err)}
	}
	if err := s.runner.Start(ctx, s.name); err != nil {
		return &ContainerError{Op: "start", Name: s.name, Err: fmt.Errorf("start: %w", err)}
	}
	return nil
}

// healthCheckLocked runs a trivial in-container command under a short
// timeout. "The process is running" is not sufficient evidence of
// readiness, so the check always execs.
func (s *Session) healthCheckLocked(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, s.healthTimeout)
	defer cancel()

	stdout, _, exitCode, err := s.runner.Exec(hctx, s.name, []string{"echo", "ok"})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if exitCode != 0 || !strings.Contains(stdout, "ok") {
		return fmt.Errorf("health check: unexpected response (exit %d)", exitCode)
	}
	return nil
}

// Execute runs a command inside the session under an exclusive lock,
// serializing all commands against the container; concurrent commands
// against one sandbox filesystem corrupt state.
//
// If the container vanished externally (OOM-killed, manually removed), the
// session restarts it and retries the command exactly once before
// surfacing a ContainerError.
func (s *Session) Execute(ctx context.Context, command []string, timeout time.Duration) (*ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return nil, &ContainerError{Op: "execute", Name: s.name, Err: fmt.Errorf("session is stopped")}
	}
	if s.state != StateHealthy {
		if err := s.startLocked(ctx); err != nil {
			return nil, err
		}
	}

	if timeout <= 0 {
		timeout = s.execTimeout
	}

	res, err := s.execLocked(ctx, command, timeout)
	if err == nil {
		return res, nil
	}
	if !IsNotFound(err) {
		return nil, &ContainerError{Op: "execute", Name: s.name, Err: err}
	}

	// The container is gone. One restart-and-retry, never a loop.
	s.logger.Warn("container vanished during execution, restarting once", zap.Error(err))
	s.state = StateUnhealthy
	if err := s.startLocked(ctx); err != nil {
		return nil, err
	}
	res, err = s.execLocked(ctx, command, timeout)
	if err != nil {
		s.state = StateUnhealthy
		return nil, &ContainerError{Op: "execute", Name: s.name, Err: fmt.Errorf("retry after restart: %w", err)}
	}
	return res, nil
}

func (s *Session) execLocked(ctx context.Context, command []string, timeout time.Duration) (*ExecResult, error) {
	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := s.runner.Exec(ectx, s.name, command)
	// The CLI reports a deadline kill as exit -1 with no error; check the
	// context, not the error, so a timeout never reads as an in-container
	// crash.
	if ectx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", timeout)
	}
	if err != nil {
		return nil, err
	}
	return &ExecResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}

// Stop tears the session down: stop and remove the container, unregister
// from the cleanup registry. Safe to call more than once.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return nil
	}
	s.state = StateStopped
	unregister(s.name)

	if err := s.runner.Stop(ctx, s.name); err != nil && !IsNotFound(err) {
		// Force-remove below regardless; removal is what matters.
		s.logger.Warn("stop failed, forcing removal", zap.Error(err))
	}
	if err := s.runner.Remove(ctx, s.name, true); err != nil && !IsNotFound(err) {
		return &ContainerError{Op: "stop", Name: s.name, Err: err}
	}
	s.logger.Info("container session stopped")
	return nil
}
