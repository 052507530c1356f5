package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// mockRunner scripts runner behavior per operation and records calls.
type mockRunner struct {
	mu sync.Mutex

	exists     bool
	existsErr  error
	createErr  error
	startErr   error
	removeErr  error
	stopErr    error
	execFn     func(call int, command []string) (string, string, int, error)
	listResult []string

	createCalls int
	startCalls  int
	removeCalls int
	stopCalls   int
	execCalls   int
}

func (m *mockRunner) Create(ctx context.Context, name, image string, mounts []Mount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return m.createErr
	}
	m.exists = true
	return nil
}

func (m *mockRunner) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls++
	return m.startErr
}

func (m *mockRunner) Exec(ctx context.Context, name string, command []string) (string, string, int, error) {
	m.mu.Lock()
	m.execCalls++
	call := m.execCalls
	fn := m.execFn
	m.mu.Unlock()
	if fn != nil {
		return fn(call, command)
	}
	return "ok\n", "", 0, nil
}

func (m *mockRunner) CopyFrom(ctx context.Context, name, src, dst string) error { return nil }

func (m *mockRunner) Stop(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	return m.stopErr
}

func (m *mockRunner) Remove(ctx context.Context, name string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls++
	if m.removeErr != nil {
		return m.removeErr
	}
	m.exists = false
	return nil
}

func (m *mockRunner) List(ctx context.Context, namePrefix string) ([]string, error) {
	return m.listResult, nil
}

func (m *mockRunner) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists, m.existsErr
}

func newTestSession(t *testing.T, runner DockerRunner, name string) *Session {
	t.Helper()
	s, err := NewSession(Config{
		Runner:        runner,
		Name:          name,
		Image:         "toolchain:test",
		HealthTimeout: time.Second,
		ExecTimeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestStartIsIdempotent(t *testing.T) {
	runner := &mockRunner{}
	s := newTestSession(t, runner, "smith-idem")

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if runner.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", runner.createCalls)
	}
	if s.State() != StateHealthy {
		t.Errorf("state = %s, want healthy", s.State())
	}
}

func TestStartAdoptsHealthyExistingContainer(t *testing.T) {
	runner := &mockRunner{exists: true}
	s := newTestSession(t, runner, "smith-adopt")

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if runner.createCalls != 0 {
		t.Errorf("healthy existing container was recreated (%d creates)", runner.createCalls)
	}
}

func TestStartRecreatesUnhealthyContainer(t *testing.T) {
	runner := &mockRunner{exists: true}
	// First health check (against the pre-existing container) fails; the
	// one after recreation passes.
	runner.execFn = func(call int, command []string) (string, string, int, error) {
		if call == 1 {
			return "", "", 1, nil
		}
		return "ok\n", "", 0, nil
	}
	s := newTestSession(t, runner, "smith-recreate")

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if runner.removeCalls != 1 {
		t.Errorf("removeCalls = %d, want 1", runner.removeCalls)
	}
	if runner.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", runner.createCalls)
	}
}

func TestStartHealthFailureAfterCreate(t *testing.T) {
	runner := &mockRunner{}
	runner.execFn = func(call int, command []string) (string, string, int, error) {
		return "", "", 1, nil
	}
	s := newTestSession(t, runner, "smith-unhealthy")

	err := s.Start(context.Background())
	if err == nil {
		t.Fatal("expected error from failing health check")
	}
	var cerr *ContainerError
	if !errors.As(err, &cerr) {
		t.Fatalf("error type = %T, want *ContainerError", err)
	}
	if cerr.Op != "health" {
		t.Errorf("Op = %q, want health", cerr.Op)
	}
	// The failed container must not be left behind.
	if runner.removeCalls == 0 {
		t.Error("failed container was not removed")
	}
	if s.State() != StateUnhealthy {
		t.Errorf("state = %s, want unhealthy", s.State())
	}
}

func TestExecuteRestartsVanishedContainerOnce(t *testing.T) {
	runner := &mockRunner{}
	// Call 1: health check for initial start. Call 2: the command hits a
	// container that vanished externally. Call 3: health check after the
	// restart. Call 4: retry succeeds.
	runner.execFn = func(call int, command []string) (string, string, int, error) {
		switch call {
		case 2:
			runner.mu.Lock()
			runner.exists = false
			runner.mu.Unlock()
			return "", "", 0, &ContainerError{Op: "exec", Name: "smith-vanish", Err: ErrNotFound}
		default:
			if len(command) == 2 && command[0] == "echo" {
				return "ok\n", "", 0, nil
			}
			return "done\n", "", 0, nil
		}
	}
	s := newTestSession(t, runner, "smith-vanish")

	res, err := s.Execute(context.Background(), []string{"sh", "-c", "true"}, time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Stdout != "done\n" {
		t.Errorf("Stdout = %q, want output of the retried command", res.Stdout)
	}
	if runner.createCalls != 2 {
		t.Errorf("createCalls = %d, want 2 (initial + restart)", runner.createCalls)
	}
}

func TestExecuteRetriesExactlyOnce(t *testing.T) {
	runner := &mockRunner{}
	vanish := &ContainerError{Op: "exec", Name: "smith-gone", Err: ErrNotFound}
	runner.execFn = func(call int, command []string) (string, string, int, error) {
		if len(command) == 2 && command[0] == "echo" {
			return "ok\n", "", 0, nil
		}
		return "", "", 0, vanish
	}
	s := newTestSession(t, runner, "smith-gone")

	_, err := s.Execute(context.Background(), []string{"sh", "-c", "true"}, time.Second)
	if err == nil {
		t.Fatal("expected error after failed retry")
	}
	var cerr *ContainerError
	if !errors.As(err, &cerr) {
		t.Fatalf("error type = %T, want *ContainerError", err)
	}
	if s.State() != StateUnhealthy {
		t.Errorf("state = %s, want unhealthy after failed retry", s.State())
	}
}

func TestExecuteSerializesCommands(t *testing.T) {
	runner := &mockRunner{}
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	runner.execFn = func(call int, command []string) (string, string, int, error) {
		if len(command) == 2 && command[0] == "echo" {
			return "ok\n", "", 0, nil
		}
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return "", "", 0, nil
	}
	s := newTestSession(t, runner, "smith-serial")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = s.Execute(context.Background(), []string{"sh", "-c", fmt.Sprintf("cmd%d", n)}, time.Second)
		}(i)
	}
	wg.Wait()

	if maxSeen > 1 {
		t.Errorf("observed %d concurrent commands, want at most 1", maxSeen)
	}
}

func TestExecuteReportsTimeout(t *testing.T) {
	runner := &mockRunner{}
	runner.execFn = func(call int, command []string) (string, string, int, error) {
		if len(command) == 2 && command[0] == "echo" {
			return "ok\n", "", 0, nil
		}
		// docker exec killed at the deadline returns exit -1 and no error.
		time.Sleep(50 * time.Millisecond)
		return "", "", -1, nil
	}
	s := newTestSession(t, runner, "smith-timeout")

	_, err := s.Execute(context.Background(), []string{"sh", "-c", "sleep 60"}, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v, want a timeout report, not a crash", err)
	}
}

func TestStopIsIdempotentAndUnregisters(t *testing.T) {
	runner := &mockRunner{}
	s := newTestSession(t, runner, "smith-stop")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if runner.stopCalls != 1 {
		t.Errorf("stopCalls = %d, want 1", runner.stopCalls)
	}
	for _, name := range ActiveSessions() {
		if name == "smith-stop" {
			t.Error("stopped session still registered")
		}
	}

	if _, err := s.Execute(context.Background(), []string{"sh", "-c", "true"}, time.Second); err == nil {
		t.Error("Execute on a stopped session should fail")
	}
}

func TestReapStaleSkipsLiveSessions(t *testing.T) {
	runner := &mockRunner{listResult: []string{"smith-live", "smith-dead"}}
	s := newTestSession(t, runner, "smith-live")
	_ = s // registered by NewSession

	reaped, err := ReapStale(context.Background(), runner, "smith-", testLogger())
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if len(reaped) != 1 || reaped[0] != "smith-dead" {
		t.Errorf("reaped = %v, want [smith-dead]", reaped)
	}
}
