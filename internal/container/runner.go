package container

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Mount maps a host path into the container.
type Mount struct {
	Host      string
	Container string
	ReadOnly  bool
}

// DockerRunner abstracts the container runtime CLI for testability. Every
// operation carries a context; callers bound it with an explicit timeout.
type DockerRunner interface {
	Create(ctx context.Context, name, image string, mounts []Mount) error
	Start(ctx context.Context, name string) error
	Exec(ctx context.Context, name string, command []string) (stdout string, stderr string, exitCode int, err error)
	CopyFrom(ctx context.Context, name, src, dst string) error
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string, force bool) error
	List(ctx context.Context, namePrefix string) ([]string, error)
	Exists(ctx context.Context, name string) (bool, error)
}

// ExecDocker implements DockerRunner by shelling out to the docker CLI.
type ExecDocker struct{}

// NewExecDocker returns a new ExecDocker.
func NewExecDocker() *ExecDocker {
	return &ExecDocker{}
}

func (e *ExecDocker) Create(ctx context.Context, name, image string, mounts []Mount) error {
	args := []string{"create", "--name", name}
	for _, m := range mounts {
		spec := ToContainerPath(m.Host) + ":" + m.Container
		if m.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "-v", spec)
	}
	// Keep the container alive between exec calls.
	args = append(args, image, "sleep", "infinity")
	_, stderr, _, err := e.run(ctx, args)
	if err != nil {
		return wrapDockerErr("create", name, stderr, err)
	}
	return nil
}

func (e *ExecDocker) Start(ctx context.Context, name string) error {
	_, stderr, _, err := e.run(ctx, []string{"start", name})
	if err != nil {
		return wrapDockerErr("start", name, stderr, err)
	}
	return nil
}

func (e *ExecDocker) Exec(ctx context.Context, name string, command []string) (string, string, int, error) {
	args := append([]string{"exec", name}, command...)
	stdout, stderr, exitCode, err := e.run(ctx, args)
	if err != nil {
		return stdout, stderr, exitCode, wrapDockerErr("exec", name, stderr, err)
	}
	return stdout, stderr, exitCode, nil
}

func (e *ExecDocker) CopyFrom(ctx context.Context, name, src, dst string) error {
	_, stderr, _, err := e.run(ctx, []string{"cp", name + ":" + src, dst})
	if err != nil {
		return wrapDockerErr("cp", name, stderr, err)
	}
	return nil
}

func (e *ExecDocker) Stop(ctx context.Context, name string) error {
	_, stderr, _, err := e.run(ctx, []string{"stop", "-t", "5", name})
	if err != nil {
		return wrapDockerErr("stop", name, stderr, err)
	}
	return nil
}

func (e *ExecDocker) Remove(ctx context.Context, name string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, name)
	_, stderr, _, err := e.run(ctx, args)
	if err != nil {
		return wrapDockerErr("rm", name, stderr, err)
	}
	return nil
}

func (e *ExecDocker) List(ctx context.Context, namePrefix string) ([]string, error) {
	args := []string{"ps", "-a", "--filter", "name=" + namePrefix, "--format", "{{.Names}}"}
	stdout, stderr, _, err := e.run(ctx, args)
	if err != nil {
		return nil, wrapDockerErr("ps", namePrefix, stderr, err)
	}
	raw := strings.TrimSpace(stdout)
	if raw == "" {
		return nil, nil
	}
	var names []string
	for _, n := range strings.Split(raw, "\n") {
		// The name filter is a substring match; keep only true prefixes.
		if strings.HasPrefix(n, namePrefix) {
			names = append(names, n)
		}
	}
	return names, nil
}

func (e *ExecDocker) Exists(ctx context.Context, name string) (bool, error) {
	_, stderr, exitCode, err := e.run(ctx, []string{"inspect", "--format", "{{.Id}}", name})
	if err == nil {
		return true, nil
	}
	if exitCode != 0 && isNotFoundText(stderr) {
		return false, nil
	}
	return false, wrapDockerErr("inspect", name, stderr, err)
}

// run executes the docker CLI. A non-zero exit from "docker exec" reflects
// the command inside the container, not a runtime failure, so it is
// returned through exitCode without an error.
func (e *ExecDocker) run(ctx context.Context, args []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			if args[0] == "exec" && !isNotFoundText(stderrBuf.String()) {
				return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
			}
			return stdoutBuf.String(), stderrBuf.String(), exitCode, fmt.Errorf("docker %s: exit %d", args[0], exitCode)
		}
		return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("docker %s: %w", args[0], err)
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// wrapDockerErr tags "resource vanished" failures with ErrNotFound so the
// session layer can apply its single restart-retry.
func wrapDockerErr(op, name, stderr string, err error) error {
	if isNotFoundText(stderr) {
		return fmt.Errorf("docker %s %s: %w", op, name, ErrNotFound)
	}
	return fmt.Errorf("docker %s %s: %w", op, name, err)
}

func isNotFoundText(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "no such container") ||
		strings.Contains(lower, "is not running") ||
		strings.Contains(lower, "not found")
}
