package container

import (
	"errors"
	"fmt"
)

// ErrNotFound marks failures where the container vanished externally
// (removed, OOM-killed). The session performs exactly one restart-and-retry
// on this class of error before giving up.
var ErrNotFound = errors.New("container not found")

// ContainerError is a fatal sandbox failure surfaced after the session's
// own retry is exhausted.
type ContainerError struct {
	Op   string // "start", "execute", "health", "copy", "stop"
	Name string
	Err  error
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("container %s: %s: %v", e.Name, e.Op, e.Err)
}

func (e *ContainerError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err stems from the container having vanished.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
