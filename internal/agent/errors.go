package agent

import "fmt"

// ServiceError is a reasoning service failure. Transient failures
// (timeouts, 5xx, rate limits) are retried with backoff by the Executor;
// the rest surface immediately.
type ServiceError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("reasoning service %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
