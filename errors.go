package replay

import (
	"errors"
	"fmt"
	"strings"
)

// RuntimeError means op-replay could not produce a verdict for the
// configured services: an unknown service id, an unreachable store, or a run
// that did not finish within the wait timeout. It maps to exit code 2.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError reports whether err is or wraps a RuntimeError.
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return errors.As(err, &runtimeErr)
}

// TestFailureError means every run reached a terminal state but some of them
// were not successful, either because a step failed or the run was aborted.
// Failed names those runs as "<service> #<test number>". It maps to exit code 1.
type TestFailureError struct {
	Failed []string
	Total  int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %d of %d test runs failed: %s",
		len(e.Failed), e.Total, strings.Join(e.Failed, ", "))
}

// NewTestFailureError reports the failed runs out of total launched runs.
func NewTestFailureError(failed []string, total int) *TestFailureError {
	return &TestFailureError{Failed: failed, Total: total}
}

// IsTestFailureError reports whether err is or wraps a TestFailureError.
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return errors.As(err, &testErr)
}
