package orchestrator

import (
	"fmt"
)

// AbortRunError stops a test run at the operation that raised it. The
// operations declared after it are never attempted.
type AbortRunError struct {
	Operation string
	Err       error
}

func (e *AbortRunError) Error() string {
	return fmt.Sprintf("run aborted at operation %q: %v", e.Operation, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *AbortRunError) Unwrap() error {
	return e.Err
}

// OperationError fails a single operation. The run continues with the next one.
type OperationError struct {
	Operation string
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %q failed: %v", e.Operation, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *OperationError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a write to the store that could not be completed.
type PersistenceError struct {
	RunID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist test run %s: %v", e.RunID, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *PersistenceError) Unwrap() error {
	return e.Err
}
