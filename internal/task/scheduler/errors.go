package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("invalid schedule parameters")
	ErrSerialization = errors.New("arguments are not serializable")
	ErrResolution    = errors.New("function not resolvable")
	ErrExecution     = errors.New("task function failed")
	ErrScanBusy      = errors.New("scan already in progress")
)

// ValidationError reports bad schedule parameters at registration time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SerializationError reports call arguments that cannot be stored as JSON.
type SerializationError struct {
	FuncPath string
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize arguments of %s: %v", e.FuncPath, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// ResolutionError reports a stored func_path with no registered function.
type ResolutionError struct {
	FuncPath string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no function registered as %q", e.FuncPath)
}

func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }

// ExecutionError wraps an error or panic raised by a task function.
type ExecutionError struct {
	FuncPath string
	Err      error
	Panic    any
}

func (e *ExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("panic: %v", e.Panic)
	}
	if e.Err == nil {
		return "task failed"
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }
