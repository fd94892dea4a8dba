package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// RuntimeError represents a failure while executing a validated batch.
//
// The batch has been rolled back when a RuntimeError is returned. Err holds
// the collaborator error; it usually wraps one of the ir.Err* kinds, which
// errors.Is sees through RuntimeError.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Pointer is the JSON pointer of the failing operation.
	Pointer ir.Pointer

	// Index is the position of the failing operation in the batch.
	Index int

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeExecutionFailed indicates a collaborator rejected an operation.
	ErrCodeExecutionFailed RuntimeErrorCode = "EXECUTION_FAILED"

	// ErrCodeAborted indicates the context ended before the batch finished.
	ErrCodeAborted RuntimeErrorCode = "ABORTED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Pointer != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Pointer, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the collaborator error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsExecutionFailure returns true if the error is a collaborator failure.
// Uses errors.As to handle wrapped errors.
func IsExecutionFailure(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeExecutionFailed
	}
	return false
}

// IsAborted returns true if the batch stopped because its context ended.
func IsAborted(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeAborted
	}
	return false
}

// newExecutionError attributes a collaborator failure to an operation.
func newExecutionError(op ir.Operation, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeExecutionFailed,
		Message: err.Error(),
		Pointer: op.Pointer,
		Index:   op.Index,
		Err:     err,
	}
}

// newAbortError reports a batch stopped before op ran.
func newAbortError(op ir.Operation, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeAborted,
		Message: fmt.Sprintf("batch aborted before operation %d: %v", op.Index, err),
		Pointer: op.Pointer,
		Index:   op.Index,
		Err:     err,
	}
}
