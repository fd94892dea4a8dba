package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// Request error codes (E200-E209). These reject the request document
// before any operation is examined.
const (
	ErrInvalidDocument   = "E200" // body is not a JSON object
	ErrMissingOperations = "E201" // atomic:operations missing, not an array, or empty
	ErrInvalidOp         = "E202" // op missing or not add/update/remove
	ErrInvalidEntry      = "E203" // batch entry or ref is malformed
	ErrBatchTooLarge     = "E204" // more operations than the configured maximum
)

// Validation error codes (E210-E229).
const (
	ErrTargetConflict    = "E210" // both ref and href given
	ErrMissingTarget     = "E211" // operation needs a target identity
	ErrAmbiguousIdentity = "E212" // both id and lid given
	ErrInvalidHref       = "E213" // href cannot be resolved to a target
	ErrMissingData       = "E214" // data required but absent
	ErrUnexpectedData    = "E215" // resource removal carries data
	ErrInvalidData       = "E216" // data malformed or inconsistent with the target
	ErrUndeclaredLID     = "E217" // lid not declared by a preceding add
	ErrDuplicateLID      = "E218" // lid declared twice
	ErrLIDTypeMismatch   = "E219" // lid used with a different type than declared
	ErrInvalidRelOp      = "E220" // relationship operation shape not allowed
)

// RequestError rejects a malformed request document (InvalidRequest).
type RequestError struct {
	Code    string
	Message string
	Pointer ir.Pointer
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Pointer != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Pointer, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ValidationError is one structural or cross-operation violation.
type ValidationError struct {
	Pointer ir.Pointer `json:"pointer"`
	Message string     `json:"message"`
	Code    string     `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Pointer, e.Message)
}

// ValidationErrors collects every violation found in a batch.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// IsRequestError returns true if err rejects the request document.
// Uses errors.As to handle wrapped errors.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

// IsValidationError returns true if err carries validation violations.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve ValidationErrors
	return errors.As(err, &ve)
}
