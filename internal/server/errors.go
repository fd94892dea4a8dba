package server

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/roach88/jsonapi-atomic/internal/compiler"
	"github.com/roach88/jsonapi-atomic/internal/engine"
	"github.com/roach88/jsonapi-atomic/internal/ir"
	"github.com/roach88/jsonapi-atomic/internal/mediatype"
)

// Error codes for failures detected by the transport itself.
const (
	codeBodyTooLarge  = "BODY_TOO_LARGE"
	codeBadBody       = "UNREADABLE_BODY"
	codeBadParameter  = "INVALID_PARAMETER"
	codeInternalError = "INTERNAL_ERROR"
)

// parameterError rejects a query parameter.
type parameterError struct {
	parameter string
	err       error
}

func (e *parameterError) Error() string { return e.err.Error() }
func (e *parameterError) Unwrap() error { return e.err }

// bodyError reports a request body that could not be read.
type bodyError struct{ err error }

func (e *bodyError) Error() string { return "read request body: " + e.err.Error() }
func (e *bodyError) Unwrap() error { return e.err }

// ErrorDocument maps err to an HTTP status and the error document
// describing it. Unrecognized errors become a generic 500.
func ErrorDocument(err error) (int, ir.ErrorDocument) {
	var (
		ne  *mediatype.NegotiationError
		re  *compiler.RequestError
		ve  compiler.ValidationErrors
		rte *engine.RuntimeError
		pe  *parameterError
		be  *bodyError
		mbe *http.MaxBytesError
	)

	switch {
	case errors.As(err, &ne):
		status := ne.Status()
		detail := ne.Message
		if ne.Value != "" {
			detail = fmt.Sprintf("%s (got %q)", ne.Message, ne.Value)
		}
		return status, single(status, string(ne.Kind), detail, &ir.ErrorSource{Header: ne.Header})

	case errors.As(err, &mbe):
		status := http.StatusRequestEntityTooLarge
		return status, single(status, codeBodyTooLarge, err.Error(), nil)

	case errors.As(err, &be):
		status := http.StatusBadRequest
		return status, single(status, codeBadBody, be.Error(), nil)

	case errors.As(err, &pe):
		status := http.StatusBadRequest
		return status, single(status, codeBadParameter, pe.Error(), &ir.ErrorSource{Parameter: pe.parameter})

	case errors.As(err, &re):
		status := http.StatusBadRequest
		return status, single(status, re.Code, re.Message, pointerSource(re.Pointer))

	case errors.As(err, &ve):
		return validationDocument(ve)

	case errors.As(err, &rte):
		status := runtimeStatus(rte)
		detail := rte.Message
		if status == http.StatusInternalServerError {
			detail = "operation could not be executed"
		}
		return status, single(status, string(rte.Code), detail, pointerSource(rte.Pointer))

	default:
		status := http.StatusInternalServerError
		return status, single(status, codeInternalError, "internal server error", nil)
	}
}

func validationDocument(errs compiler.ValidationErrors) (int, ir.ErrorDocument) {
	doc := ir.ErrorDocument{Errors: make([]ir.ErrorObject, 0, len(errs))}
	statuses := make([]int, 0, len(errs))
	for _, e := range errs {
		status := validationStatus(e.Code)
		statuses = append(statuses, status)
		doc.Errors = append(doc.Errors, errorObject(status, e.Code, e.Message, pointerSource(e.Pointer)))
	}

	// Mixed statuses collapse to the most general one.
	status := http.StatusBadRequest
	if len(statuses) > 0 && !slices.ContainsFunc(statuses, func(s int) bool { return s != statuses[0] }) {
		status = statuses[0]
	}
	return status, doc
}

// validationStatus answers 422 for well-formed operations whose content
// cannot be processed and 400 for malformed ones.
func validationStatus(code string) int {
	switch code {
	case compiler.ErrInvalidData, compiler.ErrUndeclaredLID, compiler.ErrDuplicateLID, compiler.ErrLIDTypeMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func runtimeStatus(err *engine.RuntimeError) int {
	switch {
	case err.Code == engine.ErrCodeAborted:
		return http.StatusServiceUnavailable
	case errors.Is(err, ir.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ir.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ir.ErrInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ir.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ir.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func single(status int, code, detail string, source *ir.ErrorSource) ir.ErrorDocument {
	return ir.ErrorDocument{Errors: []ir.ErrorObject{errorObject(status, code, detail, source)}}
}

func errorObject(status int, code, detail string, source *ir.ErrorSource) ir.ErrorObject {
	return ir.ErrorObject{
		Status: strconv.Itoa(status),
		Code:   code,
		Title:  http.StatusText(status),
		Detail: detail,
		Source: source,
	}
}

func pointerSource(p ir.Pointer) *ir.ErrorSource {
	if p == "" {
		return nil
	}
	return &ir.ErrorSource{Pointer: string(p)}
}
