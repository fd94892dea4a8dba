package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ReturnPolicy decides whether operation results are echoed back.
type ReturnPolicy string

const (
	// ReturnNone always responds with no content.
	ReturnNone ReturnPolicy = "none"
	// ReturnAuto responds with results only when some operation produced data.
	ReturnAuto ReturnPolicy = "auto"
	// ReturnAlways always responds with the results array.
	ReturnAlways ReturnPolicy = "always"
)

// ValidReturnPolicies lists the accepted policy names.
var ValidReturnPolicies = []ReturnPolicy{ReturnNone, ReturnAuto, ReturnAlways}

// ParseReturnPolicy parses a policy name. The empty string yields ReturnAuto.
func ParseReturnPolicy(s string) (ReturnPolicy, error) {
	switch p := ReturnPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ReturnAuto, nil
	case ReturnNone, ReturnAuto, ReturnAlways:
		return p, nil
	default:
		return "", fmt.Errorf("invalid return policy %q: must be one of %v", s, ValidReturnPolicies)
	}
}

// Collaborator error kinds. Persistence implementations wrap one of these
// so the transport can choose a status without knowing the backend.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrConflict    = errors.New("resource conflict")
	ErrInvalid     = errors.New("invalid resource data")
	ErrForbidden   = errors.New("operation forbidden")
	ErrUnsupported = errors.New("operation not supported")
)
