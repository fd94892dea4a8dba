package compiler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// ParseHref resolves an operation href into a target ref.
//
// Accepted forms, relative to basePath:
//
//	/{type}
//	/{type}/{id}
//	/{type}/{id}/relationships/{relationship}
//
// Absolute URLs are accepted; only their path is considered.
func ParseHref(href, basePath string) (ir.Ref, error) {
	u, err := url.Parse(href)
	if err != nil {
		return ir.Ref{}, fmt.Errorf("malformed href %q: %w", href, err)
	}

	path := u.Path
	base := "/" + strings.Trim(basePath, "/")
	if base != "/" {
		if path != base && !strings.HasPrefix(path, base+"/") {
			return ir.Ref{}, fmt.Errorf("href %q is outside base path %q", href, base)
		}
		path = strings.TrimPrefix(path, base)
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, s := range segments {
		if s == "" {
			return ir.Ref{}, fmt.Errorf("href %q has an empty path segment", href)
		}
	}

	switch {
	case len(segments) == 1:
		return normalizeRef(ir.Ref{Type: segments[0]}), nil
	case len(segments) == 2:
		return normalizeRef(ir.Ref{Type: segments[0], ID: segments[1]}), nil
	case len(segments) == 4 && segments[2] == "relationships":
		return normalizeRef(ir.Ref{Type: segments[0], ID: segments[1], Relationship: segments[3]}), nil
	default:
		return ir.Ref{}, fmt.Errorf("href %q does not address a collection, resource or relationship", href)
	}
}
