package schema

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// CheckAttributes verifies that every attribute is declared and that its
// value has the declared kind. Null is accepted for every kind.
// Violations wrap ir.ErrInvalid.
func (r *Resource) CheckAttributes(attrs map[string]any) error {
	for _, name := range sortedKeys(attrs) {
		kind, ok := r.Attributes[name]
		if !ok {
			return fmt.Errorf("%w: %s has no attribute %q", ir.ErrInvalid, r.Type, name)
		}
		if !kind.Accepts(attrs[name]) {
			return fmt.Errorf("%w: attribute %q of %s must be %s", ir.ErrInvalid, name, r.Type, kind)
		}
	}
	return nil
}

// CheckLinkage verifies that a relationship exists, that the linkage
// cardinality matches it and that every identifier has the related type.
// Violations wrap ir.ErrInvalid.
func (r *Resource) CheckLinkage(name string, linkage ir.Linkage) error {
	rel, ok := r.Relationships[name]
	if !ok {
		return fmt.Errorf("%w: %s has no relationship %q", ir.ErrInvalid, r.Type, name)
	}
	if linkage.Many != rel.Many {
		want := "a single resource identifier or null"
		if rel.Many {
			want = "an array of resource identifiers"
		}
		return fmt.Errorf("%w: relationship %q of %s takes %s", ir.ErrInvalid, name, r.Type, want)
	}
	if rel.Type == "" {
		return nil
	}
	for _, id := range linkage.Identifiers() {
		if id.Type != rel.Type {
			return fmt.Errorf("%w: relationship %q of %s links %q identifiers, got %q",
				ir.ErrInvalid, name, r.Type, rel.Type, id.Type)
		}
	}
	return nil
}

// Accepts reports whether a decoded JSON value has this kind.
func (k Kind) Accepts(v any) bool {
	if v == nil || k == KindAny {
		return true
	}
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	case KindArray:
		_, ok := v.([]any)
		return ok
	case KindInt:
		return isInteger(v)
	case KindNumber:
		return isNumber(v)
	default:
		return false
	}
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Int64()
		return err == nil
	case float64:
		return n == math.Trunc(n) && !math.IsInf(n, 0)
	case int, int64:
		return true
	default:
		return false
	}
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Float64()
		return err == nil
	case float64, int, int64:
		return true
	default:
		return false
	}
}
