package ir

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Fieldsets holds sparse fieldset selections keyed by resource type.
// A type without an entry selects every field.
type Fieldsets map[string][]string

// Allows reports whether field of typ is selected.
func (f Fieldsets) Allows(typ, field string) bool {
	selected, ok := f[typ]
	if !ok {
		return true
	}
	return slices.Contains(selected, field)
}

// ParseFieldsets reads fields[TYPE]=a,b query parameters. Other parameters
// are ignored.
func ParseFieldsets(query url.Values) (Fieldsets, error) {
	var out Fieldsets
	for key, values := range query {
		if !strings.HasPrefix(key, "fields[") {
			continue
		}
		if !strings.HasSuffix(key, "]") || len(key) == len("fields[]") {
			return nil, fmt.Errorf("malformed sparse fieldset parameter %q", key)
		}
		typ := key[len("fields[") : len(key)-1]
		if out == nil {
			out = make(Fieldsets)
		}
		fields := []string{}
		for _, v := range values {
			for _, name := range strings.Split(v, ",") {
				if name = strings.TrimSpace(name); name != "" {
					fields = append(fields, name)
				}
			}
		}
		out[typ] = fields
	}
	return out, nil
}
