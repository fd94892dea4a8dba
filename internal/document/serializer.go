// Package document renders stored resources as JSON:API resource objects.
package document

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/roach88/jsonapi-atomic/internal/ir"
	"github.com/roach88/jsonapi-atomic/internal/schema"
)

// Options configures a Serializer.
type Options struct {
	// BaseURL prefixes generated links. Empty disables links.
	BaseURL string
}

// Serializer turns resource handles into resource objects.
type Serializer struct {
	schema  *schema.Schema
	baseURL string
}

// NewSerializer creates a serializer. With a schema, only declared members
// are rendered; without one, every member of the resource is.
func NewSerializer(sch *schema.Schema, opts Options) *Serializer {
	return &Serializer{
		schema:  sch,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Serialize renders res, applying the sparse fieldset for its type.
func (s *Serializer) Serialize(res *ir.Resource, fields ir.Fieldsets) (*ir.ResourceObject, error) {
	if res == nil {
		return nil, fmt.Errorf("serialize: nil resource")
	}

	var def *schema.Resource
	if s.schema != nil {
		var ok bool
		def, ok = s.schema.Resource(res.Type)
		if !ok {
			return nil, fmt.Errorf("serialize: unknown resource type %q", res.Type)
		}
	}

	obj := &ir.ResourceObject{Type: res.Type, ID: res.ID}

	for name, value := range res.Attributes {
		if def != nil {
			if _, declared := def.Attributes[name]; !declared {
				continue
			}
		}
		if !fields.Allows(res.Type, name) {
			continue
		}
		if obj.Attributes == nil {
			obj.Attributes = make(map[string]any)
		}
		obj.Attributes[name] = value
	}

	self := s.resourceURL(res.Type, res.ID)
	for name, linkage := range res.Relationships {
		if def != nil {
			if _, declared := def.Relationship(name); !declared {
				continue
			}
		}
		if !fields.Allows(res.Type, name) {
			continue
		}
		if obj.Relationships == nil {
			obj.Relationships = make(map[string]ir.Relationship)
		}
		rel := ir.Relationship{Data: linkage}
		if self != "" {
			rel.Links = map[string]string{
				"self":    self + "/relationships/" + url.PathEscape(name),
				"related": self + "/" + url.PathEscape(name),
			}
		}
		obj.Relationships[name] = rel
	}

	if self != "" {
		obj.Links = map[string]string{"self": self}
	}
	return obj, nil
}

func (s *Serializer) resourceURL(typ, id string) string {
	if s.baseURL == "" || id == "" {
		return ""
	}
	return s.baseURL + "/" + url.PathEscape(typ) + "/" + url.PathEscape(id)
}
