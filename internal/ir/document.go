package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResourceIdentifier is a resource linkage entry. Exactly one of ID and LID
// is set in a well-formed identifier.
type ResourceIdentifier struct {
	Type string         `json:"type"`
	ID   string         `json:"id,omitempty"`
	LID  string         `json:"lid,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Linkage is the data member of a relationship.
//
// The zero value means "absent". A present to-one linkage with a nil One is
// an explicit null; a present to-many linkage may be empty.
type Linkage struct {
	Present bool
	Many    bool
	One     *ResourceIdentifier
	Items   []ResourceIdentifier
}

// ToOne returns a present to-one linkage. A nil id encodes null.
func ToOne(id *ResourceIdentifier) Linkage {
	return Linkage{Present: true, One: id}
}

// ToMany returns a present to-many linkage.
func ToMany(ids ...ResourceIdentifier) Linkage {
	if ids == nil {
		ids = []ResourceIdentifier{}
	}
	return Linkage{Present: true, Many: true, Items: ids}
}

// IsZero reports whether the linkage is absent; used by omitzero.
func (l Linkage) IsZero() bool {
	return !l.Present
}

// Identifiers returns every identifier in the linkage regardless of arity.
func (l Linkage) Identifiers() []ResourceIdentifier {
	if l.Many {
		return l.Items
	}
	if l.One != nil {
		return []ResourceIdentifier{*l.One}
	}
	return nil
}

// MarshalJSON renders null, a single identifier or an array.
func (l Linkage) MarshalJSON() ([]byte, error) {
	if l.Many {
		items := l.Items
		if items == nil {
			items = []ResourceIdentifier{}
		}
		return json.Marshal(items)
	}
	if l.One == nil {
		return []byte("null"), nil
	}
	return json.Marshal(l.One)
}

// UnmarshalJSON accepts null, an identifier object or an array of them.
func (l *Linkage) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*l = Linkage{Present: true}
	if len(trimmed) == 0 {
		return fmt.Errorf("empty linkage")
	}
	switch trimmed[0] {
	case 'n':
		return nil
	case '[':
		l.Many = true
		l.Items = []ResourceIdentifier{}
		return json.Unmarshal(trimmed, &l.Items)
	case '{':
		var id ResourceIdentifier
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return err
		}
		l.One = &id
		return nil
	default:
		return fmt.Errorf("linkage must be null, an object or an array")
	}
}

// Relationship is a relationship object of a resource document.
type Relationship struct {
	Data  Linkage           `json:"data,omitzero"`
	Links map[string]string `json:"links,omitempty"`
	Meta  map[string]any    `json:"meta,omitempty"`
}

// ResourceObject is the JSON:API representation of a resource, used both
// for incoming operation data and outgoing result data.
type ResourceObject struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id,omitempty"`
	LID           string                  `json:"lid,omitempty"`
	Attributes    map[string]any          `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Links         map[string]string       `json:"links,omitempty"`
	Meta          map[string]any          `json:"meta,omitempty"`
}

// Identifier returns the linkage identifier of the object.
func (r ResourceObject) Identifier() ResourceIdentifier {
	return ResourceIdentifier{Type: r.Type, ID: r.ID, LID: r.LID}
}

// Resource is the handle returned by persistence collaborators.
type Resource struct {
	Type          string
	ID            string
	Attributes    map[string]any
	Relationships map[string]Linkage
}

// Outcome is the result of executing one operation. Resource is nil for
// operations that produce no representable resource.
type Outcome struct {
	Type     string
	ID       string
	Resource *Resource
}

// Empty reports whether the outcome carries no resource.
func (o Outcome) Empty() bool {
	return o.Resource == nil
}

// ResourceOutcome builds a data-carrying outcome from a resource handle.
func ResourceOutcome(res *Resource) Outcome {
	return Outcome{Type: res.Type, ID: res.ID, Resource: res}
}

// Result is one entry of the atomic:results array. The zero value
// marshals to an empty object.
type Result struct {
	Data *ResourceObject `json:"data,omitempty"`
	Meta map[string]any  `json:"meta,omitempty"`
}

// ResultDocument is the 200 response body.
type ResultDocument struct {
	Results []Result `json:"atomic:results"`
}

// ErrorSource locates the cause of an error in the request.
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`
	Header    string `json:"header,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// ErrorObject is one entry of an error document.
type ErrorObject struct {
	Status string       `json:"status"`
	Code   string       `json:"code,omitempty"`
	Title  string       `json:"title,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorDocument is the body of every error response.
type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}
