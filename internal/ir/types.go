package ir

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Media type constants for the atomic extension.
const (
	// MediaType is the base JSON:API media type.
	MediaType = "application/vnd.api+json"

	// AtomicExtension is the URI identifying the atomic operations extension.
	AtomicExtension = "https://jsonapi.org/ext/atomic"

	// AtomicMediaType is the full media type used for every atomic response.
	AtomicMediaType = MediaType + `; ext="` + AtomicExtension + `"`

	// OperationsMember is the top-level request member holding the batch.
	OperationsMember = "atomic:operations"

	// ResultsMember is the top-level response member holding the outcomes.
	ResultsMember = "atomic:results"
)

// Op is the kind of mutation requested by one batch entry.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// Valid reports whether o is one of the three protocol operations.
func (o Op) Valid() bool {
	return o == OpAdd || o == OpUpdate || o == OpRemove
}

// Ref identifies the target of an operation and, optionally,
// a relationship on it.
type Ref struct {
	Type         string `json:"type"`
	ID           string `json:"id,omitempty"`
	LID          string `json:"lid,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

// HasIdentifier reports whether the ref names a concrete resource.
func (r Ref) HasIdentifier() bool {
	return r.ID != "" || r.LID != ""
}

// IsRelationship reports whether the ref addresses a relationship
// rather than the resource itself.
func (r Ref) IsRelationship() bool {
	return r.Relationship != ""
}

// String renders the ref for logs and error details.
func (r Ref) String() string {
	var b strings.Builder
	b.WriteString(r.Type)
	switch {
	case r.ID != "":
		b.WriteString("/" + r.ID)
	case r.LID != "":
		b.WriteString("/lid:" + r.LID)
	}
	if r.Relationship != "" {
		b.WriteString("/relationships/" + r.Relationship)
	}
	return b.String()
}

// Operation is one parsed batch entry.
//
// Ref is set when the entry carried an explicit ref object, or when the
// parser derived it from the data member of a resource operation.
// ExplicitRef records which of the two happened.
type Operation struct {
	Op          Op
	Ref         *Ref
	ExplicitRef bool
	Href        string
	Data        json.RawMessage
	Meta        map[string]any
	Pointer     Pointer
	Index       int
}

// RequiresData reports whether the operation must carry a data member.
func (o Operation) RequiresData() bool {
	return o.Op != OpRemove
}

// HasData reports whether a data member was present, including explicit null.
func (o Operation) HasData() bool {
	return len(o.Data) > 0
}

// IsRelationship reports whether the operation mutates a relationship.
func (o Operation) IsRelationship() bool {
	return o.Ref != nil && o.Ref.IsRelationship()
}

// Pointer is a JSON pointer into the original request document.
type Pointer string

// OperationPointer returns the pointer of the batch entry at index i.
func OperationPointer(i int) Pointer {
	return Pointer("/" + OperationsMember + "/" + strconv.Itoa(i))
}

// Child appends reference tokens to the pointer, escaping them per RFC 6901.
func (p Pointer) Child(tokens ...string) Pointer {
	var b strings.Builder
	b.WriteString(string(p))
	for _, tok := range tokens {
		b.WriteByte('/')
		tok = strings.ReplaceAll(tok, "~", "~0")
		b.WriteString(strings.ReplaceAll(tok, "/", "~1"))
	}
	return Pointer(b.String())
}

// String returns the pointer text.
func (p Pointer) String() string {
	return string(p)
}
