package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// Handler holds the collaborators serving one resource type. A nil
// capability is served by an unimplemented stub.
type Handler struct {
	Creator       ResourceCreator
	Updater       ResourceUpdater
	Deleter       ResourceDeleter
	Relationships RelationshipMutator
}

// HandlerFor serves every capability from one repository.
func HandlerFor(repo Repository) Handler {
	return Handler{
		Creator:       repo,
		Updater:       repo,
		Deleter:       repo,
		Relationships: repo,
	}
}

// Registry maps resource types to handlers. It is built once at startup
// and read-only afterwards.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs the handler for a resource type, replacing any
// previous one.
func (r *Registry) Register(typ string, h Handler) {
	r.handlers[typ] = h
}

// Lookup returns the handler for a type. Unknown types and missing
// capabilities resolve to stubs failing with ir.ErrUnsupported.
func (r *Registry) Lookup(typ string) Handler {
	h := r.handlers[typ]
	stub := unimplemented{typ: typ}
	if h.Creator == nil {
		h.Creator = stub
	}
	if h.Updater == nil {
		h.Updater = stub
	}
	if h.Deleter == nil {
		h.Deleter = stub
	}
	if h.Relationships == nil {
		h.Relationships = stub
	}
	return h
}

// Types returns the registered types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for typ := range r.handlers {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}

// unimplemented rejects every call for a type.
type unimplemented struct {
	typ string
}

func (u unimplemented) fail(what string) error {
	return fmt.Errorf("%w: %s of %q resources", ir.ErrUnsupported, what, u.typ)
}

func (u unimplemented) Create(context.Context, ir.Resource) (*ir.Resource, error) {
	return nil, u.fail("creating")
}

func (u unimplemented) Update(context.Context, ir.Resource) (*ir.Resource, error) {
	return nil, u.fail("updating")
}

func (u unimplemented) Delete(context.Context, string, string) error {
	return u.fail("deleting")
}

func (u unimplemented) AddToRelationship(context.Context, string, string, string, []ir.ResourceIdentifier) error {
	return u.fail("adding to relationships")
}

func (u unimplemented) ReplaceRelationship(context.Context, string, string, string, ir.Linkage) error {
	return u.fail("replacing relationships")
}

func (u unimplemented) RemoveFromRelationship(context.Context, string, string, string, []ir.ResourceIdentifier) error {
	return u.fail("removing from relationships")
}
