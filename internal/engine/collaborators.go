package engine

import (
	"context"
	"time"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// Transactor runs work as one all-or-nothing unit. work receives a context
// that collaborators use to join the transaction. Returning an error (or
// panicking) from work rolls everything back.
type Transactor interface {
	RunInTransaction(ctx context.Context, work func(ctx context.Context) error) error
}

// ResourceCreator persists a new resource. res.ID is empty unless the
// client supplied one.
type ResourceCreator interface {
	Create(ctx context.Context, res ir.Resource) (*ir.Resource, error)
}

// ResourceUpdater applies attribute and relationship changes to an
// existing resource.
type ResourceUpdater interface {
	Update(ctx context.Context, res ir.Resource) (*ir.Resource, error)
}

// ResourceDeleter removes a resource.
type ResourceDeleter interface {
	Delete(ctx context.Context, typ, id string) error
}

// RelationshipMutator changes the linkage of one relationship.
type RelationshipMutator interface {
	AddToRelationship(ctx context.Context, typ, id, name string, ids []ir.ResourceIdentifier) error
	ReplaceRelationship(ctx context.Context, typ, id, name string, linkage ir.Linkage) error
	RemoveFromRelationship(ctx context.Context, typ, id, name string, ids []ir.ResourceIdentifier) error
}

// Repository bundles every collaborator capability for one backend.
type Repository interface {
	ResourceCreator
	ResourceUpdater
	ResourceDeleter
	RelationshipMutator
}

// Serializer renders a resource handle as a resource object.
type Serializer interface {
	Serialize(res *ir.Resource, fields ir.Fieldsets) (*ir.ResourceObject, error)
}

// Observer receives one call per executed operation.
type Observer interface {
	ObserveOperation(op ir.Op, resourceType string, elapsed time.Duration, err error)
}

// BatchObserver is an optional Observer extension told the size of every
// committed batch.
type BatchObserver interface {
	ObserveBatch(operations int)
}
