package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/jsonapi-atomic/internal/ir"
	"github.com/roach88/jsonapi-atomic/internal/schema"
)

// Repository persists resources of the types declared in a schema.
//
// All methods use the transaction carried by ctx when there is one.
type Repository struct {
	store  *Store
	schema *schema.Schema
	ids    IDGenerator
}

// NewRepository creates a repository. A nil ids falls back to UUIDv7.
func NewRepository(s *Store, sch *schema.Schema, ids IDGenerator) *Repository {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	return &Repository{store: s, schema: sch, ids: ids}
}

// Create inserts a new resource. A client-supplied id is kept; otherwise
// one is generated. An existing (type, id) yields ir.ErrConflict.
func (r *Repository) Create(ctx context.Context, res ir.Resource) (*ir.Resource, error) {
	def, err := r.definition(res.Type)
	if err != nil {
		return nil, err
	}
	if err := r.checkResource(def, res); err != nil {
		return nil, err
	}

	id := res.ID
	if id == "" {
		id = r.ids.Generate()
	}

	exists, err := r.exists(ctx, res.Type, id)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", res.Type, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s %q already exists", ir.ErrConflict, res.Type, id)
	}

	attrs, err := marshalAttributes(res.Attributes)
	if err != nil {
		return nil, err
	}
	_, err = r.store.conn(ctx).ExecContext(ctx,
		`INSERT INTO resources (type, id, attributes) VALUES (?, ?, ?)`,
		res.Type, id, attrs,
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
			return nil, fmt.Errorf("%w: %s %q already exists", ir.ErrConflict, res.Type, id)
		}
		return nil, fmt.Errorf("create %s: %w", res.Type, err)
	}

	for _, name := range def.RelationshipOrder {
		linkage, ok := res.Relationships[name]
		if !ok || !linkage.Present {
			continue
		}
		if err := r.writeLinkage(ctx, res.Type, id, name, linkage.Identifiers(), false); err != nil {
			return nil, err
		}
	}

	return r.Find(ctx, res.Type, id)
}

// Update merges attributes into an existing resource and replaces every
// relationship present in res.
func (r *Repository) Update(ctx context.Context, res ir.Resource) (*ir.Resource, error) {
	def, err := r.definition(res.Type)
	if err != nil {
		return nil, err
	}
	if err := r.checkResource(def, res); err != nil {
		return nil, err
	}

	current, err := r.Find(ctx, res.Type, res.ID)
	if err != nil {
		return nil, err
	}

	if len(res.Attributes) > 0 {
		merged := current.Attributes
		for k, v := range res.Attributes {
			merged[k] = v
		}
		attrs, err := marshalAttributes(merged)
		if err != nil {
			return nil, err
		}
		_, err = r.store.conn(ctx).ExecContext(ctx,
			`UPDATE resources SET attributes = ? WHERE type = ? AND id = ?`,
			attrs, res.Type, res.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("update %s %q: %w", res.Type, res.ID, err)
		}
	}

	for _, name := range def.RelationshipOrder {
		linkage, ok := res.Relationships[name]
		if !ok || !linkage.Present {
			continue
		}
		if err := r.clearRelationship(ctx, res.Type, res.ID, name); err != nil {
			return nil, err
		}
		if err := r.writeLinkage(ctx, res.Type, res.ID, name, linkage.Identifiers(), false); err != nil {
			return nil, err
		}
	}

	return r.Find(ctx, res.Type, res.ID)
}

// Delete removes a resource together with every linkage row that points
// at it or from it.
func (r *Repository) Delete(ctx context.Context, typ, id string) error {
	if _, err := r.definition(typ); err != nil {
		return err
	}
	result, err := r.store.conn(ctx).ExecContext(ctx,
		`DELETE FROM resources WHERE type = ? AND id = ?`, typ, id)
	if err != nil {
		return fmt.Errorf("delete %s %q: %w", typ, id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %q: %w", typ, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %q", ir.ErrNotFound, typ, id)
	}
	return nil
}

// Find loads a resource with all of its declared relationships. Empty
// relationships are present as null or [].
func (r *Repository) Find(ctx context.Context, typ, id string) (*ir.Resource, error) {
	def, err := r.definition(typ)
	if err != nil {
		return nil, err
	}

	var raw string
	err = r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT attributes FROM resources WHERE type = ? AND id = ?`, typ, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %q", ir.ErrNotFound, typ, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s %q: %w", typ, id, err)
	}

	attrs, err := unmarshalAttributes(raw)
	if err != nil {
		return nil, fmt.Errorf("find %s %q: %w", typ, id, err)
	}

	res := &ir.Resource{
		Type:          typ,
		ID:            id,
		Attributes:    attrs,
		Relationships: make(map[string]ir.Linkage, len(def.Relationships)),
	}
	for _, name := range def.RelationshipOrder {
		res.Relationships[name] = ir.Linkage{Present: true, Many: def.Relationships[name].Many}
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		SELECT name, target_type, target_id
		FROM relationships
		WHERE owner_type = ? AND owner_id = ?
		ORDER BY name ASC, position ASC, target_type ASC, target_id ASC
	`, typ, id)
	if err != nil {
		return nil, fmt.Errorf("find %s %q relationships: %w", typ, id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var target ir.ResourceIdentifier
		if err := rows.Scan(&name, &target.Type, &target.ID); err != nil {
			return nil, fmt.Errorf("find %s %q relationships: %w", typ, id, err)
		}
		linkage, ok := res.Relationships[name]
		if !ok {
			// Linkage of a relationship no longer in the schema.
			continue
		}
		if linkage.Many {
			linkage.Items = append(linkage.Items, target)
		} else {
			linkage.One = &target
		}
		res.Relationships[name] = linkage
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find %s %q relationships: %w", typ, id, err)
	}

	for name, linkage := range res.Relationships {
		if linkage.Many && linkage.Items == nil {
			linkage.Items = []ir.ResourceIdentifier{}
			res.Relationships[name] = linkage
		}
	}
	return res, nil
}

// Count returns the number of stored resources of a type.
func (r *Repository) Count(ctx context.Context, typ string) (int, error) {
	var n int
	err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM resources WHERE type = ?`, typ).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", typ, err)
	}
	return n, nil
}

func (r *Repository) definition(typ string) (*schema.Resource, error) {
	def, ok := r.schema.Resource(typ)
	if !ok {
		return nil, fmt.Errorf("%w: unknown resource type %q", ir.ErrInvalid, typ)
	}
	return def, nil
}

func (r *Repository) checkResource(def *schema.Resource, res ir.Resource) error {
	if err := def.CheckAttributes(res.Attributes); err != nil {
		return err
	}
	for name, linkage := range res.Relationships {
		if !linkage.Present {
			continue
		}
		if err := def.CheckLinkage(name, linkage); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) exists(ctx context.Context, typ, id string) (bool, error) {
	var one int
	err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT 1 FROM resources WHERE type = ? AND id = ?`, typ, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func marshalAttributes(attrs map[string]any) (string, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	data, err := ir.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

func unmarshalAttributes(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	attrs := map[string]any{}
	if err := dec.Decode(&attrs); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return attrs, nil
}

// isConstraint reports whether err is the given SQLite constraint failure.
func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint && se.ExtendedCode == code
	}
	return false
}
