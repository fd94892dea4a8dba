package store

import (
	"context"
	"fmt"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// AddToRelationship appends members to a to-many relationship. Members
// already present are kept where they are.
func (r *Repository) AddToRelationship(ctx context.Context, typ, id, name string, ids []ir.ResourceIdentifier) error {
	if err := r.checkMutation(ctx, typ, id, name, ir.ToMany(ids...), true); err != nil {
		return err
	}
	return r.writeLinkage(ctx, typ, id, name, ids, true)
}

// ReplaceRelationship sets the complete linkage of a relationship.
func (r *Repository) ReplaceRelationship(ctx context.Context, typ, id, name string, linkage ir.Linkage) error {
	if err := r.checkMutation(ctx, typ, id, name, linkage, false); err != nil {
		return err
	}
	if err := r.clearRelationship(ctx, typ, id, name); err != nil {
		return err
	}
	return r.writeLinkage(ctx, typ, id, name, linkage.Identifiers(), false)
}

// RemoveFromRelationship detaches members from a to-many relationship.
// Members that are not linked are ignored.
func (r *Repository) RemoveFromRelationship(ctx context.Context, typ, id, name string, ids []ir.ResourceIdentifier) error {
	if err := r.checkMutation(ctx, typ, id, name, ir.ToMany(ids...), true); err != nil {
		return err
	}
	for _, target := range ids {
		_, err := r.store.conn(ctx).ExecContext(ctx, `
			DELETE FROM relationships
			WHERE owner_type = ? AND owner_id = ? AND name = ? AND target_type = ? AND target_id = ?
		`, typ, id, name, target.Type, target.ID)
		if err != nil {
			return fmt.Errorf("remove from %s %q %s: %w", typ, id, name, err)
		}
	}
	return nil
}

// checkMutation verifies the owner and the relationship definition.
// onlyMany rejects to-one relationships with ir.ErrForbidden.
func (r *Repository) checkMutation(ctx context.Context, typ, id, name string, linkage ir.Linkage, onlyMany bool) error {
	def, err := r.definition(typ)
	if err != nil {
		return err
	}
	rel, ok := def.Relationship(name)
	if !ok {
		return fmt.Errorf("%w: %s has no relationship %q", ir.ErrNotFound, typ, name)
	}
	if onlyMany && !rel.Many {
		return fmt.Errorf("%w: relationship %q of %s is to-one; use update to replace it",
			ir.ErrForbidden, name, typ)
	}
	if err := def.CheckLinkage(name, linkage); err != nil {
		return err
	}

	exists, err := r.exists(ctx, typ, id)
	if err != nil {
		return fmt.Errorf("relationship %s of %s %q: %w", name, typ, id, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s %q", ir.ErrNotFound, typ, id)
	}
	return nil
}

func (r *Repository) clearRelationship(ctx context.Context, typ, id, name string) error {
	_, err := r.store.conn(ctx).ExecContext(ctx,
		`DELETE FROM relationships WHERE owner_type = ? AND owner_id = ? AND name = ?`,
		typ, id, name)
	if err != nil {
		return fmt.Errorf("clear %s %q %s: %w", typ, id, name, err)
	}
	return nil
}

// writeLinkage inserts linkage rows. Every target must exist. With appendMode
// the rows go after the current members.
func (r *Repository) writeLinkage(ctx context.Context, typ, id, name string, ids []ir.ResourceIdentifier, appendMode bool) error {
	if len(ids) == 0 {
		return nil
	}
	conn := r.store.conn(ctx)

	next := 0
	if appendMode {
		err := conn.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position), -1) + 1
			FROM relationships
			WHERE owner_type = ? AND owner_id = ? AND name = ?
		`, typ, id, name).Scan(&next)
		if err != nil {
			return fmt.Errorf("link %s %q %s: %w", typ, id, name, err)
		}
	}

	for _, target := range ids {
		if target.ID == "" {
			return fmt.Errorf("%w: unresolved identifier in %s of %s %q", ir.ErrInvalid, name, typ, id)
		}
		exists, err := r.exists(ctx, target.Type, target.ID)
		if err != nil {
			return fmt.Errorf("link %s %q %s: %w", typ, id, name, err)
		}
		if !exists {
			return fmt.Errorf("%w: related %s %q", ir.ErrNotFound, target.Type, target.ID)
		}

		result, err := conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO relationships
			(owner_type, owner_id, name, position, target_type, target_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, typ, id, name, next, target.Type, target.ID)
		if err != nil {
			return fmt.Errorf("link %s %q %s: %w", typ, id, name, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			next++
		}
	}
	return nil
}
