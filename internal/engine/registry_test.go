package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsonapi-atomic/internal/ir"
	"github.com/roach88/jsonapi-atomic/internal/testutil"
)

func TestRegistryUnknownTypeIsUnsupported(t *testing.T) {
	h := NewRegistry().Lookup("comments")
	ctx := context.Background()

	_, err := h.Creator.Create(ctx, ir.Resource{Type: "comments"})
	assert.ErrorIs(t, err, ir.ErrUnsupported)
	_, err = h.Updater.Update(ctx, ir.Resource{Type: "comments", ID: "1"})
	assert.ErrorIs(t, err, ir.ErrUnsupported)
	assert.ErrorIs(t, h.Deleter.Delete(ctx, "comments", "1"), ir.ErrUnsupported)
	assert.ErrorIs(t, h.Relationships.AddToRelationship(ctx, "comments", "1", "r", nil), ir.ErrUnsupported)
	assert.ErrorIs(t, h.Relationships.ReplaceRelationship(ctx, "comments", "1", "r", ir.ToOne(nil)), ir.ErrUnsupported)
	assert.ErrorIs(t, h.Relationships.RemoveFromRelationship(ctx, "comments", "1", "r", nil), ir.ErrUnsupported)
}

func TestRegistryPartialHandler(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	reg := NewRegistry()
	reg.Register("logs", Handler{Creator: repo})

	h := reg.Lookup("logs")
	ctx := context.Background()

	_, err := h.Creator.Create(ctx, ir.Resource{Type: "logs"})
	require.NoError(t, err)
	assert.ErrorIs(t, h.Deleter.Delete(ctx, "logs", "mem-1"), ir.ErrUnsupported)
	assert.Equal(t, 1, repo.Len("logs"))
}

func TestRegistryTypes(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	reg := NewRegistry()
	reg.Register("people", HandlerFor(repo))
	reg.Register("articles", HandlerFor(repo))
	assert.Equal(t, []string{"articles", "people"}, reg.Types())
}
