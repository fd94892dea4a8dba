package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/jsonapi-atomic/internal/schema"
)

// testSchema declares the resource types used by repository tests.
const testSchema = `
resource: people: attributes: name: "string"

resource: tags: attributes: label: "string"

resource: articles: {
	attributes: {
		title: "string"
		views: "int"
		meta:  {...}
	}
	relationships: {
		author: type: "people"
		tags: {type: "tags", many: true}
	}
}
`

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRepository creates a store and a repository over testSchema
// with ids gen-1, gen-2, ...
func createTestRepository(t *testing.T) (*Store, *Repository) {
	t.Helper()
	sch, err := schema.CompileString(testSchema, "test.cue")
	if err != nil {
		t.Fatalf("CompileString() failed: %v", err)
	}
	s := createTestStore(t)
	return s, NewRepository(s, sch, NewSequenceGenerator("gen"))
}
