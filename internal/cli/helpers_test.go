package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSchema = `
resource: people: attributes: name: string

resource: tags: attributes: label: string

resource: articles: {
	attributes: title: string
	relationships: {
		author: {type: "people"}
		tags: {type: "tags", many: true}
	}
}
`

// writeFile writes content under dir and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// testPaths returns a schema file and a database path in a temp dir.
func testPaths(t *testing.T) (dir, schemaPath, dbPath string) {
	t.Helper()
	dir = t.TempDir()
	return dir, writeFile(t, dir, "schema.cue", testSchema), filepath.Join(dir, "atomic.db")
}
