package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runExecCommand executes the exec command and returns stdout.
func runExecCommand(t *testing.T, format string, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewExecCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestExecCommitsBatch(t *testing.T) {
	dir, schemaPath, dbPath := testPaths(t)
	batch := writeFile(t, dir, "batch.json", `{"atomic:operations":[
		{"op":"add","data":{"type":"people","id":"p1","attributes":{"name":"Ann"}}},
		{"op":"add","data":{"type":"articles","id":"a1","attributes":{"title":"Hi"},
			"relationships":{"author":{"data":{"type":"people","id":"p1"}}}}}
	]}`)

	out, err := runExecCommand(t, "text", "", "--schema", schemaPath, "--db", dbPath, batch)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Batch committed (2 operation(s))")
	assert.Contains(t, out, `"atomic:results"`)
	assert.Contains(t, out, `"id": "a1"`)

	// The database persists between runs.
	remove := writeFile(t, dir, "remove.json", `{"atomic:operations":[
		{"op":"remove","ref":{"type":"articles","id":"a1"}}
	]}`)
	out, err = runExecCommand(t, "text", "", "--schema", schemaPath, "--db", dbPath, remove)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Batch committed (1 operation(s))")
	assert.NotContains(t, out, "atomic:results")
}

func TestExecFromStdinJSON(t *testing.T) {
	_, schemaPath, dbPath := testPaths(t)

	out, err := runExecCommand(t, "json",
		`{"atomic:operations":[{"op":"add","data":{"type":"tags","id":"t1","attributes":{"label":"go"}}}]}`,
		"--schema", schemaPath, "--db", dbPath, "-")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Status   int `json:"status"`
			Document struct {
				Results []struct {
					Data map[string]any `json:"data"`
				} `json:"atomic:results"`
			} `json:"document"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 200, resp.Data.Status)
	require.Len(t, resp.Data.Document.Results, 1)
	assert.Equal(t, "t1", resp.Data.Document.Results[0].Data["id"])
}

func TestExecReturnPolicyFlag(t *testing.T) {
	_, schemaPath, dbPath := testPaths(t)

	out, err := runExecCommand(t, "json",
		`{"atomic:operations":[{"op":"add","data":{"type":"tags"}}]}`,
		"--schema", schemaPath, "--db", dbPath, "--return", "none", "-")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, map[string]any{"status": float64(204)}, resp.Data)
}

func TestExecFieldsFlag(t *testing.T) {
	_, schemaPath, dbPath := testPaths(t)

	out, err := runExecCommand(t, "text",
		`{"atomic:operations":[{"op":"add","data":{"type":"articles","id":"a1","attributes":{"title":"Hi"}}}]}`,
		"--schema", schemaPath, "--db", dbPath, "--fields", "fields[articles]=title", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"title": "Hi"`)
	assert.NotContains(t, out, `"relationships"`)
}

func TestExecRejectedBatch(t *testing.T) {
	_, schemaPath, dbPath := testPaths(t)
	body := `{"atomic:operations":[{"op":"remove","ref":{"type":"tags","id":"missing"}}]}`

	out, err := runExecCommand(t, "text", body, "--schema", schemaPath, "--db", dbPath, "-")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Batch rejected (404 Not Found)")
	assert.Contains(t, out, "EXECUTION_FAILED at /atomic:operations/0")

	out, err = runExecCommand(t, "json", body, "--schema", schemaPath, "--db", dbPath, "-")
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "EXECUTION_FAILED", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "404")
	assert.NotNil(t, resp.Error.Details)
}

func TestExecValidationErrors(t *testing.T) {
	_, schemaPath, dbPath := testPaths(t)

	out, err := runExecCommand(t, "text",
		`{"atomic:operations":[{"op":"remove","ref":{"type":"tags","lid":"nope"}}]}`,
		"--schema", schemaPath, "--db", dbPath, "-")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "422")
	assert.Contains(t, out, "E217 at /atomic:operations/0/ref")
}

func TestExecCommandErrors(t *testing.T) {
	_, schemaPath, dbPath := testPaths(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing batch file",
			args:    []string{"--schema", schemaPath, "--db", dbPath, "/nonexistent/batch.json"},
			wantErr: "failed to read batch",
		},
		{
			name:    "malformed fields",
			args:    []string{"--schema", schemaPath, "--db", dbPath, "--fields", "fields[x=a", "-"},
			wantErr: "invalid --fields",
		},
		{
			name:    "bad return policy",
			args:    []string{"--schema", schemaPath, "--db", dbPath, "--return", "sometimes", "-"},
			wantErr: "failed to load config",
		},
		{
			name:    "missing schema",
			args:    []string{"--schema", "/nonexistent/schema.cue", "--db", dbPath, "-"},
			wantErr: "failed to start service",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runExecCommand(t, "text", `{"atomic:operations":[]}`, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExecRequiresOneArg(t *testing.T) {
	_, err := runExecCommand(t, "text", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
