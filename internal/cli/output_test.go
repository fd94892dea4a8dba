package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(ExecResult{Status: 204})
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"status": float64(204)}, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("E217", "lid not declared", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E217", resp.Error.Code)
	assert.Equal(t, "lid not declared", resp.Error.Message)
	assert.Nil(t, resp.Error.Details)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := []ValidationIssue{{File: "batch.json", Code: "E217", Pointer: "/atomic:operations/0/ref", Message: "lid not declared"}}
	err := formatter.Error("E217", "validation failed", details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	require.IsType(t, []any{}, resp.Error.Details)
	issue := resp.Error.Details.([]any)[0].(map[string]any)
	assert.Equal(t, "/atomic:operations/0/ref", issue["pointer"])
}

func TestOutputFormatter_JSONKeepsMarkupUnescaped(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	require.NoError(t, formatter.Error("E216", `data must be <object> & "type" is required`, nil))
	assert.Contains(t, buf.String(), `<object> & \"type\"`)
	assert.NotContains(t, buf.String(), `\u003c`)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("Batch committed")
	require.NoError(t, err)
	assert.Equal(t, "Batch committed\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("E_CONFIG", "invalid config", map[string]string{"field": "return_policy"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E_CONFIG]")
	assert.Contains(t, buf.String(), "invalid config")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	err := formatter.Error("E_CONFIG", "invalid config", map[string]string{"field": "return_policy"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E_CONFIG]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			errOut := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: errOut,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("Read %d bytes from %s", 42, "batch.json")

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Equal(t, "Read 42 bytes from batch.json\n", errOut.String())
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestOutputFormatter_GetErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	formatter := &OutputFormatter{Writer: out}
	assert.Same(t, out, formatter.GetErrWriter())

	errOut := &bytes.Buffer{}
	formatter.ErrWriter = errOut
	assert.Same(t, errOut, formatter.GetErrWriter())
}

func TestExitErrors(t *testing.T) {
	cause := errors.New("no such file")

	wrapped := WrapExitError(ExitCommandError, "failed to read batch", cause)
	assert.Equal(t, "failed to read batch: no such file", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))

	plain := NewExitError(ExitFailure, "batch rejected with status 404")
	assert.Equal(t, "batch rejected with status 404", plain.Error())
	assert.Equal(t, ExitFailure, GetExitCode(plain))

	assert.Equal(t, ExitFailure, GetExitCode(cause))
}

func TestOutputFormatter_PrintJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.PrintJSON(map[string]any{"pointer": "/atomic:operations/0", "op": "<add>"}))
	assert.Equal(t, "{\n  \"op\": \"<add>\",\n  \"pointer\": \"/atomic:operations/0\"\n}\n", buf.String())
}
