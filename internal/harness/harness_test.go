package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newScenario builds a scenario over the test schema.
func newScenario(t *testing.T, requests ...RequestStep) *Scenario {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blog.cue")
	require.NoError(t, os.WriteFile(path, []byte(testSchema), 0644))
	return &Scenario{
		Name:        t.Name(),
		Description: "test",
		Schema:      path,
		Requests:    requests,
	}
}

func intPtr(n int) *int { return &n }

func TestRun_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
			assert.Len(t, result.Responses, len(scenario.Requests))
		})
	}
}

func TestRun_RecordsResponses(t *testing.T) {
	scenario := newScenario(t, RequestStep{
		Name: "add",
		Body: `{"atomic:operations":[{"op":"add","data":{"type":"tags","attributes":{"label":"go"}}}]}`,
	})
	scenario.IDPrefix = "tag"

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass)
	require.Len(t, result.Responses, 1)

	resp := result.Responses[0]
	assert.Equal(t, "add", resp.Name)
	assert.Equal(t, 200, resp.Status)
	assert.Contains(t, resp.ContentType, "ext=")

	doc, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	results := doc["atomic:results"].([]any)
	data := results[0].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "tag-1", data["id"])
}

func TestRun_ExpectMismatchFailsResult(t *testing.T) {
	scenario := newScenario(t, RequestStep{
		Name: "add",
		Body: `{"atomic:operations":[{"op":"add","data":{"type":"tags"}}]}`,
		Expect: &ExpectClause{
			Status:  204,
			Results: intPtr(3),
		},
	})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected status 204, got 200")
	assert.Contains(t, result.Errors[1], "expected 3 results, got 1")
}

func TestRun_ExpectErrors(t *testing.T) {
	body := `{"atomic:operations":[{"op":"remove","ref":{"type":"tags","id":"nope"}}]}`

	scenario := newScenario(t, RequestStep{
		Name: "remove missing",
		Body: body,
		Expect: &ExpectClause{
			Status: 404,
			Errors: []ExpectedError{{Status: "404", Pointer: "/atomic:operations/0"}},
		},
	})
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	scenario = newScenario(t, RequestStep{
		Name: "remove missing",
		Body: body,
		Expect: &ExpectClause{
			Status: 404,
			Errors: []ExpectedError{{Code: "E217"}},
		},
	})
	result, err = Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "errors[0]")
}

func TestRun_HeadersOverrideDefaults(t *testing.T) {
	scenario := newScenario(t, RequestStep{
		Name:    "no accept",
		Headers: map[string]string{"Accept": ""},
		Body:    `{"atomic:operations":[{"op":"add","data":{"type":"tags"}}]}`,
		Expect:  &ExpectClause{Status: 200},
	}, RequestStep{
		Name:    "plain json",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    `{"atomic:operations":[{"op":"add","data":{"type":"tags"}}]}`,
		Expect: &ExpectClause{
			Status: 415,
			Errors: []ExpectedError{{Status: "415", Header: "Content-Type"}},
		},
	})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_BasePathAndLinks(t *testing.T) {
	scenario := newScenario(t, RequestStep{
		Name: "add",
		Body: `{"atomic:operations":[{"op":"add","data":{"type":"tags","id":"t1"}}]}`,
	})
	scenario.BasePath = "/api"
	scenario.BaseURL = "https://example.com/api"

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Responses, 1)
	require.Equal(t, 200, result.Responses[0].Status)

	doc := result.Responses[0].Body.(map[string]any)
	data := doc["atomic:results"].([]any)[0].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, map[string]any{"self": "https://example.com/api/tags/t1"}, data["links"])
}

func TestRun_SetupWithRelationships(t *testing.T) {
	scenario := newScenario(t, RequestStep{
		Name: "noop",
		Body: `{"atomic:operations":[{"op":"remove","ref":{"type":"tags","id":"t2"}}]}`,
	})
	scenario.Setup = []ResourceStep{
		{Type: "people", ID: "p1"},
		{Type: "tags", ID: "t1"},
		{Type: "tags", ID: "t2"},
		{Type: "articles", ID: "a1", Relationships: map[string][]string{
			"author": {"people/p1"},
			"tags":   {"tags/t1", "tags/t2"},
		}},
	}
	scenario.Assertions = []Assertion{
		{Type: AssertLinkage, ResourceType: "articles", ID: "a1", Relationship: "author", Targets: []string{"people/p1"}},
		{Type: AssertLinkage, ResourceType: "articles", ID: "a1", Relationship: "tags", Targets: []string{"tags/t1"}},
		{Type: AssertResourceAbsent, ResourceType: "tags", ID: "t2"},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   []ResourceStep
		wantErr string
	}{
		{
			name:    "unknown type",
			setup:   []ResourceStep{{Type: "comments", ID: "c1"}},
			wantErr: `unknown resource type "comments"`,
		},
		{
			name:    "unknown relationship",
			setup:   []ResourceStep{{Type: "articles", ID: "a1", Relationships: map[string][]string{"editor": {"people/p1"}}}},
			wantErr: `articles has no relationship "editor"`,
		},
		{
			name: "two targets for to-one",
			setup: []ResourceStep{
				{Type: "people", ID: "p1"},
				{Type: "people", ID: "p2"},
				{Type: "articles", ID: "a1", Relationships: map[string][]string{"author": {"people/p1", "people/p2"}}},
			},
			wantErr: "takes at most one target",
		},
		{
			name:    "duplicate id",
			setup:   []ResourceStep{{Type: "people", ID: "p1"}, {Type: "people", ID: "p1"}},
			wantErr: "setup[1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := newScenario(t, RequestStep{Name: "noop", Body: "{}"})
			scenario.Setup = tt.setup

			_, err := Run(scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "failed to execute setup")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_InvalidSettings(t *testing.T) {
	scenario := newScenario(t, RequestStep{Name: "noop", Body: "{}"})
	scenario.BasePath = "api"

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scenario settings")
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	scenario := newScenario(t, RequestStep{
		Name: "add",
		Body: `{"atomic:operations":[{"op":"add","data":{"type":"tags","attributes":{"label":"go"}}}]}`,
	})
	scenario.Assertions = []Assertion{
		{Type: AssertResourceCount, ResourceType: "tags", Count: 2},
		{Type: AssertResourceExists, ResourceType: "tags", ID: "id-1", Attributes: map[string]any{"label": "rust"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "resource_count")
	assert.Contains(t, result.Errors[1], "resource_exists")
}
