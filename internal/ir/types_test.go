package ir

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefHasIdentifier(t *testing.T) {
	tests := []struct {
		name string
		ref  Ref
		want bool
	}{
		{"type only", Ref{Type: "articles"}, false},
		{"id", Ref{Type: "articles", ID: "1"}, true},
		{"lid", Ref{Type: "articles", LID: "a"}, true},
		{"relationship without identity", Ref{Type: "articles", Relationship: "author"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ref.HasIdentifier())
		})
	}
}

func TestRefString(t *testing.T) {
	assert.Equal(t, "articles/1", Ref{Type: "articles", ID: "1"}.String())
	assert.Equal(t, "articles/lid:a/relationships/tags", Ref{Type: "articles", LID: "a", Relationship: "tags"}.String())
}

func TestOperationRequiresData(t *testing.T) {
	assert.True(t, Operation{Op: OpAdd}.RequiresData())
	assert.True(t, Operation{Op: OpUpdate}.RequiresData())
	assert.False(t, Operation{Op: OpRemove}.RequiresData())
}

func TestOperationDataPresence(t *testing.T) {
	op := Operation{Op: OpUpdate, Data: json.RawMessage(" null ")}
	assert.True(t, op.HasData())

	op = Operation{Op: OpRemove}
	assert.False(t, op.HasData())
}

func TestPointerChild(t *testing.T) {
	p := OperationPointer(3)
	assert.Equal(t, Pointer("/atomic:operations/3"), p)
	assert.Equal(t, Pointer("/atomic:operations/3/ref/relationship"), p.Child("ref", "relationship"))
	assert.Equal(t, Pointer("/atomic:operations/3/data/relationships/a~1b~0c"), p.Child("data", "relationships", "a/b~c"))
}

func TestLinkageUnmarshal(t *testing.T) {
	var rel Relationship
	require.NoError(t, json.Unmarshal([]byte(`{"data":null}`), &rel))
	assert.True(t, rel.Data.Present)
	assert.False(t, rel.Data.Many)
	assert.Nil(t, rel.Data.One)

	require.NoError(t, json.Unmarshal([]byte(`{"data":{"type":"people","lid":"p"}}`), &rel))
	require.NotNil(t, rel.Data.One)
	assert.Equal(t, "p", rel.Data.One.LID)

	require.NoError(t, json.Unmarshal([]byte(`{"data":[{"type":"tags","id":"1"},{"type":"tags","id":"2"}]}`), &rel))
	assert.True(t, rel.Data.Many)
	assert.Len(t, rel.Data.Identifiers(), 2)

	rel = Relationship{}
	require.NoError(t, json.Unmarshal([]byte(`{"links":{"self":"/x"}}`), &rel))
	assert.False(t, rel.Data.Present)

	var l Linkage
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &l))
}

func TestLinkageMarshal(t *testing.T) {
	out, err := json.Marshal(Relationship{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))

	out, err = json.Marshal(Relationship{Data: ToOne(nil)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":null}`, string(out))

	out, err = json.Marshal(Relationship{Data: ToMany()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[]}`, string(out))

	out, err = json.Marshal(Relationship{Data: ToOne(&ResourceIdentifier{Type: "people", ID: "9"})})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"type":"people","id":"9"}}`, string(out))
}

func TestResultMarshalsEmptyObject(t *testing.T) {
	out, err := json.Marshal(ResultDocument{Results: []Result{{}, {Data: &ResourceObject{Type: "articles", ID: "1"}}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"atomic:results":[{},{"data":{"type":"articles","id":"1"}}]}`, string(out))
}

func TestParseReturnPolicy(t *testing.T) {
	p, err := ParseReturnPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ReturnAuto, p)

	p, err = ParseReturnPolicy(" ALWAYS ")
	require.NoError(t, err)
	assert.Equal(t, ReturnAlways, p)

	_, err = ParseReturnPolicy("sometimes")
	assert.Error(t, err)
}

func TestMarshalCanonical(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"b":    json.Number("10"),
		"a":    []any{true, nil, "x<y"},
		"é": "é",
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":[true,null,\"x<y\"],\"b\":10,\"é\":\"é\"}", string(out))
}

func TestMarshalCanonicalStruct(t *testing.T) {
	out, err := MarshalCanonical(ResultDocument{Results: []Result{{}}})
	require.NoError(t, err)
	assert.Equal(t, `{"atomic:results":[{}]}`, string(out))
}

func TestFieldsets(t *testing.T) {
	fs, err := ParseFieldsets(url.Values{
		"fields[articles]": {"title, author"},
		"fields[people]":   {""},
		"include":          {"author"},
	})
	require.NoError(t, err)
	assert.Equal(t, Fieldsets{"articles": {"title", "author"}, "people": {}}, fs)

	assert.True(t, fs.Allows("articles", "title"))
	assert.False(t, fs.Allows("articles", "body"))
	assert.False(t, fs.Allows("people", "name"))
	assert.True(t, fs.Allows("tags", "label"))

	var none Fieldsets
	assert.True(t, none.Allows("articles", "body"))

	_, err = ParseFieldsets(url.Values{"fields[]": {"a"}})
	assert.Error(t, err)
	_, err = ParseFieldsets(url.Values{"fields[x": {"a"}})
	assert.Error(t, err)
}
