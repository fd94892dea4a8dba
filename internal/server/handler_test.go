package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsonapi-atomic/internal/document"
	"github.com/roach88/jsonapi-atomic/internal/engine"
	"github.com/roach88/jsonapi-atomic/internal/ir"
	"github.com/roach88/jsonapi-atomic/internal/mediatype"
	"github.com/roach88/jsonapi-atomic/internal/metrics"
	"github.com/roach88/jsonapi-atomic/internal/schema"
	"github.com/roach88/jsonapi-atomic/internal/store"
)

const blogSchema = `
resource: people: attributes: name: "string"

resource: tags: attributes: label: "string"

resource: articles: {
	attributes: title: "string"
	relationships: {
		author: type: "people"
		tags: {type: "tags", many: true}
	}
}
`

type testEnv struct {
	handler *Handler
	repo    *store.Repository
	store   *store.Store
	metrics *metrics.Metrics
}

// newTestEnv wires a handler over a temporary sqlite store.
func newTestEnv(t *testing.T, procOpts []engine.ProcessorOption, opts ...Option) *testEnv {
	t.Helper()

	sch, err := schema.CompileString(blogSchema, "blog.cue")
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo := store.NewRepository(s, sch, store.NewSequenceGenerator("id"))
	reg := engine.NewRegistry()
	for _, typ := range sch.Types() {
		reg.Register(typ, engine.HandlerFor(repo))
	}

	m := metrics.New(false)
	proc := engine.NewProcessor(
		engine.NewDispatcher(s, reg, engine.WithObserver(m)),
		document.NewSerializer(sch, document.Options{}),
		procOpts...,
	)
	guard, err := mediatype.NewGuard(mediatype.Options{
		RequireExtension: true,
		Default:          mediatype.DefaultPolicy(),
	})
	require.NoError(t, err)

	opts = append([]Option{WithMetrics(m)}, opts...)
	return &testEnv{
		handler: NewHandler(proc, guard, opts...),
		repo:    repo,
		store:   s,
		metrics: m,
	}
}

func (e *testEnv) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", ir.AtomicMediaType)
	req.Header.Set("Accept", ir.AtomicMediaType)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeErrors(t *testing.T, rec *httptest.ResponseRecorder) ir.ErrorDocument {
	t.Helper()
	var doc ir.ErrorDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.NotEmpty(t, doc.Errors)
	return doc
}

func TestOperationsAddThenUpdateByLID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.post(t, "/operations", `{"atomic:operations":[
		{"op":"add","ref":{"type":"articles","lid":"a1"},"data":{"type":"articles","attributes":{"title":"Hello"}}},
		{"op":"update","ref":{"type":"articles","lid":"a1"},"data":{"type":"articles","attributes":{"title":"Hello!"}}}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, ir.AtomicMediaType, rec.Header().Get("Content-Type"))

	var doc ir.ResultDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Results, 2)
	assert.Equal(t, "id-1", doc.Results[0].Data.ID)
	assert.Equal(t, "id-1", doc.Results[1].Data.ID)
	assert.Equal(t, "Hello!", doc.Results[1].Data.Attributes["title"])
}

func TestOperationsNoContent(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.repo.Create(context.Background(), ir.Resource{Type: "tags", ID: "t1"})
	require.NoError(t, err)

	rec := env.post(t, "/operations", `{"atomic:operations":[{"op":"remove","ref":{"type":"tags","id":"t1"}}]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, ir.AtomicMediaType, rec.Header().Get("Content-Type"))
}

func TestOperationsReturnAlways(t *testing.T) {
	env := newTestEnv(t, []engine.ProcessorOption{engine.WithReturnPolicy(ir.ReturnAlways)})
	_, err := env.repo.Create(context.Background(), ir.Resource{Type: "tags", ID: "t1"})
	require.NoError(t, err)

	rec := env.post(t, "/operations", `{"atomic:operations":[{"op":"remove","ref":{"type":"tags","id":"t1"}}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"atomic:results":[{}]}`, rec.Body.String())
}

func TestOperationsErrorStatuses(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		code    string
		pointer string
	}{
		{
			name:   "not json",
			body:   `{`,
			status: http.StatusBadRequest,
			code:   "E200",
		},
		{
			name:    "invalid op",
			body:    `{"atomic:operations":[{"op":"merge","data":{"type":"tags"}}]}`,
			status:  http.StatusBadRequest,
			code:    "E202",
			pointer: "/atomic:operations/0/op",
		},
		{
			name:    "undeclared lid",
			body:    `{"atomic:operations":[{"op":"remove","ref":{"type":"tags","lid":"t"}}]}`,
			status:  http.StatusUnprocessableEntity,
			code:    "E217",
			pointer: "/atomic:operations/0/ref",
		},
		{
			name:    "missing resource",
			body:    `{"atomic:operations":[{"op":"remove","ref":{"type":"tags","id":"ghost"}}]}`,
			status:  http.StatusNotFound,
			code:    string(engine.ErrCodeExecutionFailed),
			pointer: "/atomic:operations/0",
		},
		{
			name: "conflict",
			body: `{"atomic:operations":[
				{"op":"add","data":{"type":"tags","id":"t1"}},
				{"op":"add","data":{"type":"tags","id":"t1"}}
			]}`,
			status:  http.StatusConflict,
			code:    string(engine.ErrCodeExecutionFailed),
			pointer: "/atomic:operations/1",
		},
		{
			name: "add to to-one",
			body: `{"atomic:operations":[
				{"op":"add","data":{"type":"people","lid":"p"}},
				{"op":"add","data":{"type":"articles","lid":"a"}},
				{"op":"add","ref":{"type":"articles","lid":"a","relationship":"author"},"data":[{"type":"people","lid":"p"}]}
			]}`,
			status:  http.StatusForbidden,
			code:    string(engine.ErrCodeExecutionFailed),
			pointer: "/atomic:operations/2",
		},
		{
			name:    "unknown attribute",
			body:    `{"atomic:operations":[{"op":"add","data":{"type":"tags","attributes":{"colour":"red"}}}]}`,
			status:  http.StatusUnprocessableEntity,
			code:    string(engine.ErrCodeExecutionFailed),
			pointer: "/atomic:operations/0",
		},
		{
			name:    "unregistered type",
			body:    `{"atomic:operations":[{"op":"add","data":{"type":"comments"}}]}`,
			status:  http.StatusNotImplemented,
			code:    string(engine.ErrCodeExecutionFailed),
			pointer: "/atomic:operations/0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.post(t, "/operations", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, ir.AtomicMediaType, rec.Header().Get("Content-Type"))

			doc := decodeErrors(t, rec)
			assert.Equal(t, tt.code, doc.Errors[0].Code)
			assert.Equal(t, http.StatusText(tt.status), doc.Errors[0].Title)
			if tt.pointer != "" {
				require.NotNil(t, doc.Errors[0].Source)
				assert.Equal(t, tt.pointer, doc.Errors[0].Source.Pointer)
			}
		})
	}
}

func TestOperationsRollBackOnFailure(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.post(t, "/operations", `{"atomic:operations":[
		{"op":"add","data":{"type":"people","lid":"p","attributes":{"name":"Ann"}}},
		{"op":"add","data":{"type":"articles","relationships":{"author":{"data":{"type":"people","lid":"p"}}}}},
		{"op":"remove","ref":{"type":"tags","id":"ghost"}}
	]}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	for _, typ := range []string{"people", "articles"} {
		n, err := env.repo.Count(context.Background(), typ)
		require.NoError(t, err)
		assert.Zero(t, n, typ)
	}
}

func TestOperationsValidationErrorsAreCollected(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.post(t, "/operations", `{"atomic:operations":[
		{"op":"remove","ref":{"type":"tags","lid":"x"}},
		{"op":"remove","ref":{"type":"tags"}}
	]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, "mixed statuses collapse to 400")

	doc := decodeErrors(t, rec)
	require.Len(t, doc.Errors, 2)
	assert.Equal(t, "422", doc.Errors[0].Status)
	assert.Equal(t, "400", doc.Errors[1].Status)
}

func TestOperationsMediaTypeGuard(t *testing.T) {
	env := newTestEnv(t, nil)
	body := `{"atomic:operations":[{"op":"add","data":{"type":"tags"}}]}`

	tests := []struct {
		name        string
		contentType string
		accept      string
		status      int
		header      string
	}{
		{"plain json", "application/json", "", http.StatusUnsupportedMediaType, "Content-Type"},
		{"missing ext", ir.MediaType, "", http.StatusUnsupportedMediaType, "Content-Type"},
		{"bad accept", ir.AtomicMediaType, "text/html", http.StatusNotAcceptable, "Accept"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/operations", strings.NewReader(body))
			req.Header.Set("Content-Type", tt.contentType)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			doc := decodeErrors(t, rec)
			require.NotNil(t, doc.Errors[0].Source)
			assert.Equal(t, tt.header, doc.Errors[0].Source.Header)

			n, err := env.repo.Count(context.Background(), "tags")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestOperationsBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, nil, WithMaxBodyBytes(32))

	rec := env.post(t, "/operations", `{"atomic:operations":[{"op":"add","data":{"type":"tags"}}]}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, codeBodyTooLarge, decodeErrors(t, rec).Errors[0].Code)
}

func TestOperationsUnreadableBody(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/operations", iotest.ErrReader(errors.New("connection reset")))
	req.Header.Set("Content-Type", ir.AtomicMediaType)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeErrors(t, rec).Errors[0]
	assert.Equal(t, codeBadBody, e.Code)
	assert.Contains(t, e.Detail, "connection reset")
}

func TestOperationsNegotiationDetailCarriesHeaderValue(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/operations", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Contains(t, decodeErrors(t, rec).Errors[0].Detail, `(got "application/json")`)

	// A missing header has no value to report.
	req = httptest.NewRequest(http.MethodPost, "/operations", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "Content-Type header is required", decodeErrors(t, rec).Errors[0].Detail)
}

func TestOperationsAttributeHeaderSelectsChannel(t *testing.T) {
	env := newTestEnv(t, nil)
	guard, err := mediatype.NewGuard(mediatype.Options{
		RequireExtension: true,
		Default:          mediatype.DefaultPolicy(),
		Channels: []mediatype.Channel{{
			Name:   "partner",
			Scope:  mediatype.Scope{Attribute: "partner-.*"},
			Policy: mediatype.Policy{Request: []string{ir.MediaType}, Response: []string{"application/json"}},
		}},
	})
	require.NoError(t, err)
	h := NewHandler(env.handler.processor, guard, WithAttributeHeader("X-Client"))

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/operations",
			strings.NewReader(`{"atomic:operations":[{"op":"add","data":{"type":"tags"}}]}`))
		req.Header.Set("Content-Type", ir.AtomicMediaType)
		req.Header.Set("Accept", `application/json; ext="`+ir.AtomicExtension+`"`)
		if client != "" {
			req.Header.Set("X-Client", client)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("partner-acme"))
	assert.Equal(t, http.StatusNotAcceptable, send("internal"))
	assert.Equal(t, http.StatusNotAcceptable, send(""))
}

func TestOperationsFieldsetParameter(t *testing.T) {
	body := `{"atomic:operations":[{"op":"add","data":{"type":"people","attributes":{"name":"Ann"}}}]}`

	env := newTestEnv(t, []engine.ProcessorOption{engine.WithApplyRequestFields(true)})
	rec := env.post(t, "/operations?fields[people]=id", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc ir.ResultDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Empty(t, doc.Results[0].Data.Attributes)

	rec = env.post(t, "/operations?fields[people=name", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errDoc := decodeErrors(t, rec)
	require.NotNil(t, errDoc.Errors[0].Source)
	assert.Equal(t, "fields", errDoc.Errors[0].Source.Parameter)
}

func TestOperationsBasePath(t *testing.T) {
	env := newTestEnv(t, []engine.ProcessorOption{engine.WithBasePath("/api")}, WithBasePath("/api/"))
	_, err := env.repo.Create(context.Background(), ir.Resource{Type: "tags", ID: "t1"})
	require.NoError(t, err)

	rec := env.post(t, "/api/operations", `{"atomic:operations":[{"op":"remove","href":"/api/tags/t1"}]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.post(t, "/operations", `{"atomic:operations":[{"op":"remove","href":"/api/tags/t1"}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOperationsMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/operations", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil, WithHealthCheck(func(ctx context.Context) error {
		return nil
	}))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	failing := newTestEnv(t, nil, WithHealthCheck(func(ctx context.Context) error {
		return errors.New("store closed")
	}))
	rec = httptest.NewRecorder()
	failing.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.post(t, "/operations", `{"atomic:operations":[{"op":"add","data":{"type":"tags"}}]}`)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `jsonapi_atomic_http_requests_total{status="200"} 1`)
	assert.Contains(t, body, `jsonapi_atomic_batch_operations_total{op="add",outcome="ok",type="tags"} 1`)
}

func TestConcurrentRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte(`{"atomic:operations":[
		{"op":"add","data":{"type":"people","lid":"p"}},
		{"op":"add","data":{"type":"articles","relationships":{"author":{"data":{"type":"people","lid":"p"}}}}}
	]}`)

	const n = 6
	codes := make(chan int, n)
	for range n {
		go func() {
			req := httptest.NewRequest(http.MethodPost, "/operations", bytes.NewReader(body))
			req.Header.Set("Content-Type", ir.AtomicMediaType)
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			codes <- rec.Code
		}()
	}
	for range n {
		assert.Equal(t, http.StatusOK, <-codes)
	}

	count, err := env.repo.Count(context.Background(), "articles")
	require.NoError(t, err)
	assert.Equal(t, n, count)
}
