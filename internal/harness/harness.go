package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/roach88/jsonapi-atomic/internal/app"
	"github.com/roach88/jsonapi-atomic/internal/config"
	"github.com/roach88/jsonapi-atomic/internal/ir"
	"github.com/roach88/jsonapi-atomic/internal/store"
)

// Harness executes one scenario against a wired service.
type Harness struct {
	app      *app.App
	basePath string
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with sequential ids.
//
// Execution flow:
// 1. Compose the service from the scenario settings
// 2. Seed setup resources
// 3. Post each request and check its expect clause
// 4. Evaluate assertions against the store
//
// An error is returned only when the scenario could not run; failed
// expectations are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	cfg := scenario.config()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario settings: %w", err)
	}

	a, err := app.New(cfg, app.WithIDGenerator(store.NewSequenceGenerator(scenario.IDPrefix)))
	if err != nil {
		return nil, fmt.Errorf("failed to compose service: %w", err)
	}
	defer a.Close()

	h := &Harness{app: a, basePath: cfg.Server.BasePath}
	ctx := context.Background()

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Requests {
		resp, err := h.execute(step)
		if err != nil {
			return nil, fmt.Errorf("requests[%d] %q: %w", i, step.Name, err)
		}
		result.AddResponse(resp)
		for _, msg := range checkExpect(step, resp) {
			result.AddError(fmt.Sprintf("requests[%d] %q: %s", i, step.Name, msg))
		}
	}

	actx := &AssertionContext{
		Repository: a.Repository,
		Ctx:        ctx,
	}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// config derives the service configuration for a scenario.
func (s *Scenario) config() *config.Config {
	cfg := config.Default()
	cfg.Schema = s.Schema
	cfg.Store.Path = ":memory:"
	cfg.Server.BasePath = s.BasePath
	cfg.Server.BaseURL = s.BaseURL
	cfg.Operations.ReturnPolicy = s.ReturnPolicy
	if s.MaxOperations > 0 {
		cfg.Operations.Max = s.MaxOperations
	}
	cfg.Results.ApplyRequestFields = s.ApplyRequestFields
	cfg.Metrics.Enabled = false
	return cfg
}

// executeSetup stores the seed resources in one transaction.
func (h *Harness) executeSetup(ctx context.Context, setup []ResourceStep) error {
	if len(setup) == 0 {
		return nil
	}
	return h.app.Store.RunInTransaction(ctx, func(ctx context.Context) error {
		for i, step := range setup {
			res, err := h.resource(step)
			if err != nil {
				return fmt.Errorf("setup[%d]: %w", i, err)
			}
			if _, err := h.app.Repository.Create(ctx, res); err != nil {
				return fmt.Errorf("setup[%d]: %w", i, err)
			}
		}
		return nil
	})
}

// resource converts a setup step into a resource handle, shaping each
// relationship as to-one or to-many per the schema.
func (h *Harness) resource(step ResourceStep) (ir.Resource, error) {
	res := ir.Resource{
		Type:       step.Type,
		ID:         step.ID,
		Attributes: step.Attributes,
	}
	def, ok := h.app.Schema.Resource(step.Type)
	if !ok {
		return ir.Resource{}, fmt.Errorf("unknown resource type %q", step.Type)
	}
	for name, targets := range step.Relationships {
		rel, ok := def.Relationship(name)
		if !ok {
			return ir.Resource{}, fmt.Errorf("%s has no relationship %q", step.Type, name)
		}
		ids := make([]ir.ResourceIdentifier, 0, len(targets))
		for _, target := range targets {
			typ, id, err := parseTarget(target)
			if err != nil {
				return ir.Resource{}, err
			}
			ids = append(ids, ir.ResourceIdentifier{Type: typ, ID: id})
		}

		var linkage ir.Linkage
		switch {
		case rel.Many:
			linkage = ir.ToMany(ids...)
		case len(ids) > 1:
			return ir.Resource{}, fmt.Errorf("to-one relationship %q takes at most one target", name)
		case len(ids) == 1:
			linkage = ir.ToOne(&ids[0])
		default:
			linkage = ir.ToOne(nil)
		}
		if res.Relationships == nil {
			res.Relationships = make(map[string]ir.Linkage)
		}
		res.Relationships[name] = linkage
	}
	return res, nil
}

// execute posts one request through the service handler.
func (h *Harness) execute(step RequestStep) (Response, error) {
	target := h.basePath + "/operations"
	if step.Query != "" {
		target += "?" + step.Query
	}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(step.Body))
	req.Header.Set("Content-Type", ir.AtomicMediaType)
	req.Header.Set("Accept", ir.AtomicMediaType)
	for k, v := range step.Headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.app.Handler.ServeHTTP(rec, req)

	resp := Response{
		Name:        step.Name,
		Status:      rec.Code,
		ContentType: rec.Header().Get("Content-Type"),
	}
	if body := bytes.TrimSpace(rec.Body.Bytes()); len(body) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&resp.Body); err != nil {
			return Response{}, fmt.Errorf("decode response body: %w", err)
		}
	}
	return resp, nil
}

// checkExpect compares a response against the step's expect clause.
func checkExpect(step RequestStep, resp Response) []string {
	expect := step.Expect
	if expect == nil {
		return nil
	}

	var msgs []string
	if resp.Status != expect.Status {
		msgs = append(msgs, fmt.Sprintf("expected status %d, got %d", expect.Status, resp.Status))
	}

	doc, _ := resp.Body.(map[string]any)

	if expect.Results != nil {
		results, _ := doc["atomic:results"].([]any)
		if len(results) != *expect.Results {
			msgs = append(msgs, fmt.Sprintf("expected %d results, got %d", *expect.Results, len(results)))
		}
	}

	if len(expect.Errors) > 0 {
		errs, _ := doc["errors"].([]any)
		if len(errs) != len(expect.Errors) {
			msgs = append(msgs, fmt.Sprintf("expected %d errors, got %d", len(expect.Errors), len(errs)))
			return msgs
		}
		for i, want := range expect.Errors {
			got, _ := errs[i].(map[string]any)
			if !matchArgs(errorMembers(got), want.members()) {
				msgs = append(msgs, fmt.Sprintf("errors[%d]: expected %v, got %v", i, want.members(), errorMembers(got)))
			}
		}
	}
	return msgs
}

// members returns the non-empty members of an expected error.
func (e ExpectedError) members() map[string]any {
	m := make(map[string]any)
	if e.Status != "" {
		m["status"] = e.Status
	}
	if e.Code != "" {
		m["code"] = e.Code
	}
	if e.Pointer != "" {
		m["pointer"] = e.Pointer
	}
	if e.Header != "" {
		m["header"] = e.Header
	}
	return m
}

// errorMembers flattens an error object to the members ExpectedError names.
func errorMembers(obj map[string]any) map[string]any {
	m := make(map[string]any)
	for _, key := range []string{"status", "code"} {
		if v, ok := obj[key]; ok {
			m[key] = v
		}
	}
	if source, ok := obj["source"].(map[string]any); ok {
		for _, key := range []string{"pointer", "header"} {
			if v, ok := source[key]; ok {
				m[key] = v
			}
		}
	}
	return m
}
