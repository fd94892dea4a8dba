package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// Scenario defines a conformance test scenario: seed data, a sequence of
// atomic requests and assertions on the final store state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the CUE resource schema. Relative paths are resolved
	// against the scenario file by LoadScenario.
	Schema string `yaml:"schema"`

	// ReturnPolicy is none, auto or always. Empty means auto.
	ReturnPolicy string `yaml:"return_policy,omitempty"`

	// BasePath prefixes the operations route.
	BasePath string `yaml:"base_path,omitempty"`

	// BaseURL makes results carry links.
	BaseURL string `yaml:"base_url,omitempty"`

	// MaxOperations bounds batch size. Zero keeps the service default.
	MaxOperations int `yaml:"max_operations,omitempty"`

	// ApplyRequestFields applies the request's fields[TYPE] to results.
	ApplyRequestFields bool `yaml:"apply_request_fields,omitempty"`

	// IDPrefix prefixes generated ids. Empty means "id".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	// Setup seeds resources directly in the store before any request.
	Setup []ResourceStep `yaml:"setup,omitempty"`

	// Requests are posted to the operations route in order.
	Requests []RequestStep `yaml:"requests"`

	// Assertions validate the final store state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ResourceStep seeds one resource.
type ResourceStep struct {
	Type       string         `yaml:"type"`
	ID         string         `yaml:"id"`
	Attributes map[string]any `yaml:"attributes,omitempty"`

	// Relationships map a relationship name to "type/id" targets. A to-one
	// relationship takes at most one target.
	Relationships map[string][]string `yaml:"relationships,omitempty"`
}

// RequestStep is one HTTP request against the operations route.
type RequestStep struct {
	Name string `yaml:"name"`

	// Headers override the default Content-Type and Accept headers.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Query is the raw query string, without the leading "?".
	Query string `yaml:"query,omitempty"`

	Body string `yaml:"body"`

	// Expect specifies the expected response. If nil, no validation is
	// performed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected response behavior.
type ExpectClause struct {
	// Status is the expected HTTP status code.
	Status int `yaml:"status"`

	// Results is the expected length of atomic:results. Nil skips the check.
	Results *int `yaml:"results,omitempty"`

	// Errors lists the expected error objects in order. Only the members
	// given are compared.
	Errors []ExpectedError `yaml:"errors,omitempty"`
}

// ExpectedError is a subset of a JSON:API error object.
type ExpectedError struct {
	Status  string `yaml:"status,omitempty"`
	Code    string `yaml:"code,omitempty"`
	Pointer string `yaml:"pointer,omitempty"`
	Header  string `yaml:"header,omitempty"`
}

// Assertion validates the final store state.
type Assertion struct {
	// Type is one of resource_exists, resource_absent, resource_count or
	// linkage.
	Type string `yaml:"type"`

	ResourceType string `yaml:"resource_type"`
	ID           string `yaml:"id,omitempty"`

	// Attributes are compared as a subset (resource_exists).
	Attributes map[string]any `yaml:"attributes,omitempty"`

	// Count is the expected number of resources (resource_count).
	Count int `yaml:"count,omitempty"`

	// Relationship and Targets describe the expected linkage. Targets are
	// "type/id" strings; an empty list means null or [].
	Relationship string   `yaml:"relationship,omitempty"`
	Targets      []string `yaml:"targets,omitempty"`
}

// Assertion type constants.
const (
	AssertResourceExists = "resource_exists"
	AssertResourceAbsent = "resource_absent"
	AssertResourceCount  = "resource_count"
	AssertLinkage        = "linkage"
)

// LoadScenario reads and parses a scenario YAML file. The schema path is
// resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := os.Stat(s.Schema); os.IsNotExist(err) {
		return fmt.Errorf("schema file not found: %s", s.Schema)
	}

	if _, err := ir.ParseReturnPolicy(s.ReturnPolicy); err != nil {
		return err
	}

	if s.MaxOperations < 0 {
		return fmt.Errorf("max_operations must be non-negative")
	}

	for i, step := range s.Setup {
		if step.Type == "" {
			return fmt.Errorf("setup[%d]: type is required", i)
		}
		if step.ID == "" {
			return fmt.Errorf("setup[%d]: id is required", i)
		}
		for name, targets := range step.Relationships {
			for _, target := range targets {
				if _, _, err := parseTarget(target); err != nil {
					return fmt.Errorf("setup[%d].relationships.%s: %w", i, name, err)
				}
			}
		}
	}

	if len(s.Requests) == 0 {
		return fmt.Errorf("requests list is required and must be non-empty")
	}
	for i, step := range s.Requests {
		if step.Name == "" {
			return fmt.Errorf("requests[%d]: name is required", i)
		}
		if strings.TrimSpace(step.Body) == "" {
			return fmt.Errorf("requests[%d]: body is required", i)
		}
		if step.Expect != nil && step.Expect.Status == 0 {
			return fmt.Errorf("requests[%d].expect: status is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.ResourceType == "" {
		return fmt.Errorf("assertions[%d]: resource_type is required", index)
	}

	switch a.Type {
	case AssertResourceExists, AssertResourceAbsent:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
	case AssertResourceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for resource_count", index)
		}
	case AssertLinkage:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for linkage", index)
		}
		if a.Relationship == "" {
			return fmt.Errorf("assertions[%d]: relationship is required for linkage", index)
		}
		for _, target := range a.Targets {
			if _, _, err := parseTarget(target); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

// parseTarget splits a "type/id" target.
func parseTarget(s string) (typ, id string, err error) {
	typ, id, ok := strings.Cut(s, "/")
	if !ok || typ == "" || id == "" {
		return "", "", fmt.Errorf("target %q must be type/id", s)
	}
	return typ, id, nil
}
