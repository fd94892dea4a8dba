package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/jsonapi-atomic/internal/ir"
	"github.com/roach88/jsonapi-atomic/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// AssertionContext provides store access for evaluating assertions.
type AssertionContext struct {
	Repository *store.Repository
	Ctx        context.Context
}

// EvaluateAssertions evaluates all assertions against the store.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var msgs []string

	for i, assertion := range assertions {
		var err error
		if actx == nil || actx.Repository == nil {
			err = fmt.Errorf("assertion[%d]: %s requires a repository", i, assertion.Type)
		} else {
			switch assertion.Type {
			case AssertResourceExists:
				err = assertResourceExists(actx.Ctx, actx.Repository, assertion)
			case AssertResourceAbsent:
				err = assertResourceAbsent(actx.Ctx, actx.Repository, assertion)
			case AssertResourceCount:
				err = assertResourceCount(actx.Ctx, actx.Repository, assertion)
			case AssertLinkage:
				err = assertLinkage(actx.Ctx, actx.Repository, assertion)
			default:
				err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
			}
		}

		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}

	return msgs
}

// assertResourceExists checks the resource is stored and its attributes
// contain the expected ones (subset match).
func assertResourceExists(ctx context.Context, repo *store.Repository, a Assertion) error {
	res, err := repo.Find(ctx, a.ResourceType, a.ID)
	if errors.Is(err, ir.ErrNotFound) {
		return &AssertionError{
			Type:     AssertResourceExists,
			Expected: fmt.Sprintf("%s %q to exist", a.ResourceType, a.ID),
			Actual:   "not found",
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", AssertResourceExists, err)
	}

	if !matchArgs(res.Attributes, a.Attributes) {
		return &AssertionError{
			Type:     AssertResourceExists,
			Expected: fmt.Sprintf("%s %q attributes %v", a.ResourceType, a.ID, a.Attributes),
			Actual:   fmt.Sprintf("attributes %v", res.Attributes),
		}
	}
	return nil
}

// assertResourceAbsent checks the resource is not stored.
func assertResourceAbsent(ctx context.Context, repo *store.Repository, a Assertion) error {
	_, err := repo.Find(ctx, a.ResourceType, a.ID)
	if errors.Is(err, ir.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", AssertResourceAbsent, err)
	}
	return &AssertionError{
		Type:     AssertResourceAbsent,
		Expected: fmt.Sprintf("%s %q to be absent", a.ResourceType, a.ID),
		Actual:   "found",
	}
}

// assertResourceCount checks the exact number of stored resources of a type.
func assertResourceCount(ctx context.Context, repo *store.Repository, a Assertion) error {
	n, err := repo.Count(ctx, a.ResourceType)
	if err != nil {
		return fmt.Errorf("%s: %w", AssertResourceCount, err)
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertResourceCount,
			Expected: fmt.Sprintf("%d %s", a.Count, a.ResourceType),
			Actual:   fmt.Sprintf("%d %s", n, a.ResourceType),
		}
	}
	return nil
}

// assertLinkage checks a relationship links exactly the expected targets,
// in order.
func assertLinkage(ctx context.Context, repo *store.Repository, a Assertion) error {
	res, err := repo.Find(ctx, a.ResourceType, a.ID)
	if err != nil {
		return &AssertionError{
			Type:     AssertLinkage,
			Expected: fmt.Sprintf("%s %q to exist", a.ResourceType, a.ID),
			Actual:   err.Error(),
		}
	}
	linkage, ok := res.Relationships[a.Relationship]
	if !ok {
		return &AssertionError{
			Type:     AssertLinkage,
			Expected: fmt.Sprintf("relationship %q on %s", a.Relationship, a.ResourceType),
			Actual:   fmt.Sprintf("relationships %v", relationshipNames(res)),
		}
	}

	actual := make([]string, 0, len(linkage.Items))
	for _, id := range linkage.Identifiers() {
		actual = append(actual, id.Type+"/"+id.ID)
	}
	expected := a.Targets
	if expected == nil {
		expected = []string{}
	}
	if strings.Join(actual, ",") != strings.Join(expected, ",") {
		return &AssertionError{
			Type:     AssertLinkage,
			Expected: fmt.Sprintf("%s %q %s -> %v", a.ResourceType, a.ID, a.Relationship, expected),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

func relationshipNames(res *ir.Resource) []string {
	names := make([]string, 0, len(res.Relationships))
	for name := range res.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// matchArgs checks if actual contains all expected members (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual, expected map[string]any) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares two JSON-like values through their canonical
// encoding, so YAML integers equal stored json.Numbers and nested maps
// compare by content.
func valuesEqual(actual, expected any) bool {
	a, err := ir.MarshalCanonical(actual)
	if err != nil {
		return false
	}
	e, err := ir.MarshalCanonical(expected)
	if err != nil {
		return false
	}
	return bytes.Equal(a, e)
}
