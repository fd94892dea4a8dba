package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// Snapshot captures the responses of a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type Snapshot struct {
	ScenarioName string     `json:"scenario_name"`
	Responses    []Response `json:"responses"`
}

// toCanonicalMap converts a Snapshot to a plain JSON tree. Content types
// are left out; the body and status carry the contract.
func (s *Snapshot) toCanonicalMap() map[string]any {
	responses := make([]any, len(s.Responses))
	for i, resp := range s.Responses {
		m := map[string]any{
			"name":   resp.Name,
			"status": resp.Status,
		}
		if resp.Body != nil {
			m["body"] = resp.Body
		}
		responses[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"responses":     responses,
	}
}

// MarshalSnapshot renders the canonical snapshot of a result.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := Snapshot{
		ScenarioName: scenarioName,
		Responses:    result.Responses,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its responses against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the responses don't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
