// Package harness runs conformance scenarios against a fully wired service.
//
// A scenario names a schema, seeds resources, posts atomic batches through
// the HTTP handler and asserts on the responses and the final store state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schema: ../schemas/blog.cue
//	return_policy: auto
//	setup:
//	  - type: people
//	    id: p1
//	    attributes: { name: Ann }
//	requests:
//	  - name: create article
//	    body: |
//	      {"atomic:operations":[{"op":"add","data":{"type":"articles"}}]}
//	    expect:
//	      status: 200
//	      results: 1
//	assertions:
//	  - type: resource_exists
//	    resource_type: articles
//	    id: id-1
//	    attributes: { title: Hello }
//
// The schema path is relative to the scenario file. Requests default to the
// atomic media type for Content-Type and Accept.
//
// # Assertion Types
//
//   - resource_exists: the resource is stored, with matching attributes (subset)
//   - resource_absent: the resource is not stored
//   - resource_count: exactly count resources of the type are stored
//   - linkage: a relationship links exactly the given targets, in order
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory database and sequential ids
// (id-1, id-2, ...) so responses can be compared against golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/rollback.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
