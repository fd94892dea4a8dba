package engine

import (
	"fmt"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// Response is the shaped result of a successful batch.
type Response struct {
	// Document holds one result per operation, in order.
	Document *ir.ResultDocument

	// AllEmpty means the transport should answer with no content.
	AllEmpty bool
}

// BuildResults turns outcomes into the response payload.
//
// With ReturnNone every entry is empty and AllEmpty is set. Otherwise each
// data-carrying outcome is serialized into {"data": ...} and the others
// stay empty; AllEmpty is set when no entry carries data and the policy is
// not ReturnAlways.
func BuildResults(outcomes []ir.Outcome, policy ir.ReturnPolicy, s Serializer, fields ir.Fieldsets) (*Response, error) {
	results := make([]ir.Result, len(outcomes))
	if policy == ir.ReturnNone {
		return &Response{Document: &ir.ResultDocument{Results: results}, AllEmpty: true}, nil
	}

	allEmpty := true
	for i, outcome := range outcomes {
		if outcome.Empty() {
			continue
		}
		obj, err := s.Serialize(outcome.Resource, fields)
		if err != nil {
			return nil, fmt.Errorf("serialize result %d (%s %q): %w", i, outcome.Type, outcome.ID, err)
		}
		results[i] = ir.Result{Data: obj}
		allEmpty = false
	}

	return &Response{
		Document: &ir.ResultDocument{Results: results},
		AllEmpty: allEmpty && policy != ir.ReturnAlways,
	}, nil
}
