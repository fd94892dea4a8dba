package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// rawOperation mirrors one batch entry before any checks.
type rawOperation struct {
	Op   *string         `json:"op"`
	Ref  json.RawMessage `json:"ref"`
	Href string          `json:"href"`
	Data json.RawMessage `json:"data"`
	Meta map[string]any  `json:"meta"`
}

// dataIdentity is the identity part of a resource object payload.
type dataIdentity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	LID  string `json:"lid"`
}

// Parse converts a request body into the ordered operation list.
//
// Parse only rejects what prevents building an Operation: a body that is not
// an object, a missing or empty atomic:operations array, an entry that is
// not an object, a malformed ref object, or a missing/unknown op. Semantic
// checks belong to Validate.
func Parse(body []byte) ([]ir.Operation, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		return nil, &RequestError{
			Code:    ErrInvalidDocument,
			Message: "request body must be a JSON object",
		}
	}

	rawOps, ok := doc[ir.OperationsMember]
	if !ok {
		return nil, &RequestError{
			Code:    ErrMissingOperations,
			Message: fmt.Sprintf("%q member is required", ir.OperationsMember),
			Pointer: "/" + ir.OperationsMember,
		}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(rawOps, &entries); err != nil || len(entries) == 0 {
		return nil, &RequestError{
			Code:    ErrMissingOperations,
			Message: fmt.Sprintf("%q must be a non-empty array", ir.OperationsMember),
			Pointer: "/" + ir.OperationsMember,
		}
	}

	ops := make([]ir.Operation, 0, len(entries))
	for i, entry := range entries {
		op, err := parseOperation(i, entry)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parseOperation(index int, entry json.RawMessage) (ir.Operation, error) {
	ptr := ir.OperationPointer(index)

	trimmed := bytes.TrimSpace(entry)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ir.Operation{}, &RequestError{
			Code:    ErrInvalidEntry,
			Message: "operation must be a JSON object",
			Pointer: ptr,
		}
	}

	var raw rawOperation
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return ir.Operation{}, &RequestError{
			Code:    ErrInvalidEntry,
			Message: fmt.Sprintf("malformed operation: %v", err),
			Pointer: ptr,
		}
	}

	if raw.Op == nil {
		return ir.Operation{}, &RequestError{
			Code:    ErrInvalidOp,
			Message: "op is required",
			Pointer: ptr.Child("op"),
		}
	}
	kind := ir.Op(*raw.Op)
	if !kind.Valid() {
		return ir.Operation{}, &RequestError{
			Code:    ErrInvalidOp,
			Message: fmt.Sprintf("invalid op %q, must be \"add\", \"update\" or \"remove\"", *raw.Op),
			Pointer: ptr.Child("op"),
		}
	}

	op := ir.Operation{
		Op:      kind,
		Href:    raw.Href,
		Data:    raw.Data,
		Meta:    raw.Meta,
		Pointer: ptr,
		Index:   index,
	}

	if len(raw.Ref) > 0 && string(bytes.TrimSpace(raw.Ref)) != "null" {
		var ref ir.Ref
		if err := json.Unmarshal(raw.Ref, &ref); err != nil {
			return ir.Operation{}, &RequestError{
				Code:    ErrInvalidEntry,
				Message: fmt.Sprintf("malformed ref: %v", err),
				Pointer: ptr.Child("ref"),
			}
		}
		ref = normalizeRef(ref)
		op.Ref = &ref
		op.ExplicitRef = true
		return op, nil
	}

	// Without ref or href, resource operations address the resource
	// described by their data.
	if op.Href == "" && kind != ir.OpRemove {
		if id, ok := peekIdentity(raw.Data); ok {
			ref := normalizeRef(ir.Ref{Type: id.Type, ID: id.ID, LID: id.LID})
			op.Ref = &ref
		}
	}
	return op, nil
}

// peekIdentity reads type/id/lid from a resource object payload.
// Anything else (null, arrays, malformed JSON) yields false.
func peekIdentity(data json.RawMessage) (dataIdentity, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return dataIdentity{}, false
	}
	var id dataIdentity
	if err := json.Unmarshal(trimmed, &id); err != nil {
		return dataIdentity{}, false
	}
	return id, true
}

// normalizeRef NFC-normalizes the member names clients choose so that
// visually identical identifiers compare equal.
func normalizeRef(ref ir.Ref) ir.Ref {
	ref.Type = norm.NFC.String(ref.Type)
	ref.LID = norm.NFC.String(ref.LID)
	ref.Relationship = norm.NFC.String(ref.Relationship)
	return ref
}
