package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// Options bounds and configures validation.
type Options struct {
	// MaxOperations rejects larger batches. Zero disables the limit.
	MaxOperations int

	// BasePath is stripped from operation hrefs before resolution.
	BasePath string
}

// Step is one validated operation together with everything the
// dispatcher needs to execute it.
type Step struct {
	Operation ir.Operation

	// Target is the effective target: the explicit ref, the resolved href,
	// or the identity of the data member.
	Target ir.Ref

	// Resource is the decoded data of a resource add/update.
	Resource *ir.ResourceObject

	// Linkage is the decoded data of a relationship operation.
	Linkage *ir.Linkage

	// Declares is the lid this step introduces, if any.
	Declares string
}

// Batch is a validated, ready-to-dispatch operation list.
type Batch struct {
	Steps []Step

	// DeclaredLIDs maps every lid declared in the batch to its type.
	DeclaredLIDs map[string]string
}

// Validate checks the structural and cross-operation rules of a batch in a
// single left-to-right pass. All violations are collected (no fail-fast)
// and returned as ValidationErrors. Oversized batches are rejected with a
// RequestError before any operation is inspected.
//
// Validate has no side effects.
func Validate(ops []ir.Operation, opts Options) (*Batch, error) {
	if opts.MaxOperations > 0 && len(ops) > opts.MaxOperations {
		return nil, &RequestError{
			Code:    ErrBatchTooLarge,
			Message: fmt.Sprintf("batch has %d operations, maximum is %d", len(ops), opts.MaxOperations),
			Pointer: "/" + ir.OperationsMember,
		}
	}

	v := &validator{
		opts:     opts,
		declared: make(map[string]string),
	}
	batch := &Batch{Steps: make([]Step, 0, len(ops))}
	for _, op := range ops {
		batch.Steps = append(batch.Steps, v.validateOperation(op))
	}

	if len(v.errs) > 0 {
		return nil, v.errs
	}
	batch.DeclaredLIDs = v.declared
	return batch, nil
}

// validator accumulates errors and the declared lid set during traversal.
type validator struct {
	opts     Options
	declared map[string]string // lid -> type
	errs     ValidationErrors
}

// addError appends a validation error.
func (v *validator) addError(ptr ir.Pointer, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Pointer: ptr,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) validateOperation(op ir.Operation) Step {
	step := Step{Operation: op}

	target, ok := v.resolveTarget(op)
	if !ok {
		return step
	}
	step.Target = target

	if op.RequiresData() && !op.HasData() {
		v.addError(op.Pointer, ErrMissingData, "data is required for %q operations", op.Op)
	}

	if target.IsRelationship() {
		v.validateRelationshipOp(op, &step)
		return step
	}

	switch op.Op {
	case ir.OpAdd:
		v.validateAdd(op, &step)
	case ir.OpUpdate:
		v.validateUpdate(op, &step)
	case ir.OpRemove:
		v.validateRemove(op, &step)
	}
	return step
}

// resolveTarget picks the addressing channel. It returns false when the
// target is unusable and the remaining checks would only add noise.
func (v *validator) resolveTarget(op ir.Operation) (ir.Ref, bool) {
	switch {
	case op.ExplicitRef && op.Href != "":
		v.addError(op.Pointer, ErrTargetConflict, "ref and href are mutually exclusive")
		return ir.Ref{}, false

	case op.ExplicitRef:
		ref := *op.Ref
		if ref.Type == "" {
			v.addError(op.Pointer.Child("ref", "type"), ErrMissingTarget, "ref.type is required")
			return ir.Ref{}, false
		}
		if ref.ID != "" && ref.LID != "" {
			v.addError(op.Pointer.Child("ref"), ErrAmbiguousIdentity, "ref must not carry both id and lid")
			return ir.Ref{}, false
		}
		return ref, true

	case op.Href != "":
		ref, err := ParseHref(op.Href, v.opts.BasePath)
		if err != nil {
			v.addError(op.Pointer.Child("href"), ErrInvalidHref, "%v", err)
			return ir.Ref{}, false
		}
		return ref, true

	case op.Ref != nil:
		return *op.Ref, true

	default:
		return ir.Ref{}, true
	}
}

// targetPointer points at the member that addressed the target.
func targetPointer(op ir.Operation) ir.Pointer {
	switch {
	case op.ExplicitRef:
		return op.Pointer.Child("ref")
	case op.Href != "":
		return op.Pointer.Child("href")
	default:
		return op.Pointer.Child("data")
	}
}

// relationshipPointer points at the relationship name of the target.
func relationshipPointer(op ir.Operation) ir.Pointer {
	if op.ExplicitRef {
		return op.Pointer.Child("ref", "relationship")
	}
	return targetPointer(op)
}

func (v *validator) validateRelationshipOp(op ir.Operation, step *Step) {
	target := step.Target
	if !target.HasIdentifier() {
		v.addError(targetPointer(op), ErrMissingTarget, "relationship operations require the id or lid of the owning resource")
	} else if target.LID != "" {
		v.checkLID(target.Type, target.LID, targetPointer(op))
	}

	if !op.HasData() {
		if op.Op == ir.OpRemove {
			v.addError(op.Pointer, ErrMissingData, "data listing the members to remove is required")
		}
		return
	}

	var linkage ir.Linkage
	if err := json.Unmarshal(op.Data, &linkage); err != nil {
		v.addError(op.Pointer.Child("data"), ErrInvalidData, "invalid relationship data: %v", err)
		return
	}

	if (op.Op == ir.OpAdd || op.Op == ir.OpRemove) && !linkage.Many {
		v.addError(relationshipPointer(op), ErrInvalidRelOp,
			"%q on relationship %q requires an array of resource identifiers", op.Op, target.Relationship)
		return
	}

	dataPtr := op.Pointer.Child("data")
	if linkage.Many {
		for k, id := range linkage.Items {
			v.checkIdentifier(id, dataPtr.Child(strconv.Itoa(k)))
		}
	} else if linkage.One != nil {
		v.checkIdentifier(*linkage.One, dataPtr)
	}
	step.Linkage = &linkage
}

func (v *validator) validateAdd(op ir.Operation, step *Step) {
	if !op.HasData() {
		return
	}
	obj, ok := v.decodeResource(op)
	if !ok {
		return
	}

	dataPtr := op.Pointer.Child("data")
	if step.Target.Type != "" && (op.ExplicitRef || op.Href != "") && step.Target.Type != obj.Type {
		v.addError(dataPtr.Child("type"), ErrInvalidData,
			"data.type %q does not match target type %q", obj.Type, step.Target.Type)
	}
	if obj.ID != "" && obj.LID != "" {
		v.addError(dataPtr, ErrAmbiguousIdentity, "data must not carry both id and lid")
		return
	}

	// An explicit ref may carry the identity the data omits.
	if op.ExplicitRef {
		target := step.Target
		if obj.LID != "" && target.LID != "" && obj.LID != target.LID {
			v.addError(dataPtr.Child("lid"), ErrInvalidData, "data.lid %q does not match ref lid %q", obj.LID, target.LID)
		}
		if obj.ID != "" && target.ID != "" && obj.ID != target.ID {
			v.addError(dataPtr.Child("id"), ErrInvalidData, "data.id %q does not match ref id %q", obj.ID, target.ID)
		}
		if obj.ID == "" && obj.LID == "" {
			obj.ID, obj.LID = target.ID, target.LID
		}
	}

	// Relationships are checked before the declaration, so a new resource
	// cannot link to itself by lid.
	v.checkRelationships(obj, dataPtr)

	if obj.LID != "" {
		if _, dup := v.declared[obj.LID]; dup {
			v.addError(lidPointer(op), ErrDuplicateLID, "local identifier %q is already declared", obj.LID)
		} else {
			v.declared[obj.LID] = obj.Type
			step.Declares = obj.LID
		}
	}

	step.Resource = &obj
	step.Target = ir.Ref{Type: obj.Type, ID: obj.ID, LID: obj.LID}
}

func (v *validator) validateUpdate(op ir.Operation, step *Step) {
	target := step.Target
	if !target.HasIdentifier() {
		v.addError(targetPointer(op), ErrMissingTarget, "update requires the id or lid of the target resource")
	} else if target.LID != "" {
		v.checkLID(target.Type, target.LID, lidPointer(op))
	}

	if !op.HasData() {
		return
	}
	obj, ok := v.decodeResource(op)
	if !ok {
		return
	}

	dataPtr := op.Pointer.Child("data")
	if obj.Type != target.Type {
		v.addError(dataPtr.Child("type"), ErrInvalidData,
			"data.type %q does not match target type %q", obj.Type, target.Type)
	}
	if obj.ID != "" && target.ID != "" && obj.ID != target.ID {
		v.addError(dataPtr.Child("id"), ErrInvalidData, "data.id %q does not match target id %q", obj.ID, target.ID)
	}
	if obj.LID != "" && target.LID != "" && obj.LID != target.LID {
		v.addError(dataPtr.Child("lid"), ErrInvalidData, "data.lid %q does not match target lid %q", obj.LID, target.LID)
	}

	v.checkRelationships(obj, dataPtr)
	step.Resource = &obj
}

func (v *validator) validateRemove(op ir.Operation, step *Step) {
	if op.HasData() {
		v.addError(op.Pointer.Child("data"), ErrUnexpectedData, "removing a resource must not carry data")
	}
	target := step.Target
	if !target.HasIdentifier() {
		v.addError(targetPointer(op), ErrMissingTarget, "remove requires the id or lid of the target resource")
		return
	}
	if target.LID != "" {
		v.checkLID(target.Type, target.LID, lidPointer(op))
	}
}

// lidPointer points at the lid that addressed the target.
func lidPointer(op ir.Operation) ir.Pointer {
	if !op.ExplicitRef && op.Href == "" {
		return op.Pointer.Child("data", "lid")
	}
	return targetPointer(op)
}

// decodeResource decodes the data member as a resource object.
func (v *validator) decodeResource(op ir.Operation) (ir.ResourceObject, bool) {
	dataPtr := op.Pointer.Child("data")
	trimmed := bytes.TrimSpace(op.Data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		v.addError(dataPtr, ErrInvalidData, "data must be a resource object")
		return ir.ResourceObject{}, false
	}

	var obj ir.ResourceObject
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		v.addError(dataPtr, ErrInvalidData, "invalid resource object: %v", err)
		return ir.ResourceObject{}, false
	}
	obj.Type = normalizeRef(ir.Ref{Type: obj.Type}).Type
	obj.LID = normalizeRef(ir.Ref{LID: obj.LID}).LID

	if obj.Type == "" {
		v.addError(dataPtr.Child("type"), ErrInvalidData, "data.type is required")
		return ir.ResourceObject{}, false
	}
	return obj, true
}

// checkRelationships validates every linkage in a resource object.
// Relationship names are visited in sorted order for stable error output.
func (v *validator) checkRelationships(obj ir.ResourceObject, dataPtr ir.Pointer) {
	names := make([]string, 0, len(obj.Relationships))
	for name := range obj.Relationships {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		linkage := obj.Relationships[name].Data
		relPtr := dataPtr.Child("relationships", name, "data")
		if linkage.Many {
			for k, id := range linkage.Items {
				v.checkIdentifier(id, relPtr.Child(strconv.Itoa(k)))
			}
		} else if linkage.One != nil {
			v.checkIdentifier(*linkage.One, relPtr)
		}
	}
}

// checkIdentifier validates one resource identifier of a linkage.
func (v *validator) checkIdentifier(id ir.ResourceIdentifier, ptr ir.Pointer) {
	switch {
	case id.Type == "":
		v.addError(ptr.Child("type"), ErrInvalidData, "resource identifier requires a type")
	case id.ID != "" && id.LID != "":
		v.addError(ptr, ErrAmbiguousIdentity, "resource identifier must not carry both id and lid")
	case id.ID == "" && id.LID == "":
		v.addError(ptr, ErrInvalidData, "resource identifier requires an id or lid")
	case id.LID != "":
		v.checkLID(id.Type, id.LID, ptr.Child("lid"))
	}
}

// checkLID enforces declare-before-use and type consistency.
func (v *validator) checkLID(typ, lid string, ptr ir.Pointer) {
	declaredType, ok := v.declared[lid]
	if !ok {
		v.addError(ptr, ErrUndeclaredLID,
			"local identifier %q has not been declared by a preceding add operation", lid)
		return
	}
	if typ != "" && typ != declaredType {
		v.addError(ptr, ErrLIDTypeMismatch,
			"local identifier %q was declared for type %q, not %q", lid, declaredType, typ)
	}
}
