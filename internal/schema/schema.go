package schema

import (
	"fmt"
	"os"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// Kind is the value kind of an attribute.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindAny    Kind = "any"
)

var kindNames = map[string]Kind{
	"string": KindString,
	"int":    KindInt,
	"number": KindNumber,
	"float":  KindNumber,
	"bool":   KindBool,
	"object": KindObject,
	"array":  KindArray,
	"any":    KindAny,
}

// Relationship describes one relationship of a resource type.
type Relationship struct {
	Name string
	// Type is the related resource type. Empty accepts any type.
	Type string
	Many bool
}

// Resource is the definition of one resource type.
type Resource struct {
	Type          string
	Attributes    map[string]Kind
	Relationships map[string]Relationship

	// Declaration order, used for stable output.
	AttributeOrder    []string
	RelationshipOrder []string
}

// Relationship returns the named relationship definition.
func (r *Resource) Relationship(name string) (Relationship, bool) {
	rel, ok := r.Relationships[name]
	return rel, ok
}

// Schema is the set of resource types known to the service.
type Schema struct {
	resources map[string]*Resource
	order     []string
}

// New builds a schema from resource definitions, mostly for tests.
func New(resources ...*Resource) *Schema {
	s := &Schema{resources: make(map[string]*Resource, len(resources))}
	for _, r := range resources {
		if r.Attributes == nil {
			r.Attributes = map[string]Kind{}
		}
		if r.Relationships == nil {
			r.Relationships = map[string]Relationship{}
		}
		if r.AttributeOrder == nil {
			r.AttributeOrder = sortedKeys(r.Attributes)
		}
		if r.RelationshipOrder == nil {
			r.RelationshipOrder = sortedKeys(r.Relationships)
		}
		s.resources[r.Type] = r
		s.order = append(s.order, r.Type)
	}
	return s
}

// Resource returns the definition of a resource type.
func (s *Schema) Resource(typ string) (*Resource, bool) {
	r, ok := s.resources[typ]
	return r, ok
}

// Types returns the resource types in declaration order.
func (s *Schema) Types() []string {
	return slices.Clone(s.order)
}

// Compile parses the top-level `resource` struct of a CUE value.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	resVal := v.LookupPath(cue.ParsePath("resource"))
	if !resVal.Exists() {
		return nil, &CompileError{
			Field:   "resource",
			Message: "at least one resource type is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := resVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	s := &Schema{resources: make(map[string]*Resource)}
	for iter.Next() {
		r, err := compileResource(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		s.resources[r.Type] = r
		s.order = append(s.order, r.Type)
	}

	if len(s.order) == 0 {
		return nil, &CompileError{
			Field:   "resource",
			Message: "at least one resource type is required",
			Pos:     resVal.Pos(),
		}
	}
	return s, nil
}

// CompileString compiles schema source. filename only labels positions.
func CompileString(src, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// Load reads a schema from a single .cue file or from the CUE package in a
// directory.
func Load(path string) (*Schema, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("schema path: %w", err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		return CompileString(string(data), path)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", path)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", formatCUEError(inst.Err))
	}

	ctx := cuecontext.New()
	return Compile(ctx.BuildInstance(inst))
}

func compileResource(typ string, v cue.Value) (*Resource, error) {
	r := &Resource{
		Type:          typ,
		Attributes:    make(map[string]Kind),
		Relationships: make(map[string]Relationship),
	}

	attrVal := v.LookupPath(cue.ParsePath("attributes"))
	if attrVal.Exists() {
		iter, err := attrVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			name := iter.Label()
			kind, err := extractKind(iter.Value())
			if err != nil {
				return nil, err
			}
			r.Attributes[name] = kind
			r.AttributeOrder = append(r.AttributeOrder, name)
		}
	}

	relVal := v.LookupPath(cue.ParsePath("relationships"))
	if relVal.Exists() {
		iter, err := relVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			name := iter.Label()
			if _, clash := r.Attributes[name]; clash {
				return nil, &CompileError{
					Field:   fmt.Sprintf("resource.%s.relationships.%s", typ, name),
					Message: "name is already used by an attribute",
					Pos:     iter.Value().Pos(),
				}
			}
			rel, err := compileRelationship(typ, name, iter.Value())
			if err != nil {
				return nil, err
			}
			r.Relationships[name] = rel
			r.RelationshipOrder = append(r.RelationshipOrder, name)
		}
	}

	for _, reserved := range []string{"id", "type", "lid"} {
		_, attr := r.Attributes[reserved]
		_, rel := r.Relationships[reserved]
		if attr || rel {
			return nil, &CompileError{
				Field:   fmt.Sprintf("resource.%s.%s", typ, reserved),
				Message: "member name is reserved",
				Pos:     v.Pos(),
			}
		}
	}
	return r, nil
}

func compileRelationship(typ, name string, v cue.Value) (Relationship, error) {
	rel := Relationship{Name: name}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if typeVal.Exists() {
		target, err := typeVal.String()
		if err != nil {
			return rel, formatCUEError(err)
		}
		rel.Type = target
	}

	manyVal := v.LookupPath(cue.ParsePath("many"))
	if manyVal.Exists() {
		many, err := manyVal.Bool()
		if err != nil {
			return rel, &CompileError{
				Field:   fmt.Sprintf("resource.%s.relationships.%s.many", typ, name),
				Message: "many must be a boolean",
				Pos:     manyVal.Pos(),
			}
		}
		rel.Many = many
	}
	return rel, nil
}

// extractKind converts a CUE type or a quoted kind name to a Kind.
func extractKind(v cue.Value) (Kind, error) {
	if err := v.Err(); err != nil {
		return "", formatCUEError(err)
	}
	if v.IsConcrete() && v.Kind() == cue.StringKind {
		name, err := v.String()
		if err != nil {
			return "", formatCUEError(err)
		}
		kind, ok := kindNames[name]
		if !ok {
			return "", &CompileError{
				Field:   "type",
				Message: fmt.Sprintf("unknown attribute kind %q", name),
				Pos:     v.Pos(),
			}
		}
		return kind, nil
	}

	switch v.IncompleteKind() {
	case cue.StringKind:
		return KindString, nil
	case cue.IntKind:
		return KindInt, nil
	case cue.FloatKind, cue.NumberKind:
		return KindNumber, nil
	case cue.BoolKind:
		return KindBool, nil
	case cue.ListKind:
		return KindArray, nil
	case cue.StructKind:
		return KindObject, nil
	case cue.TopKind:
		return KindAny, nil
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported attribute kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
