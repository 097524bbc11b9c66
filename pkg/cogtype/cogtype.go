// Package cogtype is the type model shared by the inspector, the schema
// emitter, and the invoker: primitive kinds, repetition, field
// descriptors, and the JSON coercions between a wire value and a Go value.
//
// This mirrors the algebraic data type in original_source's coglet/adt.py
// (PrimitiveType, Repetition, FieldType, Input, Output) translated to a
// reflect.Type-driven model instead of a Python-annotation-driven one.
package cogtype

import (
	"fmt"
	"reflect"
)

// Primitive is the scalar kind of a field.
type Primitive int

const (
	Bool Primitive = iota
	Float
	Integer
	String
	PathType
	SecretType
	Custom
)

func (p Primitive) String() string {
	switch p {
	case Bool:
		return "boolean"
	case Float:
		return "number"
	case Integer:
		return "integer"
	case String:
		return "string"
	case PathType:
		return "path"
	case SecretType:
		return "secret"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// JSONType is the OpenAPI "type" keyword for this primitive. Path and
// Secret are both carried on the wire as JSON strings.
func (p Primitive) JSONType() string {
	switch p {
	case Bool:
		return "boolean"
	case Float:
		return "number"
	case Integer:
		return "integer"
	case String, PathType, SecretType, Custom:
		return "string"
	default:
		return "string"
	}
}

// Repetition is the cardinality of a field.
type Repetition int

const (
	Required Repetition = iota + 1
	Optional
	Repeated
)

// FieldType is a primitive plus its repetition. Optional+Repeated never
// co-occur on one field: a repeated field that may be entirely absent is
// represented as Repeated with a nil/empty default, not as an
// Optional-of-Repeated compound.
type FieldType struct {
	Primitive  Primitive
	Repetition Repetition
	// Coder names a registered codec for Custom fields; empty otherwise.
	Coder string
}

// FromGoType derives a FieldType from a reflect.Type the way the inspector
// encounters it on a struct field: slices become Repeated, pointers become
// Optional, everything else is Required.
func FromGoType(t reflect.Type) (FieldType, error) {
	switch t.Kind() {
	case reflect.Ptr:
		inner, err := FromGoType(t.Elem())
		if err != nil {
			return FieldType{}, err
		}
		if inner.Repetition == Repeated {
			return FieldType{}, fmt.Errorf("cogtype: pointer to slice is not a supported field shape")
		}
		inner.Repetition = Optional
		return inner, nil
	case reflect.Slice:
		inner, err := FromGoType(t.Elem())
		if err != nil {
			return FieldType{}, err
		}
		if inner.Repetition != Required {
			return FieldType{}, fmt.Errorf("cogtype: nested optional/repeated slice elements are not supported")
		}
		inner.Repetition = Repeated
		return inner, nil
	default:
		prim, err := primitiveFromGoType(t)
		if err != nil {
			return FieldType{}, err
		}
		return FieldType{Primitive: prim, Repetition: Required}, nil
	}
}

func primitiveFromGoType(t reflect.Type) (Primitive, error) {
	// Path and Secret are recognized by name regardless of underlying
	// kind (Path is a defined string type, Secret is a masking struct),
	// matching predictor.Path / predictor.Secret without importing that
	// package (it depends on cogtype, not the other way around).
	switch t.Name() {
	case "Path":
		return PathType, nil
	case "Secret":
		return SecretType, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return Bool, nil
	case reflect.Float32, reflect.Float64:
		return Float, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Integer, nil
	case reflect.String:
		return String, nil
	default:
		return 0, fmt.Errorf("cogtype: unsupported Go type %s", t)
	}
}

// InputSpec fully describes one prediction input field: its wire name,
// declaration order (used for x-order),
// type, and validation constraints.
type InputSpec struct {
	Name        string
	Order       int
	Type        FieldType
	Default     any
	HasDefault  bool
	Description string
	GE, LE      *float64
	MinLength   *int
	MaxLength   *int
	Regex       string
	Choices     []any
	Deprecated  bool
}

// IsRequired reports whether omitting this field is an input error.
func (i InputSpec) IsRequired() bool {
	return i.Type.Repetition != Optional && !i.HasDefault
}

// Validate checks the InputSpec's constraints are self-consistent, the way
// original_source's inspector.py's _validate_input does.
func (i InputSpec) Validate() error {
	numeric := i.Type.Primitive == Integer || i.Type.Primitive == Float
	stringy := i.Type.Primitive == String || i.Type.Primitive == PathType || i.Type.Primitive == SecretType

	if (i.GE != nil || i.LE != nil) && !numeric {
		return fmt.Errorf("cogtype: ge/le only apply to numeric fields (%s)", i.Name)
	}
	if (i.MinLength != nil || i.MaxLength != nil) && !stringy {
		return fmt.Errorf("cogtype: min_length/max_length only apply to string fields (%s)", i.Name)
	}
	if i.Regex != "" && !stringy {
		return fmt.Errorf("cogtype: regex only applies to string fields (%s)", i.Name)
	}
	if len(i.Choices) > 0 {
		if len(i.Choices) < 2 {
			return fmt.Errorf("cogtype: choices must have at least 2 entries (%s)", i.Name)
		}
		if i.GE != nil || i.LE != nil || i.MinLength != nil || i.MaxLength != nil {
			return fmt.Errorf("cogtype: choices cannot combine with ge/le/min_length/max_length (%s)", i.Name)
		}
		if i.Type.Primitive != Integer && i.Type.Primitive != String {
			return fmt.Errorf("cogtype: choices only apply to integer or string fields (%s)", i.Name)
		}
	}
	return nil
}

// OutputKind describes the shape of a predictor's return value.
type OutputKind int

const (
	Single OutputKind = iota
	List
	IteratorKind
	ConcatIteratorKind
	Object
)

// OutputField describes one field of an Object-kind output.
type OutputField struct {
	Name string
	Type FieldType
}

// OutputSpec describes a predictor's return value.
type OutputSpec struct {
	Kind   OutputKind
	Type   FieldType // meaningful for Single, List, IteratorKind
	Fields []OutputField
}
