// Package inspect builds a Descriptor from a user-supplied predictor value
// by reflecting over its method set and its Predict input struct's fields,
// the Go-native substitute for original_source/coglet/inspector.py's
// argspec-based walk (Go reflection cannot recover parameter names, so the
// input is a single tagged struct instead of keyword arguments).
package inspect

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/replicate/cog-worker/pkg/cogtype"
	"github.com/replicate/cog-worker/pkg/predictor"
)

// Descriptor is the full shape of a predictor: its declared inputs, its
// output shape, and the concurrency/iteration facts the invoker needs.
type Descriptor struct {
	TypeName          string
	Inputs            []cogtype.InputSpec
	InputType         reflect.Type
	Output            cogtype.OutputSpec
	HasSetup          bool
	SetupTakesWeights bool
	IsConcurrent      bool
	IsIter            bool
	// MaxConcurrency is not inspected from the predictor type -- it comes
	// from the host's config.json handover -- and is filled in by the
	// bootstrap package once that handover has been read.
	MaxConcurrency int
}

// InputByName returns the input spec for name, if any.
func (d *Descriptor) InputByName(name string) (cogtype.InputSpec, bool) {
	for _, in := range d.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return cogtype.InputSpec{}, false
}

// Build reflects over predictor (a pointer to a user predictor type) and
// produces its Descriptor, or an error describing the first
// non-conformance found -- mirroring the fail-fast validation style of
// inspector.py's _validate_predict/_validate_input.
func Build(predictor any) (*Descriptor, error) {
	v := reflect.ValueOf(predictor)
	t := v.Type()

	predictMethod, ok := t.MethodByName("Predict")
	if !ok {
		return nil, fmt.Errorf("inspect: predictor %s has no Predict method", t)
	}
	mt := predictMethod.Func.Type()
	// Receiver, ctx, in -> 3 in; (out, error) -> 2 out.
	if mt.NumIn() != 3 {
		return nil, fmt.Errorf("inspect: Predict must take (context.Context, In), got %s", mt)
	}
	if mt.NumOut() != 2 {
		return nil, fmt.Errorf("inspect: Predict must return (Out, error), got %s", mt)
	}
	if !mt.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("inspect: Predict's second return value must be error")
	}

	inType := mt.In(2)
	if inType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("inspect: Predict's input must be a struct, got %s", inType)
	}

	inputs, err := inputsFromStruct(inType)
	if err != nil {
		return nil, err
	}

	output, isIter, err := outputSpecFromType(mt.Out(0))
	if err != nil {
		return nil, err
	}

	hasSetup, setupTakesWeights, err := validateSetup(t)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		TypeName:          t.String(),
		Inputs:            inputs,
		InputType:         inType,
		Output:            output,
		HasSetup:          hasSetup,
		SetupTakesWeights: setupTakesWeights,
		IsIter:            isIter,
	}

	if _, ok := predictor.(interface{ Concurrent() }); ok {
		d.IsConcurrent = true
	}

	return d, nil
}

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var weightsType = reflect.TypeOf(predictor.Weights{})

// validateSetup checks an optional Setup method's signature up front,
// the way inspector.py's _validate_predict validates predict/setup
// argspecs before any request is admitted -- rather than discovering a
// bad signature via a reflect panic at setup time. Both
// Setup(context.Context) error and
// Setup(context.Context, predictor.Weights) error are accepted, mirroring
// original_source's Predictor.setup(self) / setup(self, weights) forms.
func validateSetup(t reflect.Type) (hasSetup, takesWeights bool, err error) {
	m, ok := t.MethodByName("Setup")
	if !ok {
		return false, false, nil
	}
	mt := m.Func.Type()

	if mt.NumOut() != 1 || !mt.Out(0).Implements(errorType) {
		return false, false, fmt.Errorf("inspect: Setup must return error, got %s", mt)
	}

	switch mt.NumIn() {
	case 2: // receiver, ctx
		if !mt.In(1).Implements(ctxType) {
			return false, false, fmt.Errorf("inspect: Setup's first parameter must be context.Context, got %s", mt)
		}
		return true, false, nil
	case 3: // receiver, ctx, weights
		if !mt.In(1).Implements(ctxType) {
			return false, false, fmt.Errorf("inspect: Setup's first parameter must be context.Context, got %s", mt)
		}
		if mt.In(2) != weightsType {
			return false, false, fmt.Errorf("inspect: Setup's second parameter must be predictor.Weights, got %s", mt)
		}
		return true, true, nil
	default:
		return false, false, fmt.Errorf(
			"inspect: Setup must take (context.Context) or (context.Context, predictor.Weights), got %s", mt)
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// inputsFromStruct walks an input struct's exported fields in declaration
// order -- that order becomes InputSpec.Order and, by extension, x-order
// in the emitted schema.
func inputsFromStruct(t reflect.Type) ([]cogtype.InputSpec, error) {
	var specs []cogtype.InputSpec
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		spec, err := inputSpecFromField(f, i)
		if err != nil {
			return nil, fmt.Errorf("inspect: field %s: %w", f.Name, err)
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// inputSpecFromField parses the `cog:"..."` struct tag on one field. Tag
// grammar is a comma-separated list of key=value pairs; "deprecated" is a
// bare flag, and a "name" key without a value keeps the default name (the
// field name with its first letter lowered). Unknown keys are ignored, e.g.:
//
//	cog:"name=prompt,description=Text prompt,default=hello"
//	cog:"ge=0,le=1,default=0.5"
//	cog:"choices=a|b|c"
func inputSpecFromField(f reflect.StructField, order int) (cogtype.InputSpec, error) {
	ft, err := cogtype.FromGoType(f.Type)
	if err != nil {
		return cogtype.InputSpec{}, err
	}

	spec := cogtype.InputSpec{
		Name:  lowerFirst(f.Name),
		Order: order,
		Type:  ft,
	}

	tag := f.Tag.Get("cog")
	if tag == "" {
		return spec, nil
	}

	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, hasVal := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		switch key {
		case "name":
			if hasVal {
				spec.Name = val
			}
		case "description":
			spec.Description = val
		case "default":
			if val == "nil" && ft.Repetition == cogtype.Required {
				return cogtype.InputSpec{}, fmt.Errorf(
					"ambiguous default=nil on non-optional field %q; use a pointer type for an optional field instead", f.Name)
			}
			if val == "nil" && ft.Repetition == cogtype.Optional {
				// A pointer field's nil default means "no value": leave it unset.
				continue
			}
			dv, err := parseDefault(ft, val)
			if err != nil {
				return cogtype.InputSpec{}, err
			}
			spec.Default = dv
			spec.HasDefault = true
		case "ge":
			n, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return cogtype.InputSpec{}, err
			}
			spec.GE = &n
		case "le":
			n, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return cogtype.InputSpec{}, err
			}
			spec.LE = &n
		case "min_length":
			n, err := strconv.Atoi(val)
			if err != nil {
				return cogtype.InputSpec{}, err
			}
			spec.MinLength = &n
		case "max_length":
			n, err := strconv.Atoi(val)
			if err != nil {
				return cogtype.InputSpec{}, err
			}
			spec.MaxLength = &n
		case "regex":
			spec.Regex = val
		case "choices":
			for _, c := range strings.Split(val, "|") {
				spec.Choices = append(spec.Choices, choiceValue(ft, c))
			}
		case "deprecated":
			spec.Deprecated = true
		}
	}

	return spec, nil
}

func parseDefault(ft cogtype.FieldType, val string) (any, error) {
	switch ft.Primitive {
	case cogtype.Bool:
		return strconv.ParseBool(val)
	case cogtype.Integer:
		return strconv.Atoi(val)
	case cogtype.Float:
		return strconv.ParseFloat(val, 64)
	default:
		return val, nil
	}
}

func choiceValue(ft cogtype.FieldType, s string) any {
	switch ft.Primitive {
	case cogtype.Integer:
		n, _ := strconv.Atoi(s)
		return n
	case cogtype.Float:
		n, _ := strconv.ParseFloat(s, 64)
		return n
	default:
		return s
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// outputSpecFromType determines a predictor's output shape from its
// Predict method's first return type: a channel is an iterator (or
// concat-iterator, for a named predictor.ConcatIterator), a struct named
// "Output" is an Object, a slice is List, anything else is Single.
func outputSpecFromType(t reflect.Type) (cogtype.OutputSpec, bool, error) {
	switch t.Kind() {
	case reflect.Chan:
		elemFt, err := cogtype.FromGoType(t.Elem())
		if err != nil {
			return cogtype.OutputSpec{}, false, err
		}
		kind := cogtype.IteratorKind
		if t.Name() == "ConcatIterator" {
			kind = cogtype.ConcatIteratorKind
			if elemFt.Primitive != cogtype.String {
				return cogtype.OutputSpec{}, false, fmt.Errorf("inspect: ConcatIterator must yield strings")
			}
		}
		return cogtype.OutputSpec{Kind: kind, Type: elemFt}, true, nil

	case reflect.Struct:
		if t.Name() == "Output" {
			var fields []cogtype.OutputField
			for i := 0; i < t.NumField(); i++ {
				f := t.Field(i)
				if f.PkgPath != "" {
					continue
				}
				ft, err := cogtype.FromGoType(f.Type)
				if err != nil {
					return cogtype.OutputSpec{}, false, err
				}
				if ft.Repetition == cogtype.Optional {
					return cogtype.OutputSpec{}, false, fmt.Errorf("inspect: Output field %s must not be optional", f.Name)
				}
				fields = append(fields, cogtype.OutputField{Name: lowerFirst(f.Name), Type: ft})
			}
			return cogtype.OutputSpec{Kind: cogtype.Object, Fields: fields}, false, nil
		}
		ft, err := cogtype.FromGoType(t)
		if err != nil {
			return cogtype.OutputSpec{}, false, err
		}
		return cogtype.OutputSpec{Kind: cogtype.Single, Type: ft}, false, nil

	case reflect.Slice:
		ft, err := cogtype.FromGoType(t)
		if err != nil {
			return cogtype.OutputSpec{}, false, err
		}
		return cogtype.OutputSpec{Kind: cogtype.List, Type: ft}, false, nil

	default:
		ft, err := cogtype.FromGoType(t)
		if err != nil {
			return cogtype.OutputSpec{}, false, err
		}
		return cogtype.OutputSpec{Kind: cogtype.Single, Type: ft}, false, nil
	}
}
