package cogtype

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Decode converts a decoded JSON value (as produced by encoding/json's
// default any-unmarshal: float64, string, bool, []any, nil) into the Go
// value a FieldType expects, widening ints carried as float64 and
// wrapping bare strings into Path/Secret the way
// original_source/coglet/util.py's normalize_value does.
func Decode(ft FieldType, raw any) (reflect.Value, error) {
	if ft.Repetition == Repeated {
		items, ok := raw.([]any)
		if !ok {
			return reflect.Value{}, fmt.Errorf("cogtype: expected array, got %T", raw)
		}
		scalar := FieldType{Primitive: ft.Primitive, Repetition: Required, Coder: ft.Coder}
		goType, err := goTypeForScalar(scalar)
		if err != nil {
			return reflect.Value{}, err
		}
		slice := reflect.MakeSlice(reflect.SliceOf(goType), len(items), len(items))
		for idx, item := range items {
			v, err := Decode(scalar, item)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("cogtype: element %d: %w", idx, err)
			}
			slice.Index(idx).Set(v)
		}
		return slice, nil
	}

	if raw == nil {
		goType, err := goTypeForScalar(FieldType{Primitive: ft.Primitive, Repetition: Required})
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.Zero(goType), nil
	}

	switch ft.Primitive {
	case Bool:
		b, ok := raw.(bool)
		if !ok {
			return reflect.Value{}, fmt.Errorf("cogtype: expected bool, got %T", raw)
		}
		return reflect.ValueOf(b), nil
	case Integer:
		switch v := raw.(type) {
		case float64:
			return reflect.ValueOf(int(v)), nil
		case int:
			return reflect.ValueOf(v), nil
		default:
			return reflect.Value{}, fmt.Errorf("cogtype: expected number, got %T", raw)
		}
	case Float:
		switch v := raw.(type) {
		case float64:
			return reflect.ValueOf(v), nil
		case int:
			return reflect.ValueOf(float64(v)), nil
		default:
			return reflect.Value{}, fmt.Errorf("cogtype: expected number, got %T", raw)
		}
	case String:
		s, ok := raw.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("cogtype: expected string, got %T", raw)
		}
		return reflect.ValueOf(s), nil
	case PathType:
		s, ok := raw.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("cogtype: expected string path, got %T", raw)
		}
		return reflect.ValueOf(pathValueOf(s)), nil
	case SecretType:
		s, ok := raw.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("cogtype: expected string secret, got %T", raw)
		}
		return reflect.ValueOf(secretValueOf(s)), nil
	default:
		return reflect.Value{}, fmt.Errorf("cogtype: cannot decode primitive %s without a registered coder", ft.Primitive)
	}
}

// Encode converts a Go value produced by user code back into a
// JSON-marshalable value for a prediction response. Path encodes as a
// "file://" URI here; see EncodeSchemaDefault for the schema-default
// encoding, which is deliberately different.
func Encode(ft FieldType, v reflect.Value) (any, error) {
	if ft.Repetition == Repeated {
		if v.Kind() != reflect.Slice {
			return nil, fmt.Errorf("cogtype: expected slice, got %s", v.Kind())
		}
		out := make([]any, v.Len())
		scalar := FieldType{Primitive: ft.Primitive, Repetition: Required, Coder: ft.Coder}
		for i := 0; i < v.Len(); i++ {
			enc, err := Encode(scalar, v.Index(i))
			if err != nil {
				return nil, fmt.Errorf("cogtype: element %d: %w", i, err)
			}
			out[i] = enc
		}
		return out, nil
	}

	if ft.Repetition == Optional {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return nil, nil
			}
			v = v.Elem()
		}
	}

	switch ft.Primitive {
	case Bool, Integer, Float, String:
		return v.Interface(), nil
	case PathType:
		return "file://" + fmt.Sprint(v.Interface()), nil
	case SecretType:
		return "**********", nil
	default:
		return nil, fmt.Errorf("cogtype: cannot encode primitive %s without a registered coder", ft.Primitive)
	}
}

// EncodeSchemaDefault renders a default value for the OpenAPI schema: Path
// is a bare string (not a "file://" URI) and Secret is masked, matching
// original_source/coglet/adt.py's PrimitiveType.json_value.
func EncodeSchemaDefault(ft FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch ft.Primitive {
	case PathType:
		return fmt.Sprint(v), nil
	case SecretType:
		return "**********", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func goTypeForScalar(ft FieldType) (reflect.Type, error) {
	switch ft.Primitive {
	case Bool:
		return reflect.TypeOf(false), nil
	case Integer:
		return reflect.TypeOf(int(0)), nil
	case Float:
		return reflect.TypeOf(float64(0)), nil
	case String:
		return reflect.TypeOf(""), nil
	case PathType:
		return reflect.TypeOf(pathValueOf("")), nil
	case SecretType:
		return reflect.TypeOf(secretValueOf("")), nil
	default:
		return nil, fmt.Errorf("cogtype: no Go type for primitive %s", ft.Primitive)
	}
}

// pathValueOf and secretValueOf are late-bound to pkg/predictor's Path and
// Secret types via RegisterPathSecret, avoiding an import cycle between
// cogtype and predictor (predictor.Path/Secret are what user code writes
// struct fields as; cogtype must not depend on predictor to stay reusable
// by the schema emitter alone).
var (
	pathCtor   = func(s string) any { return s }
	secretCtor = func(s string) any { return s }
)

// RegisterPathSecret installs constructors used to build the concrete
// predictor.Path / predictor.Secret values Decode returns. Called once
// from an init in pkg/predictor's companion wiring, or by tests.
func RegisterPathSecret(path func(string) any, secret func(string) any) {
	pathCtor = path
	secretCtor = secret
}

func pathValueOf(s string) any   { return pathCtor(s) }
func secretValueOf(s string) any { return secretCtor(s) }
