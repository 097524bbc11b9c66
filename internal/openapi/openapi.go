// Package openapi renders an inspect.Descriptor into the OpenAPI 3.0.2
// document the worker writes to openapi.json, grounded on
// replicate-cog's pkg/schema/openapi.go (orderedMapAny, x-order,
// choices-as-allOf-ref, nullable handling) adapted from a Python-AST
// source to a reflect.Type source.
package openapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/replicate/cog-worker/internal/inspect"
	"github.com/replicate/cog-worker/pkg/cogtype"
)

// orderedMap preserves key insertion order through MarshalJSON, since
// encoding/json's map support does not -- the same problem
// replicate-cog's orderedMapAny solves.
type orderedMap struct {
	keys   []string
	values map[string]any
}

func newOrderedMap() *orderedMap {
	return &orderedMap{values: map[string]any{}}
}

func (m *orderedMap) Set(key string, value any) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *orderedMap) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// Generate builds the full OpenAPI document for a predictor descriptor.
func Generate(d *inspect.Descriptor) (map[string]any, error) {
	inputSchema, enumSchemas, err := buildInputSchema(d)
	if err != nil {
		return nil, err
	}
	outputSchema := buildOutputSchema(d)

	schemas := newOrderedMap()
	schemas.Set("Input", inputSchema)
	for name, schema := range enumSchemas {
		schemas.Set(name, schema)
	}
	schemas.Set("Output", outputSchema)
	schemas.Set("Status", map[string]any{
		"type": "string",
		"enum": []string{"starting", "processing", "succeeded", "canceled", "failed"},
	})

	doc := map[string]any{
		"openapi": "3.0.2",
		"info": map[string]any{
			"title":   "Cog",
			"version": "0.1.0",
		},
		"paths": map[string]any{},
		"components": map[string]any{
			"schemas": schemas,
		},
	}

	if err := validateDoc(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func buildInputSchema(d *inspect.Descriptor) (map[string]any, map[string]any, error) {
	properties := newOrderedMap()
	var required []string
	enumSchemas := map[string]any{}

	inputs := append([]cogtype.InputSpec(nil), d.Inputs...)
	sort.SliceStable(inputs, func(i, j int) bool { return inputs[i].Order < inputs[j].Order })

	for _, in := range inputs {
		prop, err := buildFieldSchema(in)
		if err != nil {
			return nil, nil, err
		}
		if len(in.Choices) > 0 {
			enumName := titleCaseSingle(in.Name)
			enumSchemas[enumName] = map[string]any{
				"enum":  in.Choices,
				"type":  in.Type.Primitive.JSONType(),
				"title": enumName,
			}
			prop = map[string]any{
				"allOf":   []any{map[string]any{"$ref": "#/components/schemas/" + enumName}},
				"x-order": in.Order,
			}
			if in.Description != "" {
				prop["description"] = in.Description
			}
			if in.HasDefault {
				def, err := cogtype.EncodeSchemaDefault(in.Type, in.Default)
				if err != nil {
					return nil, nil, err
				}
				prop["default"] = def
			}
		}
		properties.Set(in.Name, prop)

		switch {
		case in.Type.Repetition == cogtype.Required && !in.HasDefault:
			required = append(required, in.Name)
		case in.Type.Repetition == cogtype.Repeated && !in.HasDefault:
			required = append(required, in.Name)
		}
	}

	schema := map[string]any{
		"title":      "Input",
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema, enumSchemas, nil
}

func buildFieldSchema(in cogtype.InputSpec) (map[string]any, error) {
	prop := map[string]any{
		"x-order": in.Order,
	}
	baseType := in.Type
	baseType.Repetition = cogtype.Required

	if in.Type.Repetition == cogtype.Repeated {
		itemSchema, err := primitiveSchema(baseType)
		if err != nil {
			return nil, err
		}
		prop["type"] = "array"
		prop["items"] = itemSchema
	} else {
		itemSchema, err := primitiveSchema(baseType)
		if err != nil {
			return nil, err
		}
		for k, v := range itemSchema {
			prop[k] = v
		}
		if in.Type.Repetition == cogtype.Optional {
			prop["nullable"] = true
		}
	}

	prop["title"] = titleCase(in.Name)
	if in.Description != "" {
		prop["description"] = in.Description
	}
	if in.HasDefault {
		def, err := cogtype.EncodeSchemaDefault(baseType, in.Default)
		if err != nil {
			return nil, err
		}
		prop["default"] = def
	}
	if in.GE != nil {
		prop["minimum"] = *in.GE
	}
	if in.LE != nil {
		prop["maximum"] = *in.LE
	}
	if in.MinLength != nil {
		prop["minLength"] = *in.MinLength
	}
	if in.MaxLength != nil {
		prop["maxLength"] = *in.MaxLength
	}
	if in.Regex != "" {
		prop["pattern"] = in.Regex
	}
	if in.Deprecated {
		prop["deprecated"] = true
	}
	return prop, nil
}

func primitiveSchema(ft cogtype.FieldType) (map[string]any, error) {
	schema := map[string]any{"type": ft.Primitive.JSONType()}
	switch ft.Primitive {
	case cogtype.PathType:
		schema["format"] = "uri"
	case cogtype.SecretType:
		schema["format"] = "password"
		schema["writeOnly"] = true
		schema["x-cog-secret"] = true
	}
	return schema, nil
}

func buildOutputSchema(d *inspect.Descriptor) map[string]any {
	switch d.Output.Kind {
	case cogtype.Single:
		s, _ := primitiveSchema(d.Output.Type)
		s["title"] = "Output"
		return s
	case cogtype.List:
		item, _ := primitiveSchema(d.Output.Type)
		return map[string]any{"title": "Output", "type": "array", "items": item}
	case cogtype.IteratorKind:
		item, _ := primitiveSchema(d.Output.Type)
		return map[string]any{
			"title": "Output", "type": "array", "items": item,
			"x-cog-array-type": "iterator",
		}
	case cogtype.ConcatIteratorKind:
		item, _ := primitiveSchema(d.Output.Type)
		return map[string]any{
			"title": "Output", "type": "array", "items": item,
			"x-cog-array-type":    "iterator",
			"x-cog-array-display": "concatenate",
		}
	case cogtype.Object:
		props := newOrderedMap()
		var required []string
		for _, f := range d.Output.Fields {
			fs, _ := primitiveSchema(f.Type)
			if f.Type.Repetition == cogtype.Repeated {
				fs = map[string]any{"type": "array", "items": fs}
			}
			props.Set(f.Name, fs)
			required = append(required, f.Name)
		}
		return map[string]any{
			"title": "Output", "type": "object",
			"properties": props, "required": required,
		}
	default:
		return map[string]any{"title": "Output"}
	}
}

// titleCase converts snake_case to Title Case, matching
// replicate-cog/pkg/schema/types.go's TitleCase (space-joined) -- used for
// a field's display "title".
func titleCase(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' })
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// titleCaseSingle capitalizes only the first letter, matching
// replicate-cog/pkg/schema/types.go's TitleCaseSingle -- used for the enum
// schema name that also doubles as a $ref component, which can't contain
// spaces.
func titleCaseSingle(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// validateDoc round-trips the document through kin-openapi to confirm it
// parses as a well-formed OpenAPI 3 document before it's written to disk.
func validateDoc(doc map[string]any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("openapi: marshal: %w", err)
	}
	loader := openapi3.NewLoader()
	if _, err := loader.LoadFromData(b); err != nil {
		return fmt.Errorf("openapi: generated document failed validation: %w", err)
	}
	return nil
}
