package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v5"
)

// ResponseSchema is a strict structured-output schema and the validator
// compiled from the same document. Doc is what the model is sent; Validate
// checks what comes back.
type ResponseSchema struct {
	Name      string
	Doc       map[string]any
	validator *jsv.Schema
}

// NewResponseSchema reflects T, closes every object in it and compiles the
// result.
func NewResponseSchema[T any](name string) (*ResponseSchema, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var zero T
	raw, err := json.Marshal(reflector.Reflect(zero))
	if err != nil {
		return nil, fmt.Errorf("NewResponseSchema: reflect %s: %w", name, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("NewResponseSchema: reflect %s: %w", name, err)
	}
	closeObjects(doc)

	strict, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("NewResponseSchema: marshal %s: %w", name, err)
	}
	url := name + ".schema.json"
	compiler := jsv.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(strict)); err != nil {
		return nil, fmt.Errorf("NewResponseSchema: add %s: %w", name, err)
	}
	validator, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("NewResponseSchema: compile %s: %w", name, err)
	}
	return &ResponseSchema{Name: name, Doc: doc, validator: validator}, nil
}

// Validate checks a decoded JSON value against the schema.
func (s *ResponseSchema) Validate(v any) error {
	return s.validator.Validate(v)
}

// closeObjects walks every subschema reachable through properties, items and
// additionalProperties. Objects get additionalProperties=false and every
// property required, sorted by name.
func closeObjects(root map[string]any) {
	pending := []map[string]any{root}
	for len(pending) > 0 {
		node := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		props, _ := node["properties"].(map[string]any)
		if node["type"] == "object" {
			node["additionalProperties"] = false
			if len(props) > 0 {
				node["required"] = slices.Sorted(maps.Keys(props))
			}
		}
		for _, p := range props {
			if sub, ok := p.(map[string]any); ok {
				pending = append(pending, sub)
			}
		}
		for _, key := range []string{"items", "additionalProperties"} {
			if sub, ok := node[key].(map[string]any); ok {
				pending = append(pending, sub)
			}
		}
	}
}
