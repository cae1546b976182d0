package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
)

var toolSchemaReflector = jsonschema.Reflector{
	DoNotReference:            true,
	AllowAdditionalProperties: false,
}

// ToolSchema is the object schema of a tool's arguments. Every property is a
// string because ToolCall arguments are string to string.
type ToolSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required,omitempty"`
}

// ArgumentNames returns the declared argument names in sorted order.
func (s ToolSchema) ArgumentNames() []string {
	return slices.Sorted(maps.Keys(s.Properties))
}

// Missing lists required arguments absent from args, in declaration order.
func (s ToolSchema) Missing(args map[string]string) []string {
	var missing []string
	for _, key := range s.Required {
		if _, ok := args[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// NewToolSpecFromStruct reflects argsStruct into a ToolSpec. Fields must be
// strings.
func NewToolSpecFromStruct(name, description string, argsStruct any) (ToolSpec, error) {
	target, err := reflectionTarget(argsStruct)
	if err != nil {
		return ToolSpec{}, err
	}

	raw, err := json.Marshal(toolSchemaReflector.Reflect(target))
	if err != nil {
		return ToolSpec{}, fmt.Errorf("marshal generated tool schema: %w", err)
	}
	schema, err := DecodeToolJSONSchema(raw)
	if err != nil {
		return ToolSpec{}, err
	}
	for _, key := range schema.ArgumentNames() {
		prop, _ := schema.Properties[key].(map[string]any)
		if prop["type"] != "string" {
			return ToolSpec{}, fmt.Errorf("%w: argument %q of %s must be a string", ErrInvalidRequest, key, name)
		}
	}

	normalized, err := json.Marshal(schema)
	if err != nil {
		return ToolSpec{}, fmt.Errorf("marshal normalized tool schema: %w", err)
	}
	return ToolSpec{Name: name, Description: description, Schema: normalized}, nil
}

func reflectionTarget(argsStruct any) (any, error) {
	t := reflect.TypeOf(argsStruct)
	if t == nil {
		return nil, fmt.Errorf("%w: schema struct is nil", ErrInvalidRequest)
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: schema struct must be a struct or pointer to struct", ErrInvalidRequest)
	}
	return reflect.New(t).Interface(), nil
}

// DecodeToolJSONSchema parses a tool schema. Empty input is an object schema
// with no arguments.
func DecodeToolJSONSchema(raw json.RawMessage) (ToolSchema, error) {
	schema := ToolSchema{Type: "object", Properties: map[string]any{}}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return schema, nil
	}

	if err := json.Unmarshal(trimmed, &schema); err != nil {
		return ToolSchema{}, fmt.Errorf("%w: invalid tool schema json", ErrInvalidRequest)
	}
	if strings.TrimSpace(schema.Type) == "" {
		schema.Type = "object"
	}
	if schema.Type != "object" {
		return ToolSchema{}, fmt.Errorf("%w: tool schema type must be object", ErrInvalidRequest)
	}
	if schema.Properties == nil {
		schema.Properties = map[string]any{}
	}
	return schema, nil
}
