// Package schema generates JSON Schemas from Go types for structured
// output requests.
package schema

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Reflector is configured for structured-output schemas. DoNotReference
// inlines all definitions to avoid $ref, which upstream APIs reject.
var Reflector = &jsonschema.Reflector{
	DoNotReference: true,
}

// Generate creates a JSON Schema from a Go type. The type should be a
// struct with json and jsonschema tags.
//
// Example:
//
//	type NoteTitle struct {
//	    Title string `json:"title" jsonschema:"required,description=Suggested note title"`
//	}
//
//	raw, err := schema.Generate[NoteTitle]()
func Generate[T any]() (json.RawMessage, error) {
	var zero T
	return json.Marshal(Reflector.Reflect(&zero))
}

// FromValue creates a JSON Schema from a value's type. Used when the caller
// hands over an instance rather than a type parameter.
func FromValue(v any) (json.RawMessage, error) {
	return json.Marshal(Reflector.Reflect(v))
}

// MustGenerate is like Generate but panics on error. Useful for
// package-level schema definitions.
func MustGenerate[T any]() json.RawMessage {
	raw, err := Generate[T]()
	if err != nil {
		panic(err)
	}
	return raw
}

// RequireAll rewrites the schema so every property is required, recursing
// into nested objects and array items. Strict structured-output modes
// demand that all properties appear in the required array.
func RequireAll(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(raw, &schemaMap); err != nil {
		return raw
	}

	requireAllRecursive(schemaMap)

	out, err := json.Marshal(schemaMap)
	if err != nil {
		return raw
	}
	return out
}

func requireAllRecursive(schemaMap map[string]any) {
	props, ok := schemaMap["properties"].(map[string]any)
	if !ok {
		return
	}

	required := make([]string, 0, len(props))
	for key := range props {
		required = append(required, key)
	}
	schemaMap["required"] = required

	for _, val := range props {
		propMap, ok := val.(map[string]any)
		if !ok {
			continue
		}
		if propMap["type"] == "object" {
			requireAllRecursive(propMap)
		}
		if items, ok := propMap["items"].(map[string]any); ok && items["type"] == "object" {
			requireAllRecursive(items)
		}
	}
}
