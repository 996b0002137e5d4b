package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document for a
// single job definition from the Go JobConfig struct using invopop/jsonschema.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false
	r.RequiredFromJSONSchemaTags = true
	// Keys such as cache, tags or services are accepted and ignored.
	r.AllowAdditionalProperties = true

	s := r.Reflect(&JobConfig{})
	s.ID = "https://github.com/ormasoftchile/gclocal/schemas/job-v0.json"
	s.Title = "gclocal job definition"
	s.Description = "Schema for a flattened GitLab CI job definition as executed by gclocal"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// JSONSchema describes the string-or-list shape.
func (StringList) JSONSchema() *jsonschema.Schema {
	item := &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "array"},
			{Type: "object"},
		},
	}
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "array", Items: item},
		},
	}
}

// JSONSchema describes a variables block: scalar values or {value} mappings.
func (Variables) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		AdditionalProperties: &jsonschema.Schema{
			OneOf: []*jsonschema.Schema{
				{Type: "string"},
				{Type: "number"},
				{Type: "boolean"},
				{Type: "object"},
				{Type: "null"},
			},
		},
	}
}

// JSONSchema describes the image reference or {name, entrypoint} mapping.
func (Image) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string", MinLength: ptr(uint64(1))},
			{Type: "object", Required: []string{"name"}},
		},
	}
}

// JSONSchema describes the environment name or {name, url} mapping.
func (Environment) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "object", Required: []string{"name"}},
		},
	}
}

func ptr[T any](v T) *T { return &v }
