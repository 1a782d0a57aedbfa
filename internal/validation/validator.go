// Package validation checks mutating API request bodies against JSON
// schemas before a handler touches them. Schemas are compiled once at
// startup; a body that fails here never reaches the registry or engine.
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names for the operator API's mutating requests.
const (
	SchemaCreateNode     = "create_node"
	SchemaSetEnabled     = "set_enabled"
	SchemaManualFailover = "manual_failover"
)

var schemaSources = map[string]string{
	SchemaCreateNode: `{
		"type": "object",
		"required": ["provider", "endpoint"],
		"additionalProperties": false,
		"properties": {
			"provider": {"type": "string", "minLength": 1, "maxLength": 64, "pattern": "^[a-z0-9][a-z0-9_-]*$"},
			"region":   {"type": "string", "maxLength": 64},
			"priority": {"type": "integer", "minimum": 0, "maximum": 1000},
			"enabled":  {"type": "boolean"},
			"endpoint": {"type": "string", "minLength": 1, "format": "uri"}
		}
	}`,
	SchemaSetEnabled: `{
		"type": "object",
		"required": ["enabled"],
		"additionalProperties": false,
		"properties": {
			"enabled": {"type": "boolean"}
		}
	}`,
	SchemaManualFailover: `{
		"type": "object",
		"required": ["to_provider"],
		"additionalProperties": false,
		"properties": {
			"to_provider": {"type": "string", "minLength": 1, "maxLength": 64}
		}
	}`,
}

// ValidationError carries every violation found in one body so the caller
// can report them all at once.
type ValidationError struct {
	Schema   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Schema, strings.Join(e.Problems, "; "))
}

// Validator holds the compiled request schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// New compiles every schema. Compilation failure is a programming error
// and surfaces at startup, not per request.
func New() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(schemaSources))}
	for name, src := range schemaSources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

// ValidateBody checks a raw JSON body against the named schema.
func (v *Validator) ValidateBody(schemaName string, body []byte) error {
	schema, ok := v.schemas[schemaName]
	if !ok {
		return fmt.Errorf("unknown schema %q", schemaName)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &ValidationError{Schema: schemaName, Problems: []string{"body is not valid JSON"}}
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &ValidationError{Schema: schemaName, Problems: problems}
}
