package validation

import (
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/resolver/pkg/schema"
)

const (
	varsSchemaURL         = "https://resolver.rendis.dev/schemas/vars.json"
	instructionsSchemaURL = "https://resolver.rendis.dev/schemas/msgs.json"
)

// varsSchemaJSON is the JSON Schema for a serialized variable list.
// Embedded as a constant to avoid filesystem dependencies.
const varsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://resolver.rendis.dev/schemas/vars.json",
  "type": "array",
  "items": { "$ref": "#/$defs/variable" },
  "$defs": {
    "variable": {
      "type": "object",
      "minProperties": 1,
      "maxProperties": 1,
      "properties": {
        "static": {
          "allOf": [{ "$ref": "#/$defs/base" }],
          "required": ["init_fn"],
          "properties": { "init_fn": { "$ref": "#/$defs/operand" } }
        },
        "external": {
          "allOf": [{ "$ref": "#/$defs/base" }],
          "required": ["init_fn"],
          "properties": {
            "init_fn": {
              "type": "object",
              "required": ["url", "selector"],
              "properties": {
                "url": { "type": "string", "format": "uri" },
                "method": { "type": "string", "enum": ["GET", "POST", "get", "post", ""] },
                "headers": { "type": "object", "additionalProperties": { "type": "string" } },
                "body": { "type": "string" },
                "selector": { "type": "string" }
              },
              "additionalProperties": false
            }
          }
        },
        "query": {
          "allOf": [{ "$ref": "#/$defs/base" }],
          "required": ["init_fn"],
          "properties": {
            "init_fn": {
              "type": "object",
              "required": ["selector", "query"],
              "properties": {
                "selector": { "type": "string" },
                "query": { "type": ["object", "array"] }
              },
              "additionalProperties": false
            }
          }
        }
      },
      "additionalProperties": false
    },
    "base": {
      "type": "object",
      "required": ["name", "kind"],
      "properties": {
        "name": { "type": "string", "pattern": "^[A-Za-z0-9_-]+$" },
        "kind": {
          "type": "string",
          "enum": ["string", "uint", "int", "decimal", "bool", "amount", "asset", "timestamp", "block_height", "json"]
        },
        "encode": { "type": "boolean" },
        "reinitialize": { "type": "boolean" },
        "value": { "type": ["string", "null"] },
        "update_fn": {
          "type": "object",
          "properties": {
            "on_success": { "$ref": "#/$defs/operand" },
            "on_error": { "$ref": "#/$defs/operand" }
          },
          "additionalProperties": false
        },
        "init_fn": true
      },
      "additionalProperties": false
    },
    "operand": {
      "type": ["string", "number", "boolean", "object"]
    }
  }
}`

// instructionsSchemaJSON is the JSON Schema for a hydrated instruction list:
// a non-empty array of single-key message objects.
const instructionsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://resolver.rendis.dev/schemas/msgs.json",
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "minProperties": 1,
    "maxProperties": 1,
    "propertyNames": { "pattern": "^[a-z][a-z0-9_]*$" }
  }
}`

// JSONSchemaValidator checks serialized job fields against JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	varsSchema         *jsonschema.Schema
	instructionsSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with both schemas pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	for url, text := range map[string]string{
		varsSchemaURL:         varsSchemaJSON,
		instructionsSchemaURL: instructionsSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	vars, err := c.Compile(varsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile vars schema: %w", err)
	}
	msgs, err := c.Compile(instructionsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile msgs schema: %w", err)
	}

	return &JSONSchemaValidator{varsSchema: vars, instructionsSchema: msgs}, nil
}

// ValidateVariables checks a serialized variable list.
func (v *JSONSchemaValidator) ValidateVariables(text string) error {
	return validateText(v.varsSchema, text, schema.ErrCodeInvalidVariables)
}

// ValidateInstructions checks a serialized instruction list. Placeholders must
// already be replaced.
func (v *JSONSchemaValidator) ValidateInstructions(text string) error {
	return validateText(v.instructionsSchema, text, schema.ErrCodeInvalidInstructions)
}

func validateText(s *jsonschema.Schema, text, code string) error {
	// UnmarshalJSON keeps numbers as json.Number, as the library requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return schema.NewErrorf(code, "input is not valid JSON: %s", err.Error()).WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toResolverError(err, code)
	}
	return nil
}

// toResolverError converts a jsonschema.ValidationError into a ResolverError
// listing every leaf violation.
func toResolverError(err error, code string) *schema.ResolverError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(code, err.Error()).WithCause(err)
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(code, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(code, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("schema validation failed with %d errors", len(violations))
	return schema.NewError(code, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
