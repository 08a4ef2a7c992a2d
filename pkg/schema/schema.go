// Package schema derives a JSON schema from declared parameters and validates task inputs against it.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	schemaDraft    = "http://json-schema.org/draft-07/schema#"
	schemaResource = "parameters.json"
	recordField    = "__all__"
)

// Schema is the compiled parameter schema of a function or workflow.
type Schema struct {
	title      string
	parameters []Parameter
	document   map[string]interface{}
	compiled   *jsonschema.Schema
}

// New builds the schema document for parameters and compiles it.
func New(title string, parameters []Parameter) (*Schema, error) {
	document, err := buildDocument(title, parameters)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(document)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(schemaResource, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile parameter schema for %v: %w", title, err)
	}

	return &Schema{
		title:      title,
		parameters: parameters,
		document:   document,
		compiled:   compiled,
	}, nil
}

// Document returns the JSON schema describing the parameters.
func (s *Schema) Document() map[string]interface{} {
	return s.document
}

// MarshalJSON encodes the schema document.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.document)
}

// Parameter returns the declared parameter called name.
func (s *Schema) Parameter(name string) (Parameter, bool) {
	for _, p := range s.parameters {
		if p.Name == name {
			return p, true
		}
	}

	return Parameter{}, false
}

// Validate checks input against the declared parameters and returns the coerced record.
// Unknown fields are passed through as is. Missing optional fields are not filled in.
// Failures are reported together as a *ValidationError.
func (s *Schema) Validate(input map[string]interface{}) (map[string]interface{}, error) {
	report := &ValidationError{}
	record := make(map[string]interface{}, len(input))
	for key, value := range input {
		record[key] = value
	}

	for _, p := range s.parameters {
		value, ok := input[p.Name]
		if !ok || value == nil {
			if p.Required {
				report.add(p.Name, "field required")
			}
			delete(record, p.Name)
			continue
		}

		coerced, err := Coerce(p.Type, value)
		if err != nil {
			report.add(p.Name, err.Error())
			delete(record, p.Name)
			continue
		}
		record[p.Name] = coerced
	}

	if !report.empty() {
		return nil, report
	}

	instance, err := normalize(record)
	if err != nil {
		report.add(recordField, err.Error())
		return nil, report
	}

	if err := s.compiled.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		collect(report, ve)
		return nil, report
	}

	return record, nil
}

// normalize round trips v through JSON so the validator sees plain JSON values.
func normalize(v map[string]interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var result interface{}
	if err := decoder.Decode(&result); err != nil {
		return nil, err
	}

	return result, nil
}

func collect(report *ValidationError, ve *jsonschema.ValidationError) {
	if len(ve.Causes) == 0 {
		field := strings.TrimPrefix(ve.InstanceLocation, "/")
		if idx := strings.Index(field, "/"); idx >= 0 {
			field = field[:idx]
		}
		if field == "" {
			field = recordField
		}
		report.add(field, ve.Message)
		return
	}

	for _, cause := range ve.Causes {
		collect(report, cause)
	}
}

func buildDocument(title string, parameters []Parameter) (map[string]interface{}, error) {
	properties := make(map[string]interface{}, len(parameters))
	required := make([]string, 0)

	for _, p := range parameters {
		property, err := propertyFor(p)
		if err != nil {
			return nil, err
		}
		properties[p.Name] = property
		if p.Required {
			required = append(required, p.Name)
		}
	}

	document := map[string]interface{}{
		"$schema":              schemaDraft,
		"title":                title,
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		document["required"] = required
	}

	return document, nil
}

func propertyFor(p Parameter) (map[string]interface{}, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("parameter '%v' has unknown type '%v'", p.Name, p.Type)
	}

	property := typeProperty(p.Type)
	property["title"] = p.Name
	if p.Description != "" {
		property["description"] = p.Description
	}

	// Required parameters never carry a default.
	if p.Default != nil && !p.Required {
		value, err := CoerceLiteral(p.Type, *p.Default)
		if err != nil {
			return nil, fmt.Errorf("parameter '%v' default: %w", p.Name, err)
		}
		property["default"] = value
	}

	if len(p.Options) > 0 {
		values := make([]interface{}, 0, len(p.Options))
		for _, option := range p.Options {
			value, err := CoerceLiteral(p.Type, option.Value)
			if err != nil {
				return nil, fmt.Errorf("parameter '%v' option '%v': %w", p.Name, option.Name, err)
			}
			values = append(values, value)
		}
		property["enum"] = values
	}

	return property, nil
}

func typeProperty(t Type) map[string]interface{} {
	switch t {
	case Boolean:
		return map[string]interface{}{"type": "boolean"}
	case Date:
		return map[string]interface{}{"type": "string", "format": "date"}
	case DateTime:
		return map[string]interface{}{"type": "string", "format": "date-time"}
	case File:
		return map[string]interface{}{
			"anyOf": []interface{}{
				map[string]interface{}{"type": "string", "format": "uri"},
				map[string]interface{}{"type": "string", "contentMediaType": "application/octet-stream"},
			},
		}
	case Float:
		return map[string]interface{}{"type": "number"}
	case Integer:
		return map[string]interface{}{"type": "integer"}
	case JSON:
		return map[string]interface{}{}
	case Text:
		return map[string]interface{}{"type": "string", "contentMediaType": "text/plain"}
	}

	return map[string]interface{}{"type": "string"}
}
