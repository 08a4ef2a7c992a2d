package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Type is the declared type of a function or workflow parameter.
type Type string

const (
	Boolean  Type = "boolean"
	Date     Type = "date"
	DateTime Type = "datetime"
	File     Type = "file"
	Float    Type = "float"
	Integer  Type = "integer"
	JSON     Type = "json"
	String   Type = "string"
	Text     Type = "text"
)

const (
	DateFormat     = "2006-01-02"
	DateTimeFormat = "2006-01-02T15:04:05Z"
)

// Types lists every supported parameter type.
var Types = []Type{Boolean, Date, DateTime, File, Float, Integer, JSON, String, Text}

// Valid returns true if t is one of Types.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}

	return false
}

// Option is one enumerated choice for a parameter.
type Option struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Parameter is a single declared parameter. Default holds the stringified literal.
type Parameter struct {
	Name        string
	Type        Type
	Description string
	Required    bool
	Default     *string
	Options     []Option
}

// ValidationError reports every failing parameter by name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if existing, ok := e.Fields[field]; ok {
		message = existing + "; " + message
	}
	e.Fields[field] = message
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%v: %v", name, e.Fields[name]))
	}

	return "invalid parameters: " + strings.Join(parts, ", ")
}
