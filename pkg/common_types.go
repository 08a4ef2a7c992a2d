package v1

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/onepanelio/functionary/pkg/schema"
	"github.com/onepanelio/functionary/pkg/util/sql"
)

// Status is the lifecycle state of tasks, workflow runs and builds.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusComplete   Status = "COMPLETE"
	StatusError      Status = "ERROR"
)

// Terminal returns true once no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// ParameterOptions is the JSONB list of enumerated choices of a parameter.
type ParameterOptions []schema.Option

func (o ParameterOptions) Value() (driver.Value, error) {
	if o == nil {
		return []byte("[]"), nil
	}

	return json.Marshal([]schema.Option(o))
}

func (o *ParameterOptions) Scan(src interface{}) error {
	var source []byte
	switch t := src.(type) {
	case nil:
		*o = ParameterOptions{}
		return nil
	case string:
		source = []byte(t)
	case []byte:
		source = t
	default:
		return errors.New("incompatible type for ParameterOptions")
	}

	return json.Unmarshal(source, o)
}

// Parameter is a declared parameter of a Function or a Workflow.
type Parameter struct {
	ID          string           `db:"id"`
	Name        string           `db:"name"`
	DisplayName *string          `db:"display_name"`
	Description *string          `db:"description"`
	Type        schema.Type      `db:"parameter_type"`
	Required    bool             `db:"required"`
	Default     *string          `db:"default_value"`
	Options     ParameterOptions `db:"options"`
}

func (p *Parameter) schemaParameter() schema.Parameter {
	description := ""
	if p.Description != nil {
		description = *p.Description
	}

	return schema.Parameter{
		Name:        p.Name,
		Type:        p.Type,
		Description: description,
		Required:    p.Required,
		Default:     p.Default,
		Options:     p.Options,
	}
}

// parametersSchema compiles the parameter schema titled title.
func parametersSchema(title string, parameters []*Parameter) (*schema.Schema, error) {
	params := make([]schema.Parameter, 0, len(parameters))
	for _, p := range parameters {
		params = append(params, p.schemaParameter())
	}

	return schema.New(title, params)
}

// getParameterColumns returns all of the columns for Parameter modified by alias, destination.
// see formatColumnSelect
func getParameterColumns(aliasAndDestination ...string) []string {
	columns := []string{"id", "name", "display_name", "description", "parameter_type", "required", "default_value", "options"}
	return sql.FormatColumnSelect(columns, aliasAndDestination...)
}

func newID() string {
	return uuid.New().String()
}

func now() time.Time {
	return time.Now().UTC()
}
