package v1

import (
	"github.com/onepanelio/functionary/pkg/util/sql"
)

// Variable is bound to exactly one of a team or an environment.
type Variable struct {
	ID            string  `db:"id"`
	EnvironmentID *string `db:"environment_id"`
	TeamID        *string `db:"team_id"`
	Name          string  `db:"name"`
	Value         string  `db:"value"`
	Description   *string `db:"description"`
	Protect       bool    `db:"protect"`
}

// getVariableColumns returns all of the columns for Variable modified by alias, destination.
// see formatColumnSelect
func getVariableColumns(aliasAndDestination ...string) []string {
	columns := []string{"id", "environment_id", "team_id", "name", "value", "description", "protect"}
	return sql.FormatColumnSelect(columns, aliasAndDestination...)
}
