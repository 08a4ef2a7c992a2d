package v1

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// logMask replaces protected variable values in task logs.
const logMask = "********"

// minMaskedLength is the length a protected value must exceed to be masked.
const minMaskedLength = 4

// getVariables returns the variables named names that are visible to the environment, one per name.
// A variable of the environment shadows a variable of its team with the same name.
func getVariables(q querier, environmentID string, names []string) ([]*Variable, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var variables []*Variable
	err := q.Selectx(&variables, sb.Select(getVariableColumns("v")...).
		From("variables v").
		Where(sq.Or{
			sq.Eq{"v.environment_id": environmentID},
			sq.Expr("v.team_id = (SELECT e.team_id FROM environments e WHERE e.id = ?)", environmentID),
		}).
		Where(sq.Eq{"v.name": names}))
	if err != nil {
		return nil, err
	}

	return shadowVariables(variables), nil
}

// shadowVariables keeps one variable per name, preferring environment variables, in first seen order.
func shadowVariables(variables []*Variable) []*Variable {
	byName := make(map[string]*Variable, len(variables))
	order := make([]string, 0, len(variables))
	for _, variable := range variables {
		existing, ok := byName[variable.Name]
		if !ok {
			order = append(order, variable.Name)
			byName[variable.Name] = variable
			continue
		}
		if existing.EnvironmentID == nil && variable.EnvironmentID != nil {
			byName[variable.Name] = variable
		}
	}

	result := make([]*Variable, 0, len(order))
	for _, name := range order {
		result = append(result, byName[name])
	}

	return result
}

// VariableValues maps variable names to values.
func VariableValues(variables []*Variable) map[string]string {
	values := make(map[string]string, len(variables))
	for _, variable := range variables {
		values[variable.Name] = variable.Value
	}

	return values
}

// MaskOutput replaces every occurrence of a protected variable value longer than four characters.
// Matching is case sensitive.
func MaskOutput(output string, variables []*Variable) string {
	for _, variable := range variables {
		if !variable.Protect || len(variable.Value) <= minMaskedLength {
			continue
		}
		output = strings.ReplaceAll(output, variable.Value, logMask)
	}

	return output
}
