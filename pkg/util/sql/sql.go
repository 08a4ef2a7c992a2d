package sql

import (
	"fmt"
	"strings"
)

// FormatColumnSelect returns column names for a SQL select, optionally prefixed with an alias and assigned to a destination.
//
// aliasAndDestination accepts an alias followed by a destination. Further arguments are ignored.
//
// Example - alias, no destination.
// Input: ([id, name], "t")
// Output: [t.id, t.name]
//
// Example - with alias, destination
// Input: ([id, name], "f", "function")
// Output: [f.id "function.id", f.name "function.name"]
func FormatColumnSelect(columns []string, aliasAndDestination ...string) []string {
	alias := ""
	destination := ""

	if len(aliasAndDestination) > 0 {
		alias = aliasAndDestination[0]
	}

	if len(aliasAndDestination) > 1 {
		destination = aliasAndDestination[1]
	}

	results := make([]string, 0, len(columns))
	for _, column := range columns {
		var sb strings.Builder
		if alias != "" {
			sb.WriteString(alias)
			sb.WriteString(".")
		}
		sb.WriteString(column)

		if destination != "" {
			sb.WriteString(fmt.Sprintf(` "%v.%v"`, destination, column))
		}

		results = append(results, sb.String())
	}

	return results
}
