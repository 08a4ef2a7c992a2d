package v1

import (
	"time"

	"github.com/onepanelio/functionary/pkg/util/sql"
	"github.com/onepanelio/functionary/pkg/util/types"
)

type Build struct {
	ID            string    `db:"id"`
	EnvironmentID string    `db:"environment_id"`
	PackageID     *string   `db:"package_id"`
	Name          string    `db:"name"`
	Status        Status    `db:"status"`
	Creator       string    `db:"creator"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// getBuildColumns returns all of the columns for Build modified by alias, destination.
// see formatColumnSelect
func getBuildColumns(aliasAndDestination ...string) []string {
	columns := []string{"id", "environment_id", "package_id", "name", "status", "creator", "created_at", "updated_at"}
	return sql.FormatColumnSelect(columns, aliasAndDestination...)
}

// BuildResource holds what a build job needs. It is deleted once the build is terminal.
type BuildResource struct {
	BuildID                  string        `db:"build_id"`
	PackageContents          []byte        `db:"package_contents"`
	PackageDefinition        types.JSONRaw `db:"package_definition"`
	PackageDefinitionVersion string        `db:"package_definition_version"`
}

type BuildLog struct {
	BuildID string `db:"build_id"`
	Log     string `db:"log"`
}
