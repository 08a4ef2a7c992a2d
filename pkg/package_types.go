package v1

import (
	"time"

	"github.com/lib/pq"
	"github.com/onepanelio/functionary/pkg/util/sql"
)

// PackageStatus is the lifecycle state of a Package.
// PENDING -> COMPLETE is set by a build, ENABLED and DISABLED are chosen by users afterwards.
type PackageStatus string

const (
	PackagePending  PackageStatus = "PENDING"
	PackageComplete PackageStatus = "COMPLETE"
	PackageEnabled  PackageStatus = "ENABLED"
	PackageDisabled PackageStatus = "DISABLED"
)

// Runnable returns true if tasks may be created for the functions of a package in this state.
func (s PackageStatus) Runnable() bool {
	return s == PackageComplete || s == PackageEnabled
}

type Package struct {
	ID            string        `db:"id"`
	EnvironmentID string        `db:"environment_id"`
	Name          string        `db:"name"`
	DisplayName   *string       `db:"display_name"`
	Summary       *string       `db:"summary"`
	Description   *string       `db:"description"`
	Language      string        `db:"language"`
	ImageName     string        `db:"image_name"`
	Status        PackageStatus `db:"status"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
	Functions     []*Function   `db:"-"`
}

// FullImageName is the image reference runners pull.
func (p *Package) FullImageName(registry string) string {
	if registry == "" {
		return p.ImageName
	}

	return registry + "/" + p.ImageName
}

// getPackageColumns returns all of the columns for Package modified by alias, destination.
// see formatColumnSelect
func getPackageColumns(aliasAndDestination ...string) []string {
	columns := []string{"id", "environment_id", "name", "display_name", "summary", "description", "language", "image_name", "status", "created_at", "updated_at"}
	return sql.FormatColumnSelect(columns, aliasAndDestination...)
}

// Function is a callable within a Package.
type Function struct {
	ID            string         `db:"id"`
	PackageID     string         `db:"package_id"`
	EnvironmentID string         `db:"environment_id"`
	Name          string         `db:"name"`
	DisplayName   *string        `db:"display_name"`
	Summary       *string        `db:"summary"`
	Description   *string        `db:"description"`
	ReturnType    *string        `db:"return_type"`
	Variables     pq.StringArray `db:"variables"`
	Active        bool           `db:"active"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	Parameters    []*Parameter   `db:"-"`
	Package       *Package       `db:"package"`
}

// getFunctionColumns returns all of the columns for Function modified by alias, destination.
// see formatColumnSelect
func getFunctionColumns(aliasAndDestination ...string) []string {
	columns := []string{"id", "package_id", "environment_id", "name", "display_name", "summary", "description", "return_type", "variables", "active", "created_at", "updated_at"}
	return sql.FormatColumnSelect(columns, aliasAndDestination...)
}
