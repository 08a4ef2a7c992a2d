package v1

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/onepanelio/functionary/pkg/util"
	"github.com/onepanelio/functionary/pkg/util/pagination"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
)

func packagesSelectBuilder(environmentID string) sq.SelectBuilder {
	return sb.Select(getPackageColumns("p")...).
		From("packages p").
		Where(sq.Eq{"p.environment_id": environmentID})
}

func getPackage(q querier, environmentID, id string) (*Package, error) {
	pkg := &Package{}
	err := q.Getx(pkg, packagesSelectBuilder(environmentID).Where(sq.Eq{"p.id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NewUserError(codes.NotFound, "Package not found.")
	}
	if err != nil {
		return nil, err
	}

	return pkg, nil
}

// GetPackage returns the package with its functions.
func (c *Client) GetPackage(scope Scope, id string) (*Package, error) {
	if err := c.authorize(scope, ActionRead, ResourcePackage); err != nil {
		return nil, err
	}

	pkg, err := getPackage(c.DB, scope.EnvironmentID, id)
	if err != nil {
		return nil, err
	}

	err = c.Selectx(&pkg.Functions, sb.Select(getFunctionColumns("f")...).
		From("functions f").
		Where(sq.Eq{
			"f.package_id":     pkg.ID,
			"f.environment_id": scope.EnvironmentID,
		}).
		OrderBy("f.name"))
	if err != nil {
		return nil, err
	}

	return pkg, nil
}

// ListPackages returns the packages of the environment ordered by name.
func (c *Client) ListPackages(scope Scope, paginator *pagination.PaginationRequest) (packages []*Package, err error) {
	if err = c.authorize(scope, ActionRead, ResourcePackage); err != nil {
		return nil, err
	}

	query := packagesSelectBuilder(scope.EnvironmentID).OrderBy("p.name")
	query = paginator.ApplyToSelect(query)

	err = c.Selectx(&packages, query)

	return
}

// SetPackageEnabled moves a built package to ENABLED or DISABLED. Schedules of the package functions
// are paused while the package is disabled and resumed when it is enabled again.
func (c *Client) SetPackageEnabled(ctx context.Context, scope Scope, id string, enabled bool) (*Package, error) {
	if err := c.authorize(scope, ActionUpdate, ResourcePackage); err != nil {
		return nil, err
	}

	var pkg *Package
	err := c.Transaction(ctx, func(tx *Tx) (err error) {
		pkg, err = getPackage(tx, scope.EnvironmentID, id)
		if err != nil {
			return err
		}
		if pkg.Status == PackagePending {
			return util.NewUserError(codes.FailedPrecondition, "Package has not been built yet.")
		}

		status := PackageDisabled
		if enabled {
			status = PackageEnabled
		}
		if pkg.Status == status {
			return nil
		}

		_, err = tx.Execx(sb.Update("packages").
			SetMap(sq.Eq{
				"status":     status,
				"updated_at": now(),
			}).
			Where(sq.Eq{"id": pkg.ID}))
		if err != nil {
			return err
		}
		pkg.Status = status

		var functionIDs []string
		err = tx.Selectx(&functionIDs, sb.Select("f.id").
			From("functions f").
			Where(sq.Eq{
				"f.package_id": pkg.ID,
				"f.active":     true,
			}))
		if err != nil {
			return err
		}
		if enabled {
			return transitionScheduledTasks(tx, functionIDs, ScheduledTaskPaused, ScheduledTaskActive)
		}

		return transitionScheduledTasks(tx, functionIDs, ScheduledTaskActive, ScheduledTaskPaused)
	})
	if err != nil {
		log.WithFields(log.Fields{
			"EnvironmentID": scope.EnvironmentID,
			"PackageID":     id,
			"Enabled":       enabled,
			"Error":         err.Error(),
		}).Error("SetPackageEnabled failed.")
		return nil, err
	}

	return pkg, nil
}
