package v1

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/onepanelio/functionary/pkg/schema"
	"github.com/onepanelio/functionary/pkg/util"
	"github.com/onepanelio/functionary/pkg/util/pagination"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
)

// functionsSelectBuilder selects functions of an environment together with their package.
func functionsSelectBuilder(environmentID string) sq.SelectBuilder {
	return sb.Select(getFunctionColumns("f")...).
		Columns(getPackageColumns("p", "package")...).
		From("functions f").
		Join("packages p ON p.id = f.package_id").
		Where(sq.Eq{"f.environment_id": environmentID})
}

func getFunctionParameters(q querier, functionID string) (parameters []*Parameter, err error) {
	err = q.Selectx(&parameters, sb.Select(getParameterColumns("fp")...).
		From("function_parameters fp").
		Where(sq.Eq{"fp.function_id": functionID}).
		OrderBy("fp.name"))

	return
}

// getFunction loads a function of the environment with its package and parameters.
func getFunction(q querier, environmentID string, where sq.Sqlizer) (*Function, error) {
	function := &Function{}
	err := q.Getx(function, functionsSelectBuilder(environmentID).Where(where))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NewUserError(codes.NotFound, "Function not found.")
	}
	if err != nil {
		return nil, err
	}

	function.Parameters, err = getFunctionParameters(q, function.ID)
	if err != nil {
		return nil, err
	}

	return function, nil
}

func getFunctionByID(q querier, environmentID, id string) (*Function, error) {
	return getFunction(q, environmentID, sq.Eq{"f.id": id})
}

func getFunctionByName(q querier, environmentID, packageName, functionName string) (*Function, error) {
	return getFunction(q, environmentID, sq.Eq{
		"p.name": packageName,
		"f.name": functionName,
	})
}

// Runnable returns nil if tasks may be created for f.
func (f *Function) Runnable() error {
	if !f.Active {
		return util.NewUserErrorf(codes.FailedPrecondition, "Function %v is not active.", f.Name)
	}
	if f.Package != nil && !f.Package.Status.Runnable() {
		return util.NewUserErrorf(codes.FailedPrecondition, "Package %v is %v.", f.Package.Name, f.Package.Status)
	}

	return nil
}

// Schema compiles the parameter schema of f.
func (f *Function) Schema() (*schema.Schema, error) {
	return parametersSchema(f.Name, f.Parameters)
}

func (c *Client) GetFunction(scope Scope, id string) (*Function, error) {
	if err := c.authorize(scope, ActionRead, ResourceFunction); err != nil {
		return nil, err
	}

	return getFunctionByID(c.DB, scope.EnvironmentID, id)
}

// GetFunctionByName finds a function by the name of its package and its own name.
func (c *Client) GetFunctionByName(scope Scope, packageName, functionName string) (*Function, error) {
	if err := c.authorize(scope, ActionRead, ResourceFunction); err != nil {
		return nil, err
	}

	return getFunctionByName(c.DB, scope.EnvironmentID, packageName, functionName)
}

// ListFunctions lists the functions of the environment, or of one package when packageID is set.
func (c *Client) ListFunctions(scope Scope, packageID string, paginator *pagination.PaginationRequest) (functions []*Function, err error) {
	if err = c.authorize(scope, ActionRead, ResourceFunction); err != nil {
		return nil, err
	}

	query := functionsSelectBuilder(scope.EnvironmentID).OrderBy("p.name", "f.name")
	if packageID != "" {
		query = query.Where(sq.Eq{"f.package_id": packageID})
	}
	query = paginator.ApplyToSelect(query)

	err = c.Selectx(&functions, query)

	return
}

// SetFunctionActive activates or deactivates a function. Deactivation pauses the active schedules
// of the function, activation resumes them. A function of a disabled package can not be activated.
func (c *Client) SetFunctionActive(ctx context.Context, scope Scope, id string, active bool) (*Function, error) {
	if err := c.authorize(scope, ActionUpdate, ResourceFunction); err != nil {
		return nil, err
	}

	var function *Function
	err := c.Transaction(ctx, func(tx *Tx) (err error) {
		function, err = getFunctionByID(tx, scope.EnvironmentID, id)
		if err != nil {
			return err
		}
		if active && function.Package.Status == PackageDisabled {
			return util.NewUserErrorf(codes.FailedPrecondition, "Package %v is disabled.", function.Package.Name)
		}
		if function.Active == active {
			return nil
		}

		return setFunctionActive(tx, function, active)
	})
	if err != nil {
		log.WithFields(log.Fields{
			"EnvironmentID": scope.EnvironmentID,
			"FunctionID":    id,
			"Active":        active,
			"Error":         err.Error(),
		}).Error("SetFunctionActive failed.")
		return nil, err
	}

	return function, nil
}

func setFunctionActive(tx *Tx, function *Function, active bool) error {
	_, err := tx.Execx(sb.Update("functions").
		SetMap(sq.Eq{
			"active":     active,
			"updated_at": now(),
		}).
		Where(sq.Eq{"id": function.ID}))
	if err != nil {
		return err
	}
	function.Active = active

	if active {
		return transitionScheduledTasks(tx, []string{function.ID}, ScheduledTaskPaused, ScheduledTaskActive)
	}

	return transitionScheduledTasks(tx, []string{function.ID}, ScheduledTaskActive, ScheduledTaskPaused)
}
