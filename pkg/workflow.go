package v1

import (
	"context"
	"database/sql"
	"errors"
	"regexp"

	sq "github.com/Masterminds/squirrel"
	"github.com/onepanelio/functionary/pkg/schema"
	"github.com/onepanelio/functionary/pkg/template"
	"github.com/onepanelio/functionary/pkg/util"
	"github.com/onepanelio/functionary/pkg/util/pagination"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
)

// namePattern is the allowed form of step and parameter names.
var namePattern = regexp.MustCompile(`^\w+$`)

func workflowsSelectBuilder(environmentID string) sq.SelectBuilder {
	return sb.Select(getWorkflowColumns("w")...).
		From("workflows w").
		Where(sq.Eq{"w.environment_id": environmentID})
}

func getWorkflow(q querier, environmentID, id string) (*Workflow, error) {
	workflow := &Workflow{}
	err := q.Getx(workflow, workflowsSelectBuilder(environmentID).Where(sq.Eq{"w.id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NewUserError(codes.NotFound, "Workflow not found.")
	}
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

func getWorkflowParameters(q querier, workflowID string) (parameters []*Parameter, err error) {
	err = q.Selectx(&parameters, sb.Select(getParameterColumns("wp")...).
		From("workflow_parameters wp").
		Where(sq.Eq{"wp.workflow_id": workflowID}).
		OrderBy("wp.name"))

	return
}

// getWorkflowSteps returns the steps of a workflow in execution order.
// lock takes row locks so a chain edit sees the steps it writes.
func getWorkflowSteps(q querier, workflowID string, lock bool) ([]*WorkflowStep, error) {
	query := sb.Select(getWorkflowStepColumns("ws")...).
		From("workflow_steps ws").
		Where(sq.Eq{"ws.workflow_id": workflowID}).
		OrderBy("ws.name")
	if lock {
		query = query.Suffix("FOR UPDATE")
	}

	var steps []*WorkflowStep
	if err := q.Selectx(&steps, query); err != nil {
		return nil, err
	}

	return orderSteps(steps)
}

// workflowSchema compiles the run parameter schema of a workflow.
func workflowSchema(workflow *Workflow) (*schema.Schema, error) {
	return parametersSchema(workflow.Name, workflow.Parameters)
}

func (c *Client) CreateWorkflow(ctx context.Context, scope Scope, name, description string) (*Workflow, error) {
	if err := c.authorize(scope, ActionCreate, ResourceWorkflow); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, util.NewUserError(codes.InvalidArgument, "Workflow name is required.")
	}

	createdAt := now()
	workflow := &Workflow{
		ID:            newID(),
		EnvironmentID: scope.EnvironmentID,
		Name:          name,
		Creator:       scope.Principal,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	if description != "" {
		workflow.Description = &description
	}

	err := c.Transaction(ctx, func(tx *Tx) error {
		_, err := tx.Execx(sb.Insert("workflows").
			SetMap(sq.Eq{
				"id":             workflow.ID,
				"environment_id": workflow.EnvironmentID,
				"name":           workflow.Name,
				"description":    workflow.Description,
				"creator":        workflow.Creator,
				"created_at":     workflow.CreatedAt,
				"updated_at":     workflow.UpdatedAt,
			}))
		if err != nil {
			return util.NewUserErrorWrap(err, "Workflow")
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// GetWorkflow returns a workflow with its parameters and its steps in execution order.
func (c *Client) GetWorkflow(scope Scope, id string) (*Workflow, error) {
	if err := c.authorize(scope, ActionRead, ResourceWorkflow); err != nil {
		return nil, err
	}

	return loadWorkflow(c.DB, scope.EnvironmentID, id, false)
}

func loadWorkflow(q querier, environmentID, id string, lock bool) (workflow *Workflow, err error) {
	workflow, err = getWorkflow(q, environmentID, id)
	if err != nil {
		return nil, err
	}

	workflow.Parameters, err = getWorkflowParameters(q, workflow.ID)
	if err != nil {
		return nil, err
	}

	workflow.Steps, err = getWorkflowSteps(q, workflow.ID, lock)
	if err != nil {
		log.WithFields(log.Fields{
			"EnvironmentID": environmentID,
			"WorkflowID":    id,
			"Error":         err.Error(),
		}).Error("Workflow steps are inconsistent.")
		return nil, err
	}

	return workflow, nil
}

func (c *Client) ListWorkflows(scope Scope, paginator *pagination.PaginationRequest) (workflows []*Workflow, err error) {
	if err = c.authorize(scope, ActionRead, ResourceWorkflow); err != nil {
		return nil, err
	}

	query := workflowsSelectBuilder(scope.EnvironmentID).OrderBy("w.name")
	query = paginator.ApplyToSelect(query)

	err = c.Selectx(&workflows, query)

	return
}

// AddWorkflowParameter declares a run parameter. The parameter set must still compile into a schema.
func (c *Client) AddWorkflowParameter(ctx context.Context, scope Scope, workflowID string, parameter *Parameter) (*Parameter, error) {
	if err := c.authorize(scope, ActionUpdate, ResourceWorkflow); err != nil {
		return nil, err
	}
	if !namePattern.MatchString(parameter.Name) {
		return nil, util.NewUserErrorf(codes.InvalidArgument, "Parameter name %q may only contain letters, digits and underscores.", parameter.Name)
	}

	err := c.Transaction(ctx, func(tx *Tx) error {
		workflow, err := getWorkflow(tx, scope.EnvironmentID, workflowID)
		if err != nil {
			return err
		}
		workflow.Parameters, err = getWorkflowParameters(tx, workflow.ID)
		if err != nil {
			return err
		}

		workflow.Parameters = append(workflow.Parameters, parameter)
		if _, err := workflowSchema(workflow); err != nil {
			return util.NewUserError(codes.InvalidArgument, err.Error())
		}

		parameter.ID = newID()
		_, err = tx.Execx(sb.Insert("workflow_parameters").
			SetMap(sq.Eq{
				"id":             parameter.ID,
				"workflow_id":    workflow.ID,
				"name":           parameter.Name,
				"display_name":   parameter.DisplayName,
				"description":    parameter.Description,
				"parameter_type": parameter.Type,
				"required":       parameter.Required,
				"default_value":  parameter.Default,
				"options":        parameter.Options,
			}))
		if err != nil {
			return util.NewUserErrorWrap(err, "Workflow parameter")
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return parameter, nil
}

func (c *Client) RemoveWorkflowParameter(ctx context.Context, scope Scope, workflowID, name string) error {
	if err := c.authorize(scope, ActionUpdate, ResourceWorkflow); err != nil {
		return err
	}

	return c.Transaction(ctx, func(tx *Tx) error {
		workflow, err := getWorkflow(tx, scope.EnvironmentID, workflowID)
		if err != nil {
			return err
		}

		result, err := tx.Execx(sb.Delete("workflow_parameters").
			Where(sq.Eq{
				"workflow_id": workflow.ID,
				"name":        name,
			}))
		if err != nil {
			return err
		}
		if rows, err := result.RowsAffected(); err == nil && rows == 0 {
			return util.NewUserError(codes.NotFound, "Workflow parameter not found.")
		}

		return nil
	})
}

// AddWorkflowStep inserts a step before request.NextID, or at the end of the chain.
func (c *Client) AddWorkflowStep(ctx context.Context, scope Scope, workflowID string, request *AddWorkflowStepRequest) (*WorkflowStep, error) {
	if err := c.authorize(scope, ActionUpdate, ResourceWorkflow); err != nil {
		return nil, err
	}
	if !namePattern.MatchString(request.Name) {
		return nil, util.NewUserErrorf(codes.InvalidArgument, "Step name %q may only contain letters, digits and underscores.", request.Name)
	}
	if _, err := template.References(request.ParameterTemplate); err != nil {
		return nil, util.NewUserError(codes.InvalidArgument, err.Error())
	}

	step := &WorkflowStep{
		ID:         newID(),
		WorkflowID: workflowID,
		Name:       request.Name,
		FunctionID: request.FunctionID,
		NextID:     request.NextID,
	}
	if request.ParameterTemplate != "" {
		step.ParameterTemplate = &request.ParameterTemplate
	}

	err := c.Transaction(ctx, func(tx *Tx) error {
		if _, err := getWorkflow(tx, scope.EnvironmentID, workflowID); err != nil {
			return err
		}
		if _, err := getFunctionByID(tx, scope.EnvironmentID, request.FunctionID); err != nil {
			return err
		}

		steps, err := getWorkflowSteps(tx, workflowID, true)
		if err != nil {
			return err
		}
		planned, err := planAddStep(steps, step)
		if err != nil {
			return err
		}
		if _, err := orderSteps(planned); err != nil {
			return err
		}

		_, err = tx.Execx(sb.Insert("workflow_steps").
			SetMap(sq.Eq{
				"id":                 step.ID,
				"workflow_id":        step.WorkflowID,
				"name":               step.Name,
				"function_id":        step.FunctionID,
				"parameter_template": step.ParameterTemplate,
				"next_id":            step.NextID,
			}))
		if err != nil {
			return util.NewUserErrorWrap(err, "Workflow step")
		}

		return updateStepLinks(tx, changedSteps(steps, planned))
	})
	if err != nil {
		return nil, err
	}

	return step, nil
}

// RemoveWorkflowStep deletes a step and links its predecessor to its next step.
func (c *Client) RemoveWorkflowStep(ctx context.Context, scope Scope, workflowID, stepID string) error {
	if err := c.authorize(scope, ActionUpdate, ResourceWorkflow); err != nil {
		return err
	}

	return c.Transaction(ctx, func(tx *Tx) error {
		if _, err := getWorkflow(tx, scope.EnvironmentID, workflowID); err != nil {
			return err
		}

		steps, err := getWorkflowSteps(tx, workflowID, true)
		if err != nil {
			return err
		}
		planned, err := planRemoveStep(steps, stepID)
		if err != nil {
			return err
		}
		if _, err := orderSteps(planned); err != nil {
			return err
		}

		if err := updateStepLinks(tx, changedSteps(steps, planned)); err != nil {
			return err
		}

		_, err = tx.Execx(sb.Delete("workflow_steps").
			Where(sq.Eq{
				"id":          stepID,
				"workflow_id": workflowID,
			}))

		return err
	})
}

// MoveWorkflowStep moves a step before newNext, or to the end of the chain when newNext is nil.
func (c *Client) MoveWorkflowStep(ctx context.Context, scope Scope, workflowID, stepID string, newNext *string) error {
	if err := c.authorize(scope, ActionUpdate, ResourceWorkflow); err != nil {
		return err
	}

	return c.Transaction(ctx, func(tx *Tx) error {
		if _, err := getWorkflow(tx, scope.EnvironmentID, workflowID); err != nil {
			return err
		}

		steps, err := getWorkflowSteps(tx, workflowID, true)
		if err != nil {
			return err
		}
		planned, err := planMoveStep(steps, stepID, newNext)
		if err != nil {
			return err
		}
		if _, err := orderSteps(planned); err != nil {
			return err
		}

		return updateStepLinks(tx, changedSteps(steps, planned))
	})
}

// updateStepLinks writes next links. The (workflow, next) constraint is checked at commit.
func updateStepLinks(tx *Tx, steps []*WorkflowStep) error {
	for _, step := range steps {
		_, err := tx.Execx(sb.Update("workflow_steps").
			Set("next_id", step.NextID).
			Where(sq.Eq{"id": step.ID}))
		if err != nil {
			return err
		}
	}

	return nil
}
