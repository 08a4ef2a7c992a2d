package v1

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/onepanelio/functionary/pkg/template"
	"github.com/onepanelio/functionary/pkg/util"
	"github.com/onepanelio/functionary/pkg/util/pagination"
	"github.com/onepanelio/functionary/pkg/util/types"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
)

func getWorkflowRun(q querier, environmentID, id string, lock bool) (*WorkflowRun, error) {
	query := sb.Select(getWorkflowRunColumns("wr")...).
		From("workflow_runs wr").
		Where(sq.Eq{"wr.id": id})
	if environmentID != "" {
		query = query.Where(sq.Eq{"wr.environment_id": environmentID})
	}
	if lock {
		query = query.Suffix("FOR UPDATE")
	}

	run := &WorkflowRun{}
	err := q.Getx(run, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NewUserError(codes.NotFound, "Workflow run not found.")
	}
	if err != nil {
		return nil, err
	}

	return run, nil
}

// StartWorkflowRun validates parameters against the workflow parameters and creates the task of the first step.
func (c *Client) StartWorkflowRun(ctx context.Context, scope Scope, workflowID string, parameters map[string]interface{}) (*WorkflowRun, error) {
	if err := c.authorize(scope, ActionExecute, ResourceWorkflow); err != nil {
		return nil, err
	}

	var run *WorkflowRun
	err := c.Transaction(ctx, func(tx *Tx) error {
		workflow, err := loadWorkflow(tx, scope.EnvironmentID, workflowID, false)
		if err != nil {
			return err
		}
		if len(workflow.Steps) == 0 {
			return util.NewUserError(codes.FailedPrecondition, "Workflow has no steps.")
		}

		runSchema, err := workflowSchema(workflow)
		if err != nil {
			return err
		}
		validated, err := runSchema.Validate(parameters)
		if err != nil {
			return validationError(err)
		}

		createdAt := now()
		run = &WorkflowRun{
			ID:            newID(),
			WorkflowID:    workflow.ID,
			EnvironmentID: scope.EnvironmentID,
			Status:        StatusInProgress,
			Parameters:    types.JSONObject(validated),
			Creator:       scope.Principal,
			CreatedAt:     createdAt,
			UpdatedAt:     createdAt,
		}
		_, err = tx.Execx(sb.Insert("workflow_runs").
			SetMap(sq.Eq{
				"id":             run.ID,
				"workflow_id":    run.WorkflowID,
				"environment_id": run.EnvironmentID,
				"status":         run.Status,
				"parameters":     run.Parameters,
				"creator":        run.Creator,
				"created_at":     run.CreatedAt,
				"updated_at":     run.UpdatedAt,
			}))
		if err != nil {
			return err
		}

		_, err = c.executeStep(tx, run, workflow.Steps[0])

		return err
	})
	if err != nil {
		log.WithFields(log.Fields{
			"EnvironmentID": scope.EnvironmentID,
			"WorkflowID":    workflowID,
			"Error":         err.Error(),
		}).Error("StartWorkflowRun failed.")
		return nil, err
	}

	return run, nil
}

// stepContext binds the run parameters and the results of the steps run so far.
// Parameters are referenced as parameters.<name>, results as <step name>.result.
func stepContext(tx *Tx, run *WorkflowRun) (template.Context, error) {
	ctx := template.Context{}
	for name, value := range run.Parameters {
		if err := ctx.Set("parameters."+name, value); err != nil {
			return nil, err
		}
	}

	var results []struct {
		Name   string  `db:"name"`
		Result *string `db:"result"`
	}
	err := tx.Selectx(&results, sb.Select("ws.name", "tr.result").
		From("workflow_run_steps wrs").
		Join("workflow_steps ws ON ws.id = wrs.workflow_step_id").
		Join("task_results tr ON tr.task_id = wrs.task_id").
		Where(sq.Eq{"wrs.workflow_run_id": run.ID}))
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Result != nil {
			ctx[r.Name+".result"] = *r.Result
		}
	}

	return ctx, nil
}

// renderStepParameters renders the parameter template of a step and parses it as a JSON object.
func renderStepParameters(step *WorkflowStep, ctx template.Context) (map[string]interface{}, error) {
	tmpl := ""
	if step.ParameterTemplate != nil {
		tmpl = *step.ParameterTemplate
	}

	rendered, err := template.Render(tmpl, ctx)
	if err != nil {
		return nil, util.NewUserErrorf(codes.InvalidArgument, "Step %v: %v", step.Name, err)
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(rendered)))
	decoder.UseNumber()
	parameters := make(map[string]interface{})
	if err := decoder.Decode(&parameters); err != nil {
		return nil, util.NewUserErrorf(codes.InvalidArgument, "Step %v: rendered parameters are not a JSON object: %v", step.Name, err)
	}

	return parameters, nil
}

// executeStep creates the task of step within run and binds it to the run.
func (c *Client) executeStep(tx *Tx, run *WorkflowRun, step *WorkflowStep) (*Task, error) {
	ctx, err := stepContext(tx, run)
	if err != nil {
		return nil, err
	}

	parameters, err := renderStepParameters(step, ctx)
	if err != nil {
		return nil, err
	}

	function, err := getFunctionByID(tx, run.EnvironmentID, step.FunctionID)
	if err != nil {
		return nil, err
	}

	task, err := c.createTask(tx, &newTask{
		EnvironmentID: run.EnvironmentID,
		Function:      function,
		Parameters:    parameters,
		Creator:       run.Creator,
		Origin:        originWorkflow,
	})
	if err != nil {
		return nil, err
	}

	_, err = tx.Execx(sb.Insert("workflow_run_steps").
		SetMap(sq.Eq{
			"id":               newID(),
			"workflow_run_id":  run.ID,
			"workflow_step_id": step.ID,
			"task_id":          task.ID,
			"created_at":       now(),
		}))
	if err != nil {
		return nil, util.NewUserErrorWrap(err, "Workflow run step")
	}

	return task, nil
}

// advanceWorkflowRun reacts to the terminal status of a task that belongs to a workflow run.
// A completed task creates the task of the next step, or completes the run after the last step.
// A failed task, or a next step that can not be prepared, ends the run in ERROR.
func (c *Client) advanceWorkflowRun(tx *Tx, task *Task) error {
	runStep := &WorkflowRunStep{}
	err := tx.Getx(runStep, sb.Select("wrs.id", "wrs.workflow_run_id", "wrs.workflow_step_id", "wrs.task_id", "wrs.created_at").
		From("workflow_run_steps wrs").
		Where(sq.Eq{"wrs.task_id": task.ID}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	run, err := getWorkflowRun(tx, "", runStep.WorkflowRunID, true)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	logger := log.WithFields(log.Fields{
		"WorkflowRunID": run.ID,
		"TaskID":        task.ID,
	})

	if task.Status == StatusError {
		logger.Info("Workflow run step failed.")
		return setWorkflowRunStatus(tx, run, StatusError)
	}

	step := &WorkflowStep{}
	err = tx.Getx(step, sb.Select(getWorkflowStepColumns("ws")...).
		From("workflow_steps ws").
		Where(sq.Eq{"ws.id": runStep.WorkflowStepID}))
	if err != nil {
		return err
	}
	if step.NextID == nil {
		return setWorkflowRunStatus(tx, run, StatusComplete)
	}

	existing := 0
	err = tx.Getx(&existing, sb.Select("COUNT(*)").
		From("workflow_run_steps wrs").
		Where(sq.Eq{
			"wrs.workflow_run_id":  run.ID,
			"wrs.workflow_step_id": *step.NextID,
		}))
	if err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	next := &WorkflowStep{}
	err = tx.Getx(next, sb.Select(getWorkflowStepColumns("ws")...).
		From("workflow_steps ws").
		Where(sq.Eq{"ws.id": *step.NextID}))
	if err != nil {
		return err
	}

	if _, err := c.executeStep(tx, run, next); err != nil {
		switch util.Code(err) {
		case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
			logger.WithFields(log.Fields{
				"WorkflowStep": next.Name,
				"Error":        err.Error(),
			}).Error("Unable to start the next workflow step.")
			return setWorkflowRunStatus(tx, run, StatusError)
		}
		return err
	}

	return nil
}

func setWorkflowRunStatus(tx *Tx, run *WorkflowRun, status Status) error {
	_, err := tx.Execx(sb.Update("workflow_runs").
		SetMap(sq.Eq{
			"status":     status,
			"updated_at": now(),
		}).
		Where(sq.Eq{"id": run.ID}))
	if err != nil {
		return err
	}
	run.Status = status

	return nil
}

func (c *Client) GetWorkflowRun(scope Scope, id string) (*WorkflowRun, error) {
	if err := c.authorize(scope, ActionRead, ResourceWorkflow); err != nil {
		return nil, err
	}

	return getWorkflowRun(c.DB, scope.EnvironmentID, id, false)
}

// ListWorkflowRuns lists the runs of the environment, or of one workflow when workflowID is set.
func (c *Client) ListWorkflowRuns(scope Scope, workflowID string, paginator *pagination.PaginationRequest) (runs []*WorkflowRun, err error) {
	if err = c.authorize(scope, ActionRead, ResourceWorkflow); err != nil {
		return nil, err
	}

	query := sb.Select(getWorkflowRunColumns("wr")...).
		From("workflow_runs wr").
		Where(sq.Eq{"wr.environment_id": scope.EnvironmentID}).
		OrderBy("wr.created_at DESC")
	if workflowID != "" {
		query = query.Where(sq.Eq{"wr.workflow_id": workflowID})
	}
	query = paginator.ApplyToSelect(query)

	err = c.Selectx(&runs, query)

	return
}

// ListWorkflowRunSteps returns the steps a run has created so far, oldest first.
func (c *Client) ListWorkflowRunSteps(scope Scope, runID string) (steps []*WorkflowRunStep, err error) {
	if err = c.authorize(scope, ActionRead, ResourceWorkflow); err != nil {
		return nil, err
	}

	err = c.Selectx(&steps, sb.Select("wrs.id", "wrs.workflow_run_id", "wrs.workflow_step_id", "wrs.task_id", "wrs.created_at").
		From("workflow_run_steps wrs").
		Join("workflow_runs wr ON wr.id = wrs.workflow_run_id").
		Where(sq.Eq{
			"wrs.workflow_run_id": runID,
			"wr.environment_id":   scope.EnvironmentID,
		}).
		OrderBy("wrs.created_at"))

	return
}
