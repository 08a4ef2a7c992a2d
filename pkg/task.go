package v1

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/onepanelio/functionary/pkg/metrics"
	"github.com/onepanelio/functionary/pkg/schema"
	"github.com/onepanelio/functionary/pkg/util"
	"github.com/onepanelio/functionary/pkg/util/pagination"
	"github.com/onepanelio/functionary/pkg/util/types"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
)

// Task origins used as the metrics label of created tasks.
const (
	originUser     = "user"
	originWorkflow = "workflow"
	originSchedule = "schedule"
)

func tasksSelectBuilder(environmentID string) sq.SelectBuilder {
	return sb.Select(getTaskColumns("t")...).
		From("tasks t").
		Where(sq.Eq{"t.environment_id": environmentID})
}

func getTask(q querier, environmentID, id string) (*Task, error) {
	task := &Task{}
	err := q.Getx(task, tasksSelectBuilder(environmentID).Where(sq.Eq{"t.id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NewUserError(codes.NotFound, "Task not found.")
	}
	if err != nil {
		return nil, err
	}

	return task, nil
}

// validationError turns a schema.ValidationError into an InvalidArgument user error.
// Other errors are returned unchanged.
func validationError(err error) error {
	var report *schema.ValidationError
	if errors.As(err, &report) {
		return util.NewUserErrorWithCause(codes.InvalidArgument, report, report.Error())
	}

	return err
}

// CreateTask validates the parameters against the function schema, stores the task and dispatches it
// to the runners once the transaction commits.
func (c *Client) CreateTask(ctx context.Context, scope Scope, request *CreateTaskRequest) (*Task, error) {
	if err := c.authorize(scope, ActionCreate, ResourceTask); err != nil {
		return nil, err
	}

	var (
		function *Function
		err      error
	)
	if request.FunctionID != "" {
		function, err = getFunctionByID(c.DB, scope.EnvironmentID, request.FunctionID)
	} else {
		function, err = getFunctionByName(c.DB, scope.EnvironmentID, request.PackageName, request.FunctionName)
	}
	if err != nil {
		return nil, err
	}

	parameters := make(map[string]interface{}, len(request.Parameters))
	for k, v := range request.Parameters {
		parameters[k] = v
	}

	taskID := newID()
	if err := c.uploadFiles(ctx, scope.EnvironmentID, taskID, request.Files, parameters); err != nil {
		return nil, err
	}

	var task *Task
	err = c.Transaction(ctx, func(tx *Tx) (err error) {
		task, err = c.createTask(tx, &newTask{
			ID:              taskID,
			EnvironmentID:   scope.EnvironmentID,
			Function:        function,
			Parameters:      parameters,
			Creator:         scope.Principal,
			ScheduledTaskID: request.ScheduledTaskID,
			Origin:          originUser,
		})
		return err
	})
	if err != nil {
		log.WithFields(log.Fields{
			"EnvironmentID": scope.EnvironmentID,
			"FunctionID":    function.ID,
			"Error":         err.Error(),
		}).Error("CreateTask failed.")
		return nil, err
	}

	return task, nil
}

type newTask struct {
	ID              string
	EnvironmentID   string
	Function        *Function
	Parameters      map[string]interface{}
	Creator         string
	ScheduledTaskID *string
	Origin          string
}

// createTask validates and inserts a task inside tx. The dispatch is registered to run after commit.
func (c *Client) createTask(tx *Tx, request *newTask) (*Task, error) {
	function := request.Function
	if function.EnvironmentID != request.EnvironmentID {
		return nil, util.NewUserError(codes.NotFound, "Function not found.")
	}
	if err := function.Runnable(); err != nil {
		return nil, err
	}

	functionSchema, err := function.Schema()
	if err != nil {
		return nil, err
	}
	parameters, err := functionSchema.Validate(request.Parameters)
	if err != nil {
		return nil, validationError(err)
	}

	id := request.ID
	if id == "" {
		id = newID()
	}
	createdAt := now()
	task := &Task{
		ID:              id,
		EnvironmentID:   request.EnvironmentID,
		FunctionID:      function.ID,
		Parameters:      types.JSONObject(parameters),
		Status:          StatusPending,
		Creator:         request.Creator,
		ScheduledTaskID: request.ScheduledTaskID,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}

	_, err = tx.Execx(sb.Insert("tasks").
		SetMap(sq.Eq{
			"id":                task.ID,
			"environment_id":    task.EnvironmentID,
			"function_id":       task.FunctionID,
			"parameters":        task.Parameters,
			"status":            task.Status,
			"creator":           task.Creator,
			"scheduled_task_id": task.ScheduledTaskID,
			"created_at":        task.CreatedAt,
			"updated_at":        task.UpdatedAt,
		}))
	if err != nil {
		return nil, util.NewUserErrorWrap(err, "Task")
	}

	tx.AfterCommit(func() {
		metrics.TasksCreated.WithLabelValues(request.Origin).Inc()
		c.enqueueDispatch(task.ID)
	})

	return task, nil
}

// GetTask returns a task of the environment.
func (c *Client) GetTask(scope Scope, id string) (*Task, error) {
	if err := c.authorize(scope, ActionRead, ResourceTask); err != nil {
		return nil, err
	}

	return getTask(c.DB, scope.EnvironmentID, id)
}

// ListTasks returns the tasks of the environment, newest first.
func (c *Client) ListTasks(scope Scope, filter *TaskFilter, paginator *pagination.PaginationRequest) (tasks []*Task, err error) {
	if err = c.authorize(scope, ActionRead, ResourceTask); err != nil {
		return nil, err
	}

	query := tasksSelectBuilder(scope.EnvironmentID).OrderBy("t.created_at DESC")
	if filter != nil {
		if filter.FunctionID != "" {
			query = query.Where(sq.Eq{"t.function_id": filter.FunctionID})
		}
		if filter.Status != "" {
			query = query.Where(sq.Eq{"t.status": filter.Status})
		}
		if filter.Creator != "" {
			query = query.Where(sq.Eq{"t.creator": filter.Creator})
		}
		if filter.ScheduledTaskID != "" {
			query = query.Where(sq.Eq{"t.scheduled_task_id": filter.ScheduledTaskID})
		}
	}
	query = paginator.ApplyToSelect(query)

	err = c.Selectx(&tasks, query)

	return
}

// CountTasks returns the number of tasks of the environment matching filter.
func (c *Client) CountTasks(scope Scope, filter *TaskFilter) (count int, err error) {
	if err = c.authorize(scope, ActionRead, ResourceTask); err != nil {
		return 0, err
	}

	query := sb.Select("COUNT(*)").
		From("tasks t").
		Where(sq.Eq{"t.environment_id": scope.EnvironmentID})
	if filter != nil && filter.Status != "" {
		query = query.Where(sq.Eq{"t.status": filter.Status})
	}
	if filter != nil && filter.FunctionID != "" {
		query = query.Where(sq.Eq{"t.function_id": filter.FunctionID})
	}

	err = c.Getx(&count, query)

	return
}

// GetTaskResult returns the recorded result of a task.
func (c *Client) GetTaskResult(scope Scope, taskID string) (*TaskResult, error) {
	if err := c.authorize(scope, ActionRead, ResourceTask); err != nil {
		return nil, err
	}

	result := &TaskResult{}
	err := c.Getx(result, sb.Select("tr.task_id", "tr.result", "tr.created_at").
		From("task_results tr").
		Join("tasks t ON t.id = tr.task_id").
		Where(sq.Eq{
			"tr.task_id":       taskID,
			"t.environment_id": scope.EnvironmentID,
		}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NewUserError(codes.NotFound, "Task result not found.")
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetTaskLog returns the masked output of a task.
func (c *Client) GetTaskLog(scope Scope, taskID string) (*TaskLog, error) {
	if err := c.authorize(scope, ActionRead, ResourceTask); err != nil {
		return nil, err
	}

	taskLog := &TaskLog{}
	err := c.Getx(taskLog, sb.Select("tl.task_id", "tl.log", "tl.created_at").
		From("task_logs tl").
		Join("tasks t ON t.id = tl.task_id").
		Where(sq.Eq{
			"tl.task_id":       taskID,
			"t.environment_id": scope.EnvironmentID,
		}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NewUserError(codes.NotFound, "Task log not found.")
	}
	if err != nil {
		return nil, err
	}

	return taskLog, nil
}
