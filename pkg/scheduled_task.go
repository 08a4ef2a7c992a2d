package v1

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/onepanelio/functionary/pkg/util"
	"github.com/onepanelio/functionary/pkg/util/pagination"
	"github.com/onepanelio/functionary/pkg/util/types"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
)

// scheduledTasksSelectBuilder selects scheduled tasks with their schedule. An empty environmentID selects every environment.
func scheduledTasksSelectBuilder(environmentID string) sq.SelectBuilder {
	query := sb.Select(getScheduledTaskColumns("st")...).
		Columns(getCrontabScheduleColumns("cs", "schedule")...).
		From("scheduled_tasks st").
		Join("crontab_schedules cs ON cs.id = st.crontab_schedule_id")
	if environmentID != "" {
		query = query.Where(sq.Eq{"st.environment_id": environmentID})
	}

	return query
}

func getScheduledTask(q querier, environmentID, id string) (*ScheduledTask, error) {
	scheduledTask := &ScheduledTask{}
	err := q.Getx(scheduledTask, scheduledTasksSelectBuilder(environmentID).Where(sq.Eq{"st.id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NewUserError(codes.NotFound, "Scheduled task not found.")
	}
	if err != nil {
		return nil, err
	}

	return scheduledTask, nil
}

// getOrCreateCrontabSchedule returns the id of the schedule row with the same fields, creating it when missing.
func getOrCreateCrontabSchedule(tx *Tx, schedule *CrontabSchedule) error {
	if err := schedule.Validate(); err != nil {
		return util.NewUserError(codes.InvalidArgument, err.Error())
	}

	return sb.Insert("crontab_schedules").
		SetMap(sq.Eq{
			"id":            newID(),
			"minute":        schedule.Minute,
			"hour":          schedule.Hour,
			"day_of_month":  schedule.DayOfMonth,
			"month_of_year": schedule.MonthOfYear,
			"day_of_week":   schedule.DayOfWeek,
		}).
		Suffix("ON CONFLICT ON CONSTRAINT crontab_schedule_unique DO UPDATE SET minute = EXCLUDED.minute RETURNING id").
		RunWith(tx).
		QueryRow().
		Scan(&schedule.ID)
}

// CreateScheduledTask stores a PENDING schedule. Parameters are validated against the function schema.
func (c *Client) CreateScheduledTask(ctx context.Context, scope Scope, request *CreateScheduledTaskRequest) (*ScheduledTask, error) {
	if err := c.authorize(scope, ActionCreate, ResourceScheduledTask); err != nil {
		return nil, err
	}
	if request.Name == "" {
		return nil, util.NewUserError(codes.InvalidArgument, "Scheduled task name is required.")
	}

	var scheduledTask *ScheduledTask
	err := c.Transaction(ctx, func(tx *Tx) error {
		function, err := getFunctionByID(tx, scope.EnvironmentID, request.FunctionID)
		if err != nil {
			return err
		}

		functionSchema, err := function.Schema()
		if err != nil {
			return err
		}
		parameters, err := functionSchema.Validate(request.Parameters)
		if err != nil {
			return validationError(err)
		}

		schedule := request.Schedule
		if err := getOrCreateCrontabSchedule(tx, &schedule); err != nil {
			return err
		}

		createdAt := now()
		scheduledTask = &ScheduledTask{
			ID:                newID(),
			EnvironmentID:     scope.EnvironmentID,
			FunctionID:        function.ID,
			Name:              request.Name,
			Parameters:        types.JSONObject(parameters),
			Status:            ScheduledTaskPending,
			CrontabScheduleID: schedule.ID,
			Creator:           scope.Principal,
			CreatedAt:         createdAt,
			UpdatedAt:         createdAt,
			Schedule:          schedule,
		}
		if request.Description != "" {
			scheduledTask.Description = &request.Description
		}

		_, err = tx.Execx(sb.Insert("scheduled_tasks").
			SetMap(sq.Eq{
				"id":                  scheduledTask.ID,
				"environment_id":      scheduledTask.EnvironmentID,
				"function_id":         scheduledTask.FunctionID,
				"name":                scheduledTask.Name,
				"description":         scheduledTask.Description,
				"parameters":          scheduledTask.Parameters,
				"status":              scheduledTask.Status,
				"crontab_schedule_id": scheduledTask.CrontabScheduleID,
				"creator":             scheduledTask.Creator,
				"created_at":          scheduledTask.CreatedAt,
				"updated_at":          scheduledTask.UpdatedAt,
			}))
		if err != nil {
			return util.NewUserErrorWrap(err, "Scheduled task")
		}

		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{
			"EnvironmentID": scope.EnvironmentID,
			"FunctionID":    request.FunctionID,
			"Error":         err.Error(),
		}).Error("CreateScheduledTask failed.")
		return nil, err
	}

	return scheduledTask, nil
}

func (c *Client) GetScheduledTask(scope Scope, id string) (*ScheduledTask, error) {
	if err := c.authorize(scope, ActionRead, ResourceScheduledTask); err != nil {
		return nil, err
	}

	return getScheduledTask(c.DB, scope.EnvironmentID, id)
}

// ListScheduledTasks lists schedules of the environment, optionally only those in status.
func (c *Client) ListScheduledTasks(scope Scope, status ScheduledTaskStatus, paginator *pagination.PaginationRequest) (scheduledTasks []*ScheduledTask, err error) {
	if err = c.authorize(scope, ActionRead, ResourceScheduledTask); err != nil {
		return nil, err
	}

	query := scheduledTasksSelectBuilder(scope.EnvironmentID).OrderBy("st.name")
	if status != "" {
		query = query.Where(sq.Eq{"st.status": status})
	}
	query = paginator.ApplyToSelect(query)

	err = c.Selectx(&scheduledTasks, query)

	return
}

// ListActiveScheduledTasks returns the ACTIVE schedules of every environment. It is used by the scheduler.
func (c *Client) ListActiveScheduledTasks() (scheduledTasks []*ScheduledTask, err error) {
	err = c.Selectx(&scheduledTasks, scheduledTasksSelectBuilder("").
		Where(sq.Eq{"st.status": ScheduledTaskActive}))

	return
}

// UpdateScheduledTaskStatus moves a schedule to status. Activation requires a runnable function.
func (c *Client) UpdateScheduledTaskStatus(ctx context.Context, scope Scope, id string, status ScheduledTaskStatus) (*ScheduledTask, error) {
	if err := c.authorize(scope, ActionUpdate, ResourceScheduledTask); err != nil {
		return nil, err
	}

	var scheduledTask *ScheduledTask
	err := c.Transaction(ctx, func(tx *Tx) (err error) {
		scheduledTask, err = getScheduledTask(tx, scope.EnvironmentID, id)
		if err != nil {
			return err
		}
		if scheduledTask.Status == status {
			return nil
		}
		if !scheduledTask.Status.CanTransitionTo(status) {
			return util.NewUserErrorf(codes.FailedPrecondition, "Scheduled task can not move from %v to %v.", scheduledTask.Status, status)
		}

		if status == ScheduledTaskActive {
			function, err := getFunctionByID(tx, scope.EnvironmentID, scheduledTask.FunctionID)
			if err != nil {
				return err
			}
			if err := function.Runnable(); err != nil {
				return err
			}
		}

		return setScheduledTaskStatus(tx, scheduledTask, status)
	})
	if err != nil {
		return nil, err
	}

	return scheduledTask, nil
}

// UpdateScheduledTaskSchedule points a schedule to the crontab row with the given fields.
func (c *Client) UpdateScheduledTaskSchedule(ctx context.Context, scope Scope, id string, schedule CrontabSchedule) (*ScheduledTask, error) {
	if err := c.authorize(scope, ActionUpdate, ResourceScheduledTask); err != nil {
		return nil, err
	}

	var scheduledTask *ScheduledTask
	err := c.Transaction(ctx, func(tx *Tx) (err error) {
		scheduledTask, err = getScheduledTask(tx, scope.EnvironmentID, id)
		if err != nil {
			return err
		}
		if scheduledTask.Status == ScheduledTaskArchived {
			return util.NewUserError(codes.FailedPrecondition, "Scheduled task is archived.")
		}

		if err := getOrCreateCrontabSchedule(tx, &schedule); err != nil {
			return err
		}

		_, err = tx.Execx(sb.Update("scheduled_tasks").
			SetMap(sq.Eq{
				"crontab_schedule_id": schedule.ID,
				"updated_at":          now(),
			}).
			Where(sq.Eq{"id": scheduledTask.ID}))
		if err != nil {
			return err
		}
		scheduledTask.CrontabScheduleID = schedule.ID
		scheduledTask.Schedule = schedule

		return nil
	})
	if err != nil {
		return nil, err
	}

	return scheduledTask, nil
}

func setScheduledTaskStatus(tx *Tx, scheduledTask *ScheduledTask, status ScheduledTaskStatus) error {
	_, err := tx.Execx(sb.Update("scheduled_tasks").
		SetMap(sq.Eq{
			"status":     status,
			"updated_at": now(),
		}).
		Where(sq.Eq{"id": scheduledTask.ID}))
	if err != nil {
		return err
	}
	scheduledTask.Status = status

	return nil
}

// transitionScheduledTasks moves the schedules of functionIDs that are in from to to.
func transitionScheduledTasks(tx *Tx, functionIDs []string, from, to ScheduledTaskStatus) error {
	if len(functionIDs) == 0 {
		return nil
	}

	_, err := tx.Execx(sb.Update("scheduled_tasks").
		SetMap(sq.Eq{
			"status":     to,
			"updated_at": now(),
		}).
		Where(sq.Eq{
			"function_id": functionIDs,
			"status":      from,
		}))

	return err
}

// RunScheduledTask creates the task of one tick of an ACTIVE schedule and records it as the most recent task.
// Schedules that are not ACTIVE produce no task. Parameters that no longer validate move the schedule to ERROR.
func (c *Client) RunScheduledTask(ctx context.Context, id string) (*Task, error) {
	var (
		task          *Task
		validationErr error
	)
	err := c.Transaction(ctx, func(tx *Tx) error {
		task, validationErr = nil, nil

		scheduledTask := &ScheduledTask{}
		err := tx.Getx(scheduledTask, sb.Select(getScheduledTaskColumns("st")...).
			From("scheduled_tasks st").
			Where(sq.Eq{"st.id": id}).
			Suffix("FOR UPDATE"))
		if errors.Is(err, sql.ErrNoRows) {
			return util.NewUserError(codes.NotFound, "Scheduled task not found.")
		}
		if err != nil {
			return err
		}
		if scheduledTask.Status != ScheduledTaskActive {
			return nil
		}

		function, err := getFunctionByID(tx, scheduledTask.EnvironmentID, scheduledTask.FunctionID)
		if err != nil {
			return err
		}

		task, err = c.createTask(tx, &newTask{
			EnvironmentID:   scheduledTask.EnvironmentID,
			Function:        function,
			Parameters:      scheduledTask.Parameters,
			Creator:         scheduledTask.Creator,
			ScheduledTaskID: &scheduledTask.ID,
			Origin:          originSchedule,
		})
		if util.Code(err) == codes.InvalidArgument {
			validationErr = err
			task = nil
			return setScheduledTaskStatus(tx, scheduledTask, ScheduledTaskError)
		}
		if err != nil {
			return err
		}

		_, err = tx.Execx(sb.Update("scheduled_tasks").
			SetMap(sq.Eq{
				"most_recent_task_id": task.ID,
				"updated_at":          now(),
			}).
			Where(sq.Eq{"id": scheduledTask.ID}))

		return err
	})
	if err != nil {
		return nil, err
	}
	if validationErr != nil {
		log.WithFields(log.Fields{
			"ScheduledTaskID": id,
			"Error":           validationErr.Error(),
		}).Error("Scheduled task parameters are invalid, schedule moved to ERROR.")
		return nil, validationErr
	}

	return task, nil
}
