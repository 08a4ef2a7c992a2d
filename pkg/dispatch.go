package v1

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/onepanelio/functionary/pkg/broker"
	"github.com/onepanelio/functionary/pkg/metrics"
	"github.com/onepanelio/functionary/pkg/util/retry"
	"github.com/onepanelio/functionary/pkg/worker"
	log "github.com/sirupsen/logrus"
)

// dispatchBackoff is the retry policy of task dispatches.
var dispatchBackoff = retry.DefaultBackoff

// enqueueDispatch submits the publish job of a task. Failures leave the task PENDING.
func (c *Client) enqueueDispatch(taskID string) {
	err := c.jobs.Submit(context.Background(), worker.Job{
		Name:    "publish_task " + taskID,
		Backoff: dispatchBackoff,
		Run: func(ctx context.Context) error {
			return c.PublishTask(ctx, taskID)
		},
		OnFailure: func(err error) {
			metrics.DispatchFailures.Inc()
			log.WithFields(log.Fields{
				"TaskID": taskID,
				"Error":  err.Error(),
			}).Error("Task dispatch failed, task is left PENDING.")
		},
	})
	if err != nil {
		metrics.DispatchFailures.Inc()
		log.WithFields(log.Fields{
			"TaskID": taskID,
			"Error":  err.Error(),
		}).Error("Unable to enqueue task dispatch.")
	}
}

// TaskPackage builds the dispatch message of a task. File parameters are presigned.
func (c *Client) TaskPackage(task *Task) (*broker.TaskPackage, error) {
	function, err := getFunctionByID(c.DB, task.EnvironmentID, task.FunctionID)
	if err != nil {
		return nil, err
	}

	parameters, err := c.presignFileParameters(task.Parameters, function.Parameters)
	if err != nil {
		return nil, err
	}

	variables, err := getVariables(c.DB, task.EnvironmentID, function.Variables)
	if err != nil {
		return nil, err
	}

	return &broker.TaskPackage{
		ID:                 task.ID,
		Package:            function.Package.FullImageName(c.config.RegistryConfig().Host),
		Function:           function.Name,
		FunctionParameters: parameters,
		Variables:          VariableValues(variables),
	}, nil
}

// PublishTask sends the TASK_PACKAGE message of a task to the public runner pool
// and marks the task IN_PROGRESS once the broker confirmed it.
func (c *Client) PublishTask(ctx context.Context, taskID string) error {
	metrics.DispatchAttempts.Inc()
	if c.publisher == nil {
		return fmt.Errorf("no broker publisher configured")
	}

	task := &Task{}
	err := c.Getx(task, sb.Select(getTaskColumns("t")...).
		From("tasks t").
		Where(sq.Eq{"t.id": taskID}))
	if err != nil {
		return err
	}

	message, err := c.TaskPackage(task)
	if err != nil {
		return err
	}

	if err := c.publisher.Publish(ctx, broker.PublicExchange, broker.PublicQueue, broker.TaskPackageMessage, message); err != nil {
		return err
	}

	// A result may already have been recorded by a fast runner.
	_, err = sb.Update("tasks").
		SetMap(sq.Eq{
			"status":     StatusInProgress,
			"updated_at": now(),
		}).
		Where(sq.Eq{
			"id":     task.ID,
			"status": StatusPending,
		}).
		RunWith(c.DB).
		ExecContext(ctx)
	if err != nil {
		log.WithFields(log.Fields{
			"TaskID": task.ID,
			"Error":  err.Error(),
		}).Warn("Task was published but its status could not be updated.")
	}

	log.WithFields(log.Fields{
		"TaskID":   task.ID,
		"Function": message.Function,
	}).Debug("Published task.")

	return nil
}
