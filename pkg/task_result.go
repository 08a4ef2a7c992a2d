package v1

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/onepanelio/functionary/pkg/broker"
	"github.com/onepanelio/functionary/pkg/metrics"
	"github.com/onepanelio/functionary/pkg/worker"
	log "github.com/sirupsen/logrus"
)

// StatusFromResult maps a runner status to the terminal task status.
func StatusFromResult(result *broker.TaskResult) Status {
	if result.Succeeded() {
		return StatusComplete
	}

	return StatusError
}

// HandleTaskResult is the broker handler for TASK_RESULT messages. It only decodes the message and
// hands it to the job pool so the listener never waits on the database.
func (c *Client) HandleTaskResult(ctx context.Context, body []byte) error {
	result := &broker.TaskResult{}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("invalid %v message: %w", broker.TaskResultMessage, err)
	}

	return c.jobs.Submit(ctx, worker.Job{
		Name: "record_task_result " + result.TaskID,
		Run: func(ctx context.Context) error {
			return c.RecordTaskResult(ctx, result)
		},
	})
}

// RecordTaskResult stores the log and the result of a task and moves it to its terminal status.
// A result for a task that already has one is ignored. Tasks that are part of a workflow run advance the run.
func (c *Client) RecordTaskResult(ctx context.Context, result *broker.TaskResult) error {
	logger := log.WithFields(log.Fields{
		"TaskID": result.TaskID,
		"Status": result.Status,
	})
	if _, err := uuid.Parse(result.TaskID); err != nil {
		logger.Error("Unable to record results for task: invalid task id.")
		return nil
	}

	status := StatusFromResult(result)
	duplicate, recorded := false, false
	err := c.Transaction(ctx, func(tx *Tx) error {
		duplicate, recorded = false, false
		task := &Task{}
		err := tx.Getx(task, sb.Select(getTaskColumns("t")...).
			From("tasks t").
			Where(sq.Eq{"t.id": result.TaskID}).
			Suffix("FOR UPDATE"))
		if errors.Is(err, sql.ErrNoRows) {
			logger.Error("Unable to record results for task: task not found.")
			return nil
		}
		if err != nil {
			return err
		}

		count := 0
		err = tx.Getx(&count, sb.Select("COUNT(*)").
			From("task_results tr").
			Where(sq.Eq{"tr.task_id": task.ID}))
		if err != nil {
			return err
		}
		if count > 0 {
			duplicate = true
			return nil
		}

		var names []string
		err = tx.Selectx(&names, sb.Select("UNNEST(f.variables)").
			From("functions f").
			Where(sq.Eq{"f.id": task.FunctionID}))
		if err != nil {
			return err
		}
		variables, err := getVariables(tx, task.EnvironmentID, names)
		if err != nil {
			return err
		}

		createdAt := now()
		_, err = tx.Execx(sb.Insert("task_logs").
			SetMap(sq.Eq{
				"task_id":    task.ID,
				"log":        MaskOutput(result.Output, variables),
				"created_at": createdAt,
			}))
		if err != nil {
			return err
		}

		_, err = tx.Execx(sb.Insert("task_results").
			SetMap(sq.Eq{
				"task_id":    task.ID,
				"result":     result.Result,
				"created_at": createdAt,
			}))
		if err != nil {
			return err
		}

		_, err = tx.Execx(sb.Update("tasks").
			SetMap(sq.Eq{
				"status":     status,
				"updated_at": createdAt,
			}).
			Where(sq.Eq{"id": task.ID}))
		if err != nil {
			return err
		}
		task.Status = status
		recorded = true

		return c.advanceWorkflowRun(tx, task)
	})
	if err != nil {
		logger.WithField("Error", err.Error()).Error("Unable to record results for task.")
		return err
	}

	if duplicate {
		metrics.DuplicateResults.Inc()
		logger.Warn("Task already has a result, ignoring duplicate.")
		return nil
	}
	if recorded {
		metrics.ResultsRecorded.WithLabelValues(string(status)).Inc()
	}

	return nil
}
