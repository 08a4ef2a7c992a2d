package v1

import (
	"io"
	"time"

	"github.com/onepanelio/functionary/pkg/util/sql"
	"github.com/onepanelio/functionary/pkg/util/types"
)

// Task is one invocation of a Function.
type Task struct {
	ID              string           `db:"id"`
	EnvironmentID   string           `db:"environment_id"`
	FunctionID      string           `db:"function_id"`
	Parameters      types.JSONObject `db:"parameters"`
	Status          Status           `db:"status"`
	Creator         string           `db:"creator"`
	ScheduledTaskID *string          `db:"scheduled_task_id"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
}

// getTaskColumns returns all of the columns for Task modified by alias, destination.
// see formatColumnSelect
func getTaskColumns(aliasAndDestination ...string) []string {
	columns := []string{"id", "environment_id", "function_id", "parameters", "status", "creator", "scheduled_task_id", "created_at", "updated_at"}
	return sql.FormatColumnSelect(columns, aliasAndDestination...)
}

type TaskResult struct {
	TaskID    string    `db:"task_id"`
	Result    *string   `db:"result"`
	CreatedAt time.Time `db:"created_at"`
}

type TaskLog struct {
	TaskID    string    `db:"task_id"`
	Log       *string   `db:"log"`
	CreatedAt time.Time `db:"created_at"`
}

// File is an uploaded file parameter value.
type File struct {
	Name    string
	Size    int64
	Content io.Reader
}

// CreateTaskRequest identifies the function either by FunctionID or by PackageName and FunctionName.
// Files holds uploaded values of file parameters keyed by parameter name; they take precedence
// over the same key in Parameters.
type CreateTaskRequest struct {
	FunctionID      string
	PackageName     string
	FunctionName    string
	Parameters      map[string]interface{}
	Files           map[string]File
	ScheduledTaskID *string
}

// TaskFilter narrows ListTasks. Empty fields are ignored.
type TaskFilter struct {
	FunctionID      string
	Status          Status
	Creator         string
	ScheduledTaskID string
}
