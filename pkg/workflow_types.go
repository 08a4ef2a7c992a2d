package v1

import (
	"time"

	"github.com/onepanelio/functionary/pkg/util/sql"
	"github.com/onepanelio/functionary/pkg/util/types"
)

type Workflow struct {
	ID            string          `db:"id"`
	EnvironmentID string          `db:"environment_id"`
	Name          string          `db:"name"`
	Description   *string         `db:"description"`
	Creator       string          `db:"creator"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
	Parameters    []*Parameter    `db:"-"`
	Steps         []*WorkflowStep `db:"-"`
}

// getWorkflowColumns returns all of the columns for Workflow modified by alias, destination.
// see formatColumnSelect
func getWorkflowColumns(aliasAndDestination ...string) []string {
	columns := []string{"id", "environment_id", "name", "description", "creator", "created_at", "updated_at"}
	return sql.FormatColumnSelect(columns, aliasAndDestination...)
}

// WorkflowStep is a node of the step chain of a Workflow. NextID links to the step run after this one.
type WorkflowStep struct {
	ID                string  `db:"id"`
	WorkflowID        string  `db:"workflow_id"`
	Name              string  `db:"name"`
	FunctionID        string  `db:"function_id"`
	ParameterTemplate *string `db:"parameter_template"`
	NextID            *string `db:"next_id"`
}

// getWorkflowStepColumns returns all of the columns for WorkflowStep modified by alias, destination.
// see formatColumnSelect
func getWorkflowStepColumns(aliasAndDestination ...string) []string {
	columns := []string{"id", "workflow_id", "name", "function_id", "parameter_template", "next_id"}
	return sql.FormatColumnSelect(columns, aliasAndDestination...)
}

// AddWorkflowStepRequest inserts a step before NextID, or at the tail when NextID is nil.
type AddWorkflowStepRequest struct {
	Name              string
	FunctionID        string
	ParameterTemplate string
	NextID            *string
}

type WorkflowRun struct {
	ID            string           `db:"id"`
	WorkflowID    string           `db:"workflow_id"`
	EnvironmentID string           `db:"environment_id"`
	Status        Status           `db:"status"`
	Parameters    types.JSONObject `db:"parameters"`
	Creator       string           `db:"creator"`
	CreatedAt     time.Time        `db:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at"`
}

// getWorkflowRunColumns returns all of the columns for WorkflowRun modified by alias, destination.
// see formatColumnSelect
func getWorkflowRunColumns(aliasAndDestination ...string) []string {
	columns := []string{"id", "workflow_id", "environment_id", "status", "parameters", "creator", "created_at", "updated_at"}
	return sql.FormatColumnSelect(columns, aliasAndDestination...)
}

// WorkflowRunStep binds the Task created for a WorkflowStep within one WorkflowRun.
type WorkflowRunStep struct {
	ID             string    `db:"id"`
	WorkflowRunID  string    `db:"workflow_run_id"`
	WorkflowStepID string    `db:"workflow_step_id"`
	TaskID         string    `db:"task_id"`
	CreatedAt      time.Time `db:"created_at"`
}
