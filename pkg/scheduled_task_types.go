package v1

import (
	"fmt"
	"strings"
	"time"

	"github.com/onepanelio/functionary/pkg/util/sql"
	"github.com/onepanelio/functionary/pkg/util/types"
	"github.com/robfig/cron/v3"
)

// ScheduledTaskStatus is the lifecycle state of a ScheduledTask. ACTIVE is the only state that ticks.
type ScheduledTaskStatus string

const (
	ScheduledTaskPending  ScheduledTaskStatus = "PENDING"
	ScheduledTaskActive   ScheduledTaskStatus = "ACTIVE"
	ScheduledTaskPaused   ScheduledTaskStatus = "PAUSED"
	ScheduledTaskError    ScheduledTaskStatus = "ERROR"
	ScheduledTaskArchived ScheduledTaskStatus = "ARCHIVED"
)

// scheduledTaskTransitions lists the states each state may move to on request.
var scheduledTaskTransitions = map[ScheduledTaskStatus][]ScheduledTaskStatus{
	ScheduledTaskPending: {ScheduledTaskActive, ScheduledTaskArchived},
	ScheduledTaskActive:  {ScheduledTaskPaused, ScheduledTaskError, ScheduledTaskArchived},
	ScheduledTaskPaused:  {ScheduledTaskActive, ScheduledTaskError, ScheduledTaskArchived},
	ScheduledTaskError:   {ScheduledTaskArchived},
}

// CanTransitionTo returns true if s may move to next.
func (s ScheduledTaskStatus) CanTransitionTo(next ScheduledTaskStatus) bool {
	for _, allowed := range scheduledTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// CrontabSchedule is a five field cron schedule shared by every ScheduledTask using the same fields.
type CrontabSchedule struct {
	ID          string `db:"id"`
	Minute      string `db:"minute"`
	Hour        string `db:"hour"`
	DayOfMonth  string `db:"day_of_month"`
	MonthOfYear string `db:"month_of_year"`
	DayOfWeek   string `db:"day_of_week"`
}

// NewCrontabSchedule splits a standard "m h dom mon dow" expression.
func NewCrontabSchedule(expression string) (CrontabSchedule, error) {
	fields := strings.Fields(expression)
	if len(fields) != 5 {
		return CrontabSchedule{}, fmt.Errorf("expected 5 fields in schedule %q, found %v", expression, len(fields))
	}

	return CrontabSchedule{
		Minute:      fields[0],
		Hour:        fields[1],
		DayOfMonth:  fields[2],
		MonthOfYear: fields[3],
		DayOfWeek:   fields[4],
	}, nil
}

// Validate parses every field on its own and reports each invalid one.
func (c CrontabSchedule) Validate() error {
	fields := []struct {
		name  string
		value string
		index int
	}{
		{"minute", c.Minute, 0},
		{"hour", c.Hour, 1},
		{"day_of_month", c.DayOfMonth, 2},
		{"month_of_year", c.MonthOfYear, 3},
		{"day_of_week", c.DayOfWeek, 4},
	}

	var problems []string
	for _, field := range fields {
		expression := []string{"*", "*", "*", "*", "*"}
		expression[field.index] = field.value
		if strings.TrimSpace(field.value) == "" || strings.ContainsAny(field.value, " \t") {
			problems = append(problems, field.name+": invalid value")
			continue
		}
		if _, err := cron.ParseStandard(strings.Join(expression, " ")); err != nil {
			problems = append(problems, field.name+": "+err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid schedule: %v", strings.Join(problems, ", "))
	}

	return nil
}

// Expression joins the fields into a standard cron expression.
func (c CrontabSchedule) Expression() string {
	return strings.Join([]string{c.Minute, c.Hour, c.DayOfMonth, c.MonthOfYear, c.DayOfWeek}, " ")
}

// getCrontabScheduleColumns returns all of the columns for CrontabSchedule modified by alias, destination.
// see formatColumnSelect
func getCrontabScheduleColumns(aliasAndDestination ...string) []string {
	columns := []string{"id", "minute", "hour", "day_of_month", "month_of_year", "day_of_week"}
	return sql.FormatColumnSelect(columns, aliasAndDestination...)
}

type ScheduledTask struct {
	ID                string              `db:"id"`
	EnvironmentID     string              `db:"environment_id"`
	FunctionID        string              `db:"function_id"`
	Name              string              `db:"name"`
	Description       *string             `db:"description"`
	Parameters        types.JSONObject    `db:"parameters"`
	Status            ScheduledTaskStatus `db:"status"`
	CrontabScheduleID string              `db:"crontab_schedule_id"`
	MostRecentTaskID  *string             `db:"most_recent_task_id"`
	Creator           string              `db:"creator"`
	CreatedAt         time.Time           `db:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at"`
	Schedule          CrontabSchedule     `db:"schedule"`
}

// getScheduledTaskColumns returns all of the columns for ScheduledTask modified by alias, destination.
// see formatColumnSelect
func getScheduledTaskColumns(aliasAndDestination ...string) []string {
	columns := []string{"id", "environment_id", "function_id", "name", "description", "parameters", "status", "crontab_schedule_id", "most_recent_task_id", "creator", "created_at", "updated_at"}
	return sql.FormatColumnSelect(columns, aliasAndDestination...)
}

type CreateScheduledTaskRequest struct {
	Name        string
	Description string
	FunctionID  string
	Parameters  map[string]interface{}
	Schedule    CrontabSchedule
}
