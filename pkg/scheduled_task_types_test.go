package v1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduledTaskStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, ScheduledTaskPending.CanTransitionTo(ScheduledTaskActive))
	assert.True(t, ScheduledTaskActive.CanTransitionTo(ScheduledTaskPaused))
	assert.True(t, ScheduledTaskPaused.CanTransitionTo(ScheduledTaskActive))
	assert.True(t, ScheduledTaskActive.CanTransitionTo(ScheduledTaskError))
	assert.True(t, ScheduledTaskError.CanTransitionTo(ScheduledTaskArchived))

	assert.False(t, ScheduledTaskPending.CanTransitionTo(ScheduledTaskPaused))
	assert.False(t, ScheduledTaskError.CanTransitionTo(ScheduledTaskActive))
	assert.False(t, ScheduledTaskArchived.CanTransitionTo(ScheduledTaskActive))
	assert.False(t, ScheduledTaskArchived.CanTransitionTo(ScheduledTaskPending))
	assert.False(t, ScheduledTaskActive.CanTransitionTo(ScheduledTaskActive))
}

func TestNewCrontabSchedule(t *testing.T) {
	schedule, err := NewCrontabSchedule("*/5  0 1 * MON")
	require.NoError(t, err)

	assert.Equal(t, "*/5", schedule.Minute)
	assert.Equal(t, "0", schedule.Hour)
	assert.Equal(t, "1", schedule.DayOfMonth)
	assert.Equal(t, "*", schedule.MonthOfYear)
	assert.Equal(t, "MON", schedule.DayOfWeek)
	assert.Equal(t, "*/5 0 1 * MON", schedule.Expression())
	assert.NoError(t, schedule.Validate())
}

func TestNewCrontabSchedule_WrongFieldCount(t *testing.T) {
	_, err := NewCrontabSchedule("* * *")
	assert.Error(t, err)
}

func TestCrontabSchedule_Validate(t *testing.T) {
	schedule := CrontabSchedule{
		Minute:      "61",
		Hour:        "*",
		DayOfMonth:  "*",
		MonthOfYear: "13",
		DayOfWeek:   "*",
	}

	err := schedule.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minute")
	assert.Contains(t, err.Error(), "month_of_year")
	assert.NotContains(t, err.Error(), "hour")
}

func TestCrontabSchedule_ValidateEmptyField(t *testing.T) {
	schedule := CrontabSchedule{Minute: "0", Hour: "", DayOfMonth: "*", MonthOfYear: "*", DayOfWeek: "*"}

	err := schedule.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hour: invalid value")
}
