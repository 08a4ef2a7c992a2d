package v1

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/onepanelio/functionary/pkg/broker"
	"github.com/onepanelio/functionary/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func expectFunction(mock sqlmock.Sqlmock, active bool, status PackageStatus, parameters ...string) {
	mock.ExpectQuery("SELECT (.+) FROM functions f JOIN packages p ON p.id = f.package_id WHERE").
		WillReturnRows(functionRows(active, status))
	mock.ExpectQuery("SELECT (.+) FROM function_parameters fp WHERE fp.function_id = \\$1").
		WithArgs(testFunctionID).
		WillReturnRows(integerParameterRows(parameters...))
}

func TestClient_CreateTask_InvalidParameters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	jobs := &recordingJobs{}
	c := NewTestClient(db, Dependencies{Jobs: jobs})

	expectFunction(mock, true, PackageComplete, "a", "b")
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = c.CreateTask(context.Background(), testScope, &CreateTaskRequest{
		FunctionID: testFunctionID,
		Parameters: map[string]interface{}{"a": "not a number"},
	})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, util.Code(err))
	assert.Contains(t, err.Error(), "a: ")
	assert.Contains(t, err.Error(), "b: field required")
	assert.Empty(t, jobs.jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_CreateTask(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	jobs := &recordingJobs{}
	c := NewTestClient(db, Dependencies{Jobs: jobs})

	expectFunction(mock, true, PackageEnabled, "a", "b")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, err := c.CreateTask(context.Background(), testScope, &CreateTaskRequest{
		FunctionID: testFunctionID,
		Parameters: map[string]interface{}{"a": "1", "b": 2},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, "admin", task.Creator)
	assert.EqualValues(t, 1, task.Parameters["a"])
	assert.EqualValues(t, 2, task.Parameters["b"])
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, "publish_task "+task.ID, jobs.jobs[0].Name)
}

func TestClient_CreateTask_InactiveFunction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	jobs := &recordingJobs{}
	c := NewTestClient(db, Dependencies{Jobs: jobs})

	expectFunction(mock, false, PackageComplete, "a")
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = c.CreateTask(context.Background(), testScope, &CreateTaskRequest{
		FunctionID: testFunctionID,
		Parameters: map[string]interface{}{"a": 1},
	})
	assert.Equal(t, codes.FailedPrecondition, util.Code(err))
	assert.Empty(t, jobs.jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_CreateTask_DisabledPackage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewTestClient(db, Dependencies{Jobs: &recordingJobs{}})

	expectFunction(mock, true, PackageDisabled, "a")
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = c.CreateTask(context.Background(), testScope, &CreateTaskRequest{
		FunctionID: testFunctionID,
		Parameters: map[string]interface{}{"a": 1},
	})
	assert.Equal(t, codes.FailedPrecondition, util.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_CreateTask_RequiresScope(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewTestClient(db)

	_, err = c.CreateTask(context.Background(), Scope{Principal: "admin"}, &CreateTaskRequest{FunctionID: testFunctionID})
	assert.Equal(t, codes.InvalidArgument, util.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_GetTask_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewTestClient(db)

	mock.ExpectQuery("SELECT (.+) FROM tasks t WHERE").
		WithArgs(testEnvironmentID, testTaskID).
		WillReturnRows(sqlmock.NewRows(taskColumns))

	_, err = c.GetTask(testScope, testTaskID)
	assert.Equal(t, codes.NotFound, util.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_PublishTask(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	publisher := &fakePublisher{}
	c := NewTestClient(db, Dependencies{Publisher: publisher})

	mock.ExpectQuery("SELECT (.+) FROM tasks t WHERE t.id = \\$1").
		WithArgs(testTaskID).
		WillReturnRows(taskRows(StatusPending))
	expectFunction(mock, true, PackageComplete, "a", "b")
	mock.ExpectExec("UPDATE tasks SET (.+) WHERE id = \\$3 AND status = \\$4").
		WithArgs(StatusInProgress, sqlmock.AnyArg(), testTaskID, StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = c.PublishTask(context.Background(), testTaskID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, publisher.messages, 1)
	message := publisher.messages[0]
	assert.Equal(t, broker.PublicQueue, message.routingKey)
	assert.Equal(t, broker.TaskPackageMessage, message.msgType)

	taskPackage, ok := message.body.(*broker.TaskPackage)
	require.True(t, ok)
	assert.Equal(t, testTaskID, taskPackage.ID)
	assert.Equal(t, "math:1", taskPackage.Package)
	assert.Equal(t, "add", taskPackage.Function)
	assert.EqualValues(t, 1, taskPackage.FunctionParameters["a"])
	assert.Empty(t, taskPackage.Variables)
}

func TestClient_PublishTask_BrokerFailureLeavesTaskPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	publisher := &fakePublisher{err: errors.New("connection refused")}
	c := NewTestClient(db, Dependencies{Publisher: publisher})

	mock.ExpectQuery("SELECT (.+) FROM tasks t WHERE t.id = \\$1").
		WithArgs(testTaskID).
		WillReturnRows(taskRows(StatusPending))
	expectFunction(mock, true, PackageComplete, "a", "b")

	err = c.PublishTask(context.Background(), testTaskID)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
