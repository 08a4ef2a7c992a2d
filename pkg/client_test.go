package v1

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/onepanelio/functionary/pkg/broker"
	"github.com/onepanelio/functionary/pkg/worker"
	"github.com/spf13/viper"
)

const (
	testEnvironmentID = "00000000-0000-0000-0000-0000000000e1"
	testPackageID     = "00000000-0000-0000-0000-0000000000a1"
	testFunctionID    = "00000000-0000-0000-0000-0000000000f1"
	testTaskID        = "00000000-0000-0000-0000-0000000000c1"
)

var testScope = Scope{EnvironmentID: testEnvironmentID, Principal: "admin"}

// NewTestClient returns a client backed by a sqlmock database. Only the first deps is used.
func NewTestClient(db *sql.DB, deps ...Dependencies) *Client {
	var dependencies Dependencies
	if len(deps) > 0 {
		dependencies = deps[0]
	}

	return NewClient(NewDB(sqlx.NewDb(db, "sqlmock")), NewSystemConfig(viper.New()), dependencies)
}

type publishedMessage struct {
	exchange   string
	routingKey string
	msgType    broker.MessageType
	body       interface{}
}

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	messages []publishedMessage
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, msgType broker.MessageType, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, publishedMessage{exchange, routingKey, msgType, body})

	return nil
}

func (p *fakePublisher) published() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]publishedMessage(nil), p.messages...)
}

// recordingJobs keeps submitted jobs without running them.
type recordingJobs struct {
	jobs []worker.Job
}

func (r *recordingJobs) Submit(ctx context.Context, job worker.Job) error {
	r.jobs = append(r.jobs, job)
	return nil
}

var (
	functionColumns  = []string{"id", "package_id", "environment_id", "name", "display_name", "summary", "description", "return_type", "variables", "active", "created_at", "updated_at"}
	packageColumns   = []string{"id", "environment_id", "name", "display_name", "summary", "description", "language", "image_name", "status", "created_at", "updated_at"}
	parameterColumns = []string{"id", "name", "display_name", "description", "parameter_type", "required", "default_value", "options"}
	taskColumns      = []string{"id", "environment_id", "function_id", "parameters", "status", "creator", "scheduled_task_id", "created_at", "updated_at"}
)

// functionRows is one function row joined with its package, as selected by functionsSelectBuilder.
func functionRows(active bool, packageStatus PackageStatus) *sqlmock.Rows {
	columns := append([]string{}, functionColumns...)
	for _, column := range packageColumns {
		columns = append(columns, "package."+column)
	}

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return sqlmock.NewRows(columns).AddRow(
		testFunctionID, testPackageID, testEnvironmentID, "add", nil, nil, nil, nil, "{}", active, created, created,
		testPackageID, testEnvironmentID, "math", nil, nil, nil, "python", "math:1", string(packageStatus), created, created,
	)
}

// integerParameterRows declares required integer parameters named names.
func integerParameterRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows(parameterColumns)
	for i, name := range names {
		rows.AddRow(string(rune('a'+i)), name, nil, nil, "integer", true, nil, "[]")
	}

	return rows
}

func taskRows(status Status) *sqlmock.Rows {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return sqlmock.NewRows(taskColumns).
		AddRow(testTaskID, testEnvironmentID, testFunctionID, []byte(`{"a":1,"b":2}`), string(status), "admin", nil, created, created)
}
