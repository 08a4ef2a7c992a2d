package v1

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/onepanelio/functionary/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func packageRows(status PackageStatus) *sqlmock.Rows {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return sqlmock.NewRows(packageColumns).
		AddRow(testPackageID, testEnvironmentID, "math", nil, nil, nil, "python", "math:1", string(status), created, created)
}

func TestClient_GetPackage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewTestClient(db)

	mock.ExpectQuery("SELECT (.+) FROM packages p WHERE p.environment_id = \\$1 AND p.id = \\$2").
		WithArgs(testEnvironmentID, testPackageID).
		WillReturnRows(packageRows(PackageComplete))
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM functions f WHERE f.environment_id = \\$1 AND f.package_id = \\$2 ORDER BY f.name").
		WithArgs(testEnvironmentID, testPackageID).
		WillReturnRows(sqlmock.NewRows(functionColumns).
			AddRow(testFunctionID, testPackageID, testEnvironmentID, "add", nil, nil, nil, nil, "{API_TOKEN}", true, created, created))

	pkg, err := c.GetPackage(testScope, testPackageID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "math", pkg.Name)
	assert.Equal(t, PackageComplete, pkg.Status)
	require.Len(t, pkg.Functions, 1)
	assert.Equal(t, "add", pkg.Functions[0].Name)
	assert.Equal(t, []string{"API_TOKEN"}, []string(pkg.Functions[0].Variables))
}

func TestClient_GetPackage_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewTestClient(db)

	mock.ExpectQuery("SELECT (.+) FROM packages p WHERE").
		WithArgs(testEnvironmentID, testPackageID).
		WillReturnRows(sqlmock.NewRows(packageColumns))

	_, err = c.GetPackage(testScope, testPackageID)
	assert.Equal(t, codes.NotFound, util.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_SetPackageEnabled_Pending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewTestClient(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM packages p WHERE").
		WithArgs(testEnvironmentID, testPackageID).
		WillReturnRows(packageRows(PackagePending))
	mock.ExpectRollback()

	_, err = c.SetPackageEnabled(context.Background(), testScope, testPackageID, true)
	assert.Equal(t, codes.FailedPrecondition, util.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_SetPackageEnabled_Disable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewTestClient(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM packages p WHERE").
		WithArgs(testEnvironmentID, testPackageID).
		WillReturnRows(packageRows(PackageComplete))
	mock.ExpectExec("UPDATE packages SET status = \\$1, updated_at = \\$2 WHERE id = \\$3").
		WithArgs(PackageDisabled, sqlmock.AnyArg(), testPackageID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT f.id FROM functions f WHERE f.active = \\$1 AND f.package_id = \\$2").
		WithArgs(true, testPackageID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testFunctionID))
	mock.ExpectExec("UPDATE scheduled_tasks SET status = \\$1, updated_at = \\$2 WHERE function_id IN \\(\\$3\\) AND status = \\$4").
		WithArgs(ScheduledTaskPaused, sqlmock.AnyArg(), testFunctionID, ScheduledTaskActive).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	pkg, err := c.SetPackageEnabled(context.Background(), testScope, testPackageID, false)
	require.NoError(t, err)
	assert.Equal(t, PackageDisabled, pkg.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_SetPackageEnabled_Unchanged(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewTestClient(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM packages p WHERE").
		WithArgs(testEnvironmentID, testPackageID).
		WillReturnRows(packageRows(PackageEnabled))
	mock.ExpectCommit()

	pkg, err := c.SetPackageEnabled(context.Background(), testScope, testPackageID, true)
	require.NoError(t, err)
	assert.Equal(t, PackageEnabled, pkg.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type denyAll struct{}

func (denyAll) IsAuthorized(Scope, Action, string) (bool, error) {
	return false, nil
}

func TestClient_SetPackageEnabled_NotAuthorized(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewTestClient(db, Dependencies{Authorizer: denyAll{}})

	_, err = c.SetPackageEnabled(context.Background(), testScope, testPackageID, true)
	assert.Equal(t, codes.PermissionDenied, util.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
