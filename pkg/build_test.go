package v1

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/onepanelio/functionary/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

const testBuildID = "00000000-0000-0000-0000-0000000000e1"

var buildColumns = []string{"id", "environment_id", "package_id", "name", "status", "creator", "created_at", "updated_at"}

type fakeImages struct {
	built  []string
	pushed []string
}

func (f *fakeImages) BuildImage(ctx context.Context, buildContext io.Reader, tag string) (string, error) {
	f.built = append(f.built, tag)
	return "built", nil
}

func (f *fakeImages) PushImage(ctx context.Context, tag string) (string, error) {
	f.pushed = append(f.pushed, tag)
	return "pushed", nil
}

func TestClient_PublishPackage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	jobs := &recordingJobs{}
	c := NewTestClient(db, Dependencies{Jobs: jobs, Images: &fakeImages{}})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT p.id FROM packages p WHERE p.environment_id = \\$1 AND p.name = \\$2").
		WithArgs(testEnvironmentID, "math").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO builds").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO build_resources").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	contents := packageArchive(t, map[string]string{
		"package.yaml": mathManifest,
		"main.py":      "print('hi')",
	})
	build, err := c.PublishPackage(context.Background(), testScope, contents)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "math", build.Name)
	assert.Equal(t, StatusPending, build.Status)
	assert.Nil(t, build.PackageID)
	assert.Equal(t, "admin", build.Creator)
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, "build_package "+build.ID, jobs.jobs[0].Name)
}

func TestClient_PublishPackage_InvalidArchive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	jobs := &recordingJobs{}
	c := NewTestClient(db, Dependencies{Jobs: jobs, Images: &fakeImages{}})

	contents := packageArchive(t, map[string]string{"main.py": "print('hi')"})
	_, err = c.PublishPackage(context.Background(), testScope, contents)
	assert.Equal(t, codes.InvalidArgument, util.Code(err))
	assert.Contains(t, err.Error(), "package.yaml not found")
	assert.Empty(t, jobs.jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_PublishPackage_NoImageBuilder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewTestClient(db)

	_, err = c.PublishPackage(context.Background(), testScope, nil)
	assert.Equal(t, codes.FailedPrecondition, util.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_BuildPackage_SkipsStartedBuild(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	images := &fakeImages{}
	c := NewTestClient(db, Dependencies{Images: images})

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM builds b WHERE b.id = \\$1").
		WithArgs(testBuildID).
		WillReturnRows(sqlmock.NewRows(buildColumns).
			AddRow(testBuildID, testEnvironmentID, testPackageID, "math", string(StatusComplete), "admin", created, created))
	mock.ExpectCommit()

	err = c.BuildPackage(context.Background(), testBuildID)
	assert.NoError(t, err)
	assert.Empty(t, images.built)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_GetBuildLog_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewTestClient(db)

	mock.ExpectQuery("SELECT bl.build_id, bl.log FROM build_logs bl JOIN builds b ON b.id = bl.build_id WHERE").
		WithArgs(testEnvironmentID, testBuildID).
		WillReturnRows(sqlmock.NewRows([]string{"build_id", "log"}))

	_, err = c.GetBuildLog(testScope, testBuildID)
	assert.Equal(t, codes.NotFound, util.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImageName(t *testing.T) {
	assert.Equal(t, "env/math:b1", imageName("env", "math", "b1"))
}

func TestClient_FinishBuild_CompleteFailureMarksError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewTestClient(db, Dependencies{Images: &fakeImages{}})

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE builds SET package_id = \\$1 WHERE id = \\$2").
		WithArgs(testPackageID, testBuildID).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE builds SET status = \\$1, updated_at = \\$2 WHERE id = \\$3").
		WithArgs(StatusError, sqlmock.AnyArg(), testBuildID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM build_resources WHERE build_id = \\$1").
		WithArgs(testBuildID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO build_logs (.+) ON CONFLICT \\(build_id\\) DO UPDATE").
		WithArgs(testBuildID, "built\nconnection reset").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	build := &Build{ID: testBuildID, EnvironmentID: testEnvironmentID, Status: StatusInProgress}
	err = c.finishBuild(context.Background(), build, func(tx *Tx) (*Package, error) {
		return &Package{ID: testPackageID}, nil
	}, "built")
	assert.EqualError(t, err, "connection reset")
	assert.Equal(t, StatusError, build.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
