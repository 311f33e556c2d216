package backend_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"

	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/app/server_test"
)

// debBuildTree stores a top-level build, its source build and one deb build
// in the given state, plus the build task token of the deb build.
func debBuildTree(t *testing.T, ctx context.Context, app *server_test.TestServer, state models.BuildState) (top, source, deb *models.Build) {
	repo := server_test.CreateRepo(t, ctx, app)
	now := models.NewTime(time.Now())

	top = &models.Build{
		CreatedAt:          now,
		State:              state,
		Type:               models.BuildTypeBuild,
		SourceRepositoryID: &repo.ID,
		SourceName:         repo.Name,
		Version:            "2.0.1",
	}
	require.NoError(t, app.BuildStore.Create(ctx, nil, top))

	source = &models.Build{
		CreatedAt:          now,
		State:              state,
		Type:               models.BuildTypeSource,
		ParentID:           &top.ID,
		SourceRepositoryID: &repo.ID,
		SourceName:         repo.Name,
		Version:            "2.0.1",
	}
	require.NoError(t, app.BuildStore.Create(ctx, nil, source))

	deb = &models.Build{
		CreatedAt:          now,
		State:              state,
		Type:               models.BuildTypeDeb,
		ParentID:           &source.ID,
		SourceRepositoryID: &repo.ID,
		SourceName:         repo.Name,
		Version:            "2.0.1",
		Architecture:       "amd64",
	}
	require.NoError(t, app.BuildStore.Create(ctx, nil, deb))

	require.NoError(t, app.BuildTaskStore.Create(ctx, nil, &models.BuildTask{
		BuildID: deb.ID,
		TaskID:  "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
	}))
	return top, source, deb
}

// stopBackendWorker closes the backend queue and waits for the worker to
// drain it.
func stopBackendWorker(app *server_test.TestServer) {
	app.Queues.Backend.Close()
	app.BackendWorker.Stop()
}

func TestWorkerTerminatesAfterOutcomeAndLoggingDone(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	_, _, deb := debBuildTree(t, ctx, app, models.BuildStateBuilding)

	app.BackendWorker.Start(ctx)
	defer stopBackendWorker(app)

	// The node reports the outcome first and the end of the log stream
	// second. Only the pair terminates the build.
	app.Backend.ReportSucceeded(deb.ID)
	app.Backend.ReportLoggingDone(deb.ID)

	server_test.WaitForBuildState(t, ctx, app, deb.ID, models.BuildStateNeedsPublish)

	// The successful build was handed to the publisher.
	server_test.WaitFor(t, func() bool { return app.Queues.Publish.Len() == 1 }, "no publish request was enqueued")
	request := app.Queues.Publish.Dequeue()
	assert.Equal(t, models.PublishBinaryPackages, request.Action)
	assert.Equal(t, deb.ID, request.BuildID)
}

func TestWorkerTerminatesReportsInEitherOrder(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	_, _, deb := debBuildTree(t, ctx, app, models.BuildStateBuilding)

	app.BackendWorker.Start(ctx)
	defer stopBackendWorker(app)

	// Log upload finishing before the outcome arrives happens with short
	// builds; nothing terminates until the outcome report.
	app.Backend.ReportLoggingDone(deb.ID)
	app.Backend.ReportSucceeded(deb.ID)

	server_test.WaitForBuildState(t, ctx, app, deb.ID, models.BuildStateNeedsPublish)
}

func TestWorkerFailsBuildReportedFailed(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	top, _, deb := debBuildTree(t, ctx, app, models.BuildStateScheduled)

	app.BackendWorker.Start(ctx)
	defer stopBackendWorker(app)

	app.Backend.ReportStarted(deb.ID)
	server_test.WaitForBuildState(t, ctx, app, deb.ID, models.BuildStateBuilding)

	app.Backend.ReportFailed(deb.ID)
	app.Backend.ReportLoggingDone(deb.ID)

	// The deb build fails, the failure escalates to the top-level build and
	// the build task token is released.
	server_test.WaitForBuildState(t, ctx, app, deb.ID, models.BuildStateBuildFailed)
	server_test.WaitForBuildState(t, ctx, app, top.ID, models.BuildStateBuildFailed)

	_, err = app.BuildTaskStore.ReadForBuild(ctx, nil, deb.ID)
	require.Error(t, err)

	assert.Equal(t, 0, app.Queues.Publish.Len())
}

func TestWorkerHandsScheduledJobToBackend(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	_, _, deb := debBuildTree(t, ctx, app, models.BuildStateNeedsBuild)

	app.BackendWorker.Start(ctx)
	defer stopBackendWorker(app)

	job := &models.BuildRequest{BuildID: deb.ID, Token: "tok", Architecture: "amd64"}
	app.Queues.Backend.Enqueue(&models.BackendEvent{Kind: models.BackendSchedule, BuildID: deb.ID, Job: job})

	server_test.WaitFor(t, func() bool { return len(app.Backend.Jobs()) == 1 }, "job was not handed to the backend")
	assert.Equal(t, deb.ID, app.Backend.Jobs()[0].BuildID)
}

func TestWorkerSchedulesOnNodeRegistration(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	app.BackendWorker.Start(ctx)
	defer stopBackendWorker(app)

	// A node coming online is the moment to hand out waiting builds.
	app.Queues.Backend.Enqueue(&models.BackendEvent{Kind: models.BackendNodeRegistered})

	server_test.WaitFor(t, func() bool { return app.Queues.Tasks.Len() == 1 }, "no schedule task was enqueued")
	task := app.Queues.Tasks.Dequeue()
	assert.Equal(t, models.TaskSchedule, task.Tag)
}
