package scheduler_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"

	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/app/server_test"
)

// createPendingDebBuild stores a deb build waiting for the scheduler.
func createPendingDebBuild(t *testing.T, ctx context.Context, app *server_test.TestServer, repo *models.SourceRepository, projectVersion *models.ProjectVersion, architecture string) *models.Build {
	build := &models.Build{
		CreatedAt:          models.NewTime(time.Now()),
		State:              models.BuildStateNeedsBuild,
		Type:               models.BuildTypeDeb,
		SourceRepositoryID: &repo.ID,
		ProjectVersionID:   &projectVersion.ID,
		SourceName:         repo.Name,
		Version:            "1.2.3",
		GitRef:             "v1.2.3",
		Architecture:       architecture,
	}
	err := app.BuildStore.Create(ctx, nil, build)
	require.NoError(t, err)
	return build
}

func TestScheduleBuildsWithoutIdleNode(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	basemirror := server_test.CreateBasemirror(t, ctx, app, "", "", "amd64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "", "", basemirror)
	server_test.AttachRepo(t, ctx, app, repo, projectVersion, "amd64", false)
	build := createPendingDebBuild(t, ctx, app, repo, projectVersion, "amd64")

	// No node registered at all: the pass is a no-op and the build stays
	// pending for the next one.
	err = app.SchedulerService.ScheduleBuilds(ctx)
	require.NoError(t, err)

	after, err := app.BuildStore.Read(ctx, nil, build.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateNeedsBuild, after.State)
	assert.Empty(t, app.Backend.Jobs())
	assert.Equal(t, 0, app.Queues.Backend.Len())

	_, err = app.BuildTaskStore.ReadForBuild(ctx, nil, build.ID)
	require.Error(t, err)
}

func TestScheduleBuildsComposesRequest(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	basemirror := server_test.CreateBasemirror(t, ctx, app, "debian-sched", "12", "amd64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "schedproject", "next", basemirror)
	server_test.AttachRepo(t, ctx, app, repo, projectVersion, "amd64", true)
	build := createPendingDebBuild(t, ctx, app, repo, projectVersion, "amd64")

	app.Backend.SetIdle("amd64", true)
	err = app.SchedulerService.ScheduleBuilds(ctx)
	require.NoError(t, err)

	after, err := app.BuildStore.Read(ctx, nil, build.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateScheduled, after.State)

	require.Equal(t, 1, app.Queues.Backend.Len())
	event := app.Queues.Backend.Dequeue()
	require.Equal(t, models.BackendSchedule, event.Kind)
	require.NotNil(t, event.Job)

	// The request carries everything a node needs: the platform from the
	// base mirror and the apt sources of both the mirror and the project.
	job := event.Job
	assert.Equal(t, build.ID, job.BuildID)
	assert.NotEmpty(t, job.Token)
	assert.Equal(t, repo.Name, job.SourceName)
	assert.Equal(t, "1.2.3", job.Version)
	assert.Equal(t, "amd64", job.Architecture)
	assert.Equal(t, "debian-sched", job.DistRelease)
	assert.Equal(t, "12", job.DistVersion)
	assert.Equal(t, "schedproject", job.Project)
	assert.Equal(t, "next", job.ProjectVersion)
	assert.Equal(t, "http://molior-test:3142", job.AptServer)
	assert.Equal(t,
		"deb http://molior-test:3142/debian-sched/12 bookworm main\n"+
			"deb http://molior-test:3142/schedproject/next stable main",
		job.AptURLs)
	assert.True(t, job.RunLintian)

	// The build task token pairs later node reports with the build.
	buildTask, err := app.BuildTaskStore.ReadForBuild(ctx, nil, build.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Token, buildTask.TaskID)
}

func TestScheduleBuildsSkipsArchitecturesWithoutNodes(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	basemirror := server_test.CreateBasemirror(t, ctx, app, "", "", "amd64", "arm64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "", "", basemirror)
	server_test.AttachRepo(t, ctx, app, repo, projectVersion, "amd64 arm64", false)
	amd64Build := createPendingDebBuild(t, ctx, app, repo, projectVersion, "amd64")
	arm64Build := createPendingDebBuild(t, ctx, app, repo, projectVersion, "arm64")

	app.Backend.SetIdle("amd64", true)
	err = app.SchedulerService.ScheduleBuilds(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.BuildStateScheduled, readState(t, ctx, app, amd64Build.ID))
	assert.Equal(t, models.BuildStateNeedsBuild, readState(t, ctx, app, arm64Build.ID))

	require.Equal(t, 1, app.Queues.Backend.Len())
	event := app.Queues.Backend.Dequeue()
	assert.Equal(t, amd64Build.ID, event.BuildID)
}

func TestScheduleBuildsOldestFirst(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	basemirror := server_test.CreateBasemirror(t, ctx, app, "", "", "amd64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "", "", basemirror)
	server_test.AttachRepo(t, ctx, app, repo, projectVersion, "amd64", false)
	first := createPendingDebBuild(t, ctx, app, repo, projectVersion, "amd64")
	second := createPendingDebBuild(t, ctx, app, repo, projectVersion, "amd64")

	app.Backend.SetIdle("amd64", true)
	err = app.SchedulerService.ScheduleBuilds(ctx)
	require.NoError(t, err)

	require.Equal(t, 2, app.Queues.Backend.Len())
	assert.Equal(t, first.ID, app.Queues.Backend.Dequeue().BuildID)
	assert.Equal(t, second.ID, app.Queues.Backend.Dequeue().BuildID)
}

func TestScheduleBuildsConcurrentPassesDispatchOnce(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	basemirror := server_test.CreateBasemirror(t, ctx, app, "", "", "amd64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "", "", basemirror)
	server_test.AttachRepo(t, ctx, app, repo, projectVersion, "amd64", false)
	build := createPendingDebBuild(t, ctx, app, repo, projectVersion, "amd64")

	// Park the first pass at the idle check after it has already listed the
	// pending build, let a second pass run to completion, then resume.
	app.Backend.SetIdle("amd64", true)
	entered := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	app.Backend.SetIdleHook(func(string) {
		once.Do(func() {
			close(entered)
			<-gate
		})
	})

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- app.SchedulerService.ScheduleBuilds(ctx)
	}()
	<-entered

	require.NoError(t, app.SchedulerService.ScheduleBuilds(ctx))
	assert.Equal(t, models.BuildStateScheduled, readState(t, ctx, app, build.ID))

	close(gate)
	require.NoError(t, <-firstDone)

	// The build was dispatched exactly once, with a single task token.
	require.Equal(t, 1, app.Queues.Backend.Len())
	event := app.Queues.Backend.Dequeue()
	assert.Equal(t, build.ID, event.BuildID)
	buildTask, err := app.BuildTaskStore.ReadForBuild(ctx, nil, build.ID)
	require.NoError(t, err)
	assert.Equal(t, event.Job.Token, buildTask.TaskID)
}

func TestScheduleBuildsSkipsBuildWithoutProjectVersion(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	build := &models.Build{
		CreatedAt:          models.NewTime(time.Now()),
		State:              models.BuildStateNeedsBuild,
		Type:               models.BuildTypeDeb,
		SourceRepositoryID: &repo.ID,
		SourceName:         repo.Name,
		Architecture:       "amd64",
	}
	require.NoError(t, app.BuildStore.Create(ctx, nil, build))

	app.Backend.SetIdle("amd64", true)

	// The request cannot be composed; the pass logs the problem and keeps
	// going, leaving the build untouched.
	err = app.SchedulerService.ScheduleBuilds(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.BuildStateNeedsBuild, readState(t, ctx, app, build.ID))
	assert.Equal(t, 0, app.Queues.Backend.Len())
}

func readState(t *testing.T, ctx context.Context, app *server_test.TestServer, id int64) models.BuildState {
	build, err := app.BuildStore.Read(ctx, nil, id)
	require.NoError(t, err)
	return build.State
}
