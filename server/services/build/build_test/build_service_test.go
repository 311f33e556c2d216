package build_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/app/server_test"
)

// hierarchy is the build tree of one top-level build: the source package
// build and one deb build per architecture.
type hierarchy struct {
	top    *models.Build
	source *models.Build
	debs   []*models.Build
}

// createHierarchy stores a top-level build with a source build and one deb
// build per architecture, all in the given state.
func createHierarchy(t *testing.T, ctx context.Context, app *server_test.TestServer, repo *models.SourceRepository, projectVersion *models.ProjectVersion, state models.BuildState, architectures ...string) *hierarchy {
	now := models.NewTime(time.Now())

	top := &models.Build{
		CreatedAt:          now,
		State:              state,
		Type:               models.BuildTypeBuild,
		SourceRepositoryID: &repo.ID,
		SourceName:         repo.Name,
		Version:            "1.0.0",
		GitRef:             "v1.0.0",
	}
	err := app.BuildService.Create(ctx, nil, top)
	require.NoError(t, err)

	source := &models.Build{
		CreatedAt:          now,
		State:              state,
		Type:               models.BuildTypeSource,
		ParentID:           &top.ID,
		SourceRepositoryID: &repo.ID,
		SourceName:         repo.Name,
		Version:            "1.0.0",
		GitRef:             "v1.0.0",
	}
	err = app.BuildService.Create(ctx, nil, source)
	require.NoError(t, err)

	var debs []*models.Build
	for _, architecture := range architectures {
		deb := &models.Build{
			CreatedAt:          now,
			State:              state,
			Type:               models.BuildTypeDeb,
			ParentID:           &source.ID,
			SourceRepositoryID: &repo.ID,
			SourceName:         repo.Name,
			Version:            "1.0.0",
			GitRef:             "v1.0.0",
			Architecture:       architecture,
		}
		if projectVersion != nil {
			deb.ProjectVersionID = &projectVersion.ID
		}
		err = app.BuildService.Create(ctx, nil, deb)
		require.NoError(t, err)
		debs = append(debs, deb)
	}

	return &hierarchy{top: top, source: source, debs: debs}
}

// drainNotifications empties the notification queue and returns what was in
// it. The notifier is not started in tests, so enqueued items stay put.
func drainNotifications(app *server_test.TestServer) []*models.Notification {
	var notifications []*models.Notification
	for app.Queues.Notifications.Len() > 0 {
		notifications = append(notifications, app.Queues.Notifications.Dequeue())
	}
	return notifications
}

func readState(t *testing.T, ctx context.Context, app *server_test.TestServer, id int64) models.BuildState {
	build, err := app.BuildService.Read(ctx, nil, id)
	require.NoError(t, err)
	return build.State
}

func TestCreateDefaults(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)

	build := &models.Build{
		Type:               models.BuildTypeBuild,
		SourceRepositoryID: &repo.ID,
		SourceName:         repo.Name,
	}
	err = app.BuildService.Create(ctx, nil, build)
	require.NoError(t, err)

	created, err := app.BuildService.Read(ctx, nil, build.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateNew, created.State)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Nil(t, created.StartedAt)
	assert.Nil(t, created.EndedAt)

	// Deb builds must name an architecture.
	invalid := &models.Build{
		Type:               models.BuildTypeDeb,
		ParentID:           &build.ID,
		SourceRepositoryID: &repo.ID,
	}
	err = app.BuildService.Create(ctx, nil, invalid)
	require.Error(t, err)
}

func TestDebFailureFailsTopLevelBuild(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	builds := createHierarchy(t, ctx, app, repo, nil, models.BuildStateBuilding, "amd64", "arm64")

	err = app.BuildService.SetFailed(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)

	// The failed deb build is finished with its timestamps set.
	failed, err := app.BuildService.Read(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateBuildFailed, failed.State)
	assert.NotNil(t, failed.BuiltAt)
	assert.NotNil(t, failed.EndedAt)

	// The failure escalates to the top-level build. The sibling deb build
	// and the source build keep running.
	assert.Equal(t, models.BuildStateBuildFailed, readState(t, ctx, app, builds.top.ID))
	assert.Equal(t, models.BuildStateBuilding, readState(t, ctx, app, builds.debs[1].ID))
	assert.Equal(t, models.BuildStateBuilding, readState(t, ctx, app, builds.source.ID))

	// A second deb failure leaves the already failed top-level build alone.
	err = app.BuildService.SetFailed(ctx, nil, builds.debs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateBuildFailed, readState(t, ctx, app, builds.top.ID))
}

func TestPublishFailureFailsTopLevelBuild(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	builds := createHierarchy(t, ctx, app, repo, nil, models.BuildStatePublishing, "amd64")

	err = app.BuildService.SetPublishFailed(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)

	assert.Equal(t, models.BuildStatePublishFailed, readState(t, ctx, app, builds.debs[0].ID))

	// The top-level build always ends in build_failed, also for publish
	// failures.
	assert.Equal(t, models.BuildStateBuildFailed, readState(t, ctx, app, builds.top.ID))
}

func TestLastSuccessfulDebFinishesTopLevelBuild(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	builds := createHierarchy(t, ctx, app, repo, nil, models.BuildStatePublishing, "amd64", "arm64")

	// The first deb build succeeding leaves the top-level build running.
	err = app.BuildService.SetSuccessful(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateSuccessful, readState(t, ctx, app, builds.debs[0].ID))
	assert.Equal(t, models.BuildStatePublishing, readState(t, ctx, app, builds.top.ID))

	// The last one finishes it.
	err = app.BuildService.SetSuccessful(ctx, nil, builds.debs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateSuccessful, readState(t, ctx, app, builds.top.ID))

	top, err := app.BuildService.Read(ctx, nil, builds.top.ID)
	require.NoError(t, err)
	assert.NotNil(t, top.EndedAt)
}

func TestFailedSiblingBlocksTopLevelSuccess(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	builds := createHierarchy(t, ctx, app, repo, nil, models.BuildStateBuilding, "amd64", "arm64")

	err = app.BuildService.SetFailed(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)
	err = app.BuildService.SetSuccessful(ctx, nil, builds.debs[1].ID)
	require.NoError(t, err)

	// One sibling failed, so the top-level build stays failed even though
	// the other one succeeded afterwards.
	assert.Equal(t, models.BuildStateBuildFailed, readState(t, ctx, app, builds.top.ID))
}

func TestSourceFailureFailsParent(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	builds := createHierarchy(t, ctx, app, repo, nil, models.BuildStateBuilding, "amd64")

	err = app.BuildService.SetFailed(ctx, nil, builds.source.ID)
	require.NoError(t, err)

	assert.Equal(t, models.BuildStateBuildFailed, readState(t, ctx, app, builds.source.ID))
	assert.Equal(t, models.BuildStateBuildFailed, readState(t, ctx, app, builds.top.ID))
	assert.Equal(t, models.BuildStateBuilding, readState(t, ctx, app, builds.debs[0].ID))
}

func TestSetNeedsBuildReopensTopLevelBuild(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	builds := createHierarchy(t, ctx, app, repo, nil, models.BuildStateBuilding, "amd64", "arm64")

	// One deb build failed, which also failed and finished the top-level
	// build.
	err = app.BuildService.SetFailed(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)
	top, err := app.BuildService.Read(ctx, nil, builds.top.ID)
	require.NoError(t, err)
	require.Equal(t, models.BuildStateBuildFailed, top.State)
	require.NotNil(t, top.EndedAt)

	// Resetting the deb build for a rebuild reopens the top-level build.
	err = app.BuildService.SetNeedsBuild(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)

	deb, err := app.BuildService.Read(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateNeedsBuild, deb.State)
	assert.Nil(t, deb.BuiltAt)
	assert.Nil(t, deb.EndedAt)

	top, err = app.BuildService.Read(ctx, nil, builds.top.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateBuilding, top.State)
	assert.Nil(t, top.EndedAt)

	// Resetting the second deb build finds the top-level build already
	// building and leaves it alone.
	err = app.BuildService.SetNeedsBuild(ctx, nil, builds.debs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateBuilding, readState(t, ctx, app, builds.top.ID))
}

func TestCanRebuild(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	basemirror := server_test.CreateBasemirror(t, ctx, app, "", "", "amd64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "", "", basemirror)

	// Only failed builds can be rebuilt.
	successful := server_test.CreateBuild(t, ctx, app, repo, models.BuildTypeBuild, models.BuildStateSuccessful)
	can, err := app.BuildService.CanRebuild(ctx, nil, successful)
	require.NoError(t, err)
	assert.False(t, can)

	failed := server_test.CreateBuild(t, ctx, app, repo, models.BuildTypeBuild, models.BuildStateBuildFailed)
	can, err = app.BuildService.CanRebuild(ctx, nil, failed)
	require.NoError(t, err)
	assert.True(t, can)

	// A build of an unlocked project version can be rebuilt, one of a
	// locked project version cannot.
	builds := createHierarchy(t, ctx, app, repo, projectVersion, models.BuildStateBuilding, "amd64")
	err = app.BuildService.SetFailed(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)
	deb, err := app.BuildService.Read(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)

	can, err = app.BuildService.CanRebuild(ctx, nil, deb)
	require.NoError(t, err)
	assert.True(t, can)

	projectVersion.IsLocked = true
	err = app.ProjectVersionStore.Update(ctx, nil, projectVersion)
	require.NoError(t, err)

	can, err = app.BuildService.CanRebuild(ctx, nil, deb)
	require.NoError(t, err)
	assert.False(t, can)
}

func TestDataAttachesProject(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	basemirror := server_test.CreateBasemirror(t, ctx, app, "debian-data", "12", "amd64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "dataproject", "next", basemirror)

	builds := createHierarchy(t, ctx, app, repo, projectVersion, models.BuildStateBuilding, "amd64")
	deb, err := app.BuildService.Read(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)

	// Deb builds of a regular project version carry project information.
	data, err := app.BuildService.Data(ctx, nil, deb)
	require.NoError(t, err)
	require.NotNil(t, data.Project)
	assert.Equal(t, "dataproject", data.Project.Name)
	assert.Equal(t, "next", data.Project.Version)
	assert.Equal(t, "building", data.BuildState)
	assert.Equal(t, "deb", data.BuildType)
	assert.Equal(t, "amd64", data.Architecture)

	// Chroot builds of a mirror version do not, the mirror is not a project
	// users browse.
	chroot := server_test.CreateReadyChroot(t, ctx, app, basemirror, "amd64")
	chrootBuild, err := app.BuildService.Read(ctx, nil, chroot.BuildID)
	require.NoError(t, err)
	data, err = app.BuildService.Data(ctx, nil, chrootBuild)
	require.NoError(t, err)
	assert.Nil(t, data.Project)
}

func TestStateChangesNotifySubscribersAndHooks(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	builds := createHierarchy(t, ctx, app, repo, nil, models.BuildStateNeedsBuild, "amd64")
	drainNotifications(app)

	// Scheduling a deb build announces the change but does not fire hooks.
	claimed, err := app.BuildService.SetScheduled(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)
	require.True(t, claimed)
	notifications := drainNotifications(app)
	require.Len(t, notifications, 1)
	require.NotNil(t, notifications[0].Event)
	assert.Equal(t, models.SubjectBuild, notifications[0].Event.Subject)
	assert.Equal(t, models.EventChanged, notifications[0].Event.Event)

	// A deb build starting to build additionally queues its hooks.
	err = app.BuildService.SetBuilding(ctx, nil, builds.debs[0].ID)
	require.NoError(t, err)
	notifications = drainNotifications(app)
	require.Len(t, notifications, 2)
	require.NotNil(t, notifications[0].Event)
	assert.Equal(t, builds.debs[0].ID, notifications[1].HooksBuildID)

	// Source build state changes never fire hooks.
	err = app.BuildService.SetBuilding(ctx, nil, builds.source.ID)
	require.NoError(t, err)
	notifications = drainNotifications(app)
	require.Len(t, notifications, 1)
	assert.Zero(t, notifications[0].HooksBuildID)
}
