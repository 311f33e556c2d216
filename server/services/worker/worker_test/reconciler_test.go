package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/app/server_test"
	"github.com/molior-deb/molior/server/services/worker"
)

func newReconciler(app *server_test.TestServer) *worker.Reconciler {
	return worker.NewReconciler(app.BuildStore, app.BuildTaskStore, app.RepoStore, app.BuildService, app.LogFactory)
}

func TestReconcilerFailsAbandonedBuilds(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)

	// A build tree the previous server run left behind: the source build
	// stuck in building, one deb build stuck in publishing and still holding
	// its build task token.
	top := server_test.CreateBuild(t, ctx, app, repo, models.BuildTypeBuild, models.BuildStateBuilding)
	source := &models.Build{
		CreatedAt:          models.NewTime(time.Now()),
		State:              models.BuildStateBuilding,
		Type:               models.BuildTypeSource,
		ParentID:           &top.ID,
		SourceRepositoryID: &repo.ID,
		SourceName:         repo.Name,
	}
	require.NoError(t, app.BuildStore.Create(ctx, nil, source))
	deb := &models.Build{
		CreatedAt:          models.NewTime(time.Now()),
		State:              models.BuildStatePublishing,
		Type:               models.BuildTypeDeb,
		ParentID:           &source.ID,
		SourceRepositoryID: &repo.ID,
		SourceName:         repo.Name,
		Architecture:       "amd64",
	}
	require.NoError(t, app.BuildStore.Create(ctx, nil, deb))
	require.NoError(t, app.BuildTaskStore.Create(ctx, nil, &models.BuildTask{
		BuildID: deb.ID,
		TaskID:  "11111111-2222-3333-4444-555555555555",
	}))

	err = newReconciler(app).Run(ctx)
	require.NoError(t, err)

	// The stuck children failed and the failure settled the top-level
	// build. The top-level build itself was not failed directly: it was in
	// building too, but only its children can be abandoned.
	sourceAfter, err := app.BuildStore.Read(ctx, nil, source.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateBuildFailed, sourceAfter.State)

	debAfter, err := app.BuildStore.Read(ctx, nil, deb.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStatePublishFailed, debAfter.State)

	topAfter, err := app.BuildStore.Read(ctx, nil, top.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateBuildFailed, topAfter.State)

	// The build task token was released.
	_, err = app.BuildTaskStore.ReadForBuild(ctx, nil, deb.ID)
	require.Error(t, err)
}

func TestReconcilerLeavesTopLevelBuildsAlone(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)

	// A top-level build in building with no children, e.g. one whose build
	// process is about to create them.
	top := server_test.CreateBuild(t, ctx, app, repo, models.BuildTypeBuild, models.BuildStateBuilding)

	err = newReconciler(app).Run(ctx)
	require.NoError(t, err)

	topAfter, err := app.BuildStore.Read(ctx, nil, top.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateBuilding, topAfter.State)
}

func TestReconcilerIsIdempotent(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	source := server_test.CreateBuild(t, ctx, app, repo, models.BuildTypeSource, models.BuildStateBuilding)

	reconciler := newReconciler(app)
	require.NoError(t, reconciler.Run(ctx))

	first, err := app.BuildStore.Read(ctx, nil, source.ID)
	require.NoError(t, err)
	require.Equal(t, models.BuildStateBuildFailed, first.State)

	// The second run finds nothing in building or publishing and changes
	// nothing.
	require.NoError(t, reconciler.Run(ctx))

	second, err := app.BuildStore.Read(ctx, nil, source.ID)
	require.NoError(t, err)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.EndedAt, second.EndedAt)
}

func TestReconcilerNamesUnnamedRepos(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	// A repository created before the name backfill existed.
	unnamed := &models.SourceRepository{
		CreatedAt: models.NewTime(time.Now()),
		URL:       "ssh://git@testgit/testing/legacy-app.git",
		State:     models.RepoStateReady,
	}
	require.NoError(t, app.RepoStore.Create(ctx, nil, unnamed))

	// One whose URL has no repository name to derive.
	unparseable := &models.SourceRepository{
		CreatedAt: models.NewTime(time.Now()),
		URL:       "https://testgit.example.com",
		State:     models.RepoStateReady,
	}
	require.NoError(t, app.RepoStore.Create(ctx, nil, unparseable))

	err = newReconciler(app).Run(ctx)
	require.NoError(t, err)

	named, err := app.RepoStore.Read(ctx, nil, unnamed.ID)
	require.NoError(t, err)
	assert.Equal(t, "legacy-app", named.Name)

	skipped, err := app.RepoStore.Read(ctx, nil, unparseable.ID)
	require.NoError(t, err)
	assert.Equal(t, "", skipped.Name)
}
