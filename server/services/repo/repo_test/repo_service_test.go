package repo_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/app/server_test"
)

// seedCheckout creates the on-disk checkout directory of a repository.
func seedCheckout(t *testing.T, workingDir string, repo *models.SourceRepository) {
	t.Helper()
	require.NoError(t, os.MkdirAll(repo.SrcPath(workingDir), 0755))
}

func setRepoState(t *testing.T, ctx context.Context, app *server_test.TestServer, repo *models.SourceRepository, state models.RepoState) {
	repo.State = state
	require.NoError(t, app.RepoStore.Update(ctx, nil, repo))
}

func TestStartCloneDropsRepoNotInCloneableState(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	// A ready repository has a checkout already, a second clone request for
	// it is a duplicate and dropped.
	repo := server_test.CreateRepo(t, ctx, app)
	build := server_test.CreateBuild(t, ctx, app, repo, models.BuildTypeBuild, models.BuildStateNew)

	err = app.RepoService.StartClone(ctx, &models.Task{Tag: models.TaskClone, BuildID: build.ID, RepoID: repo.ID})
	require.NoError(t, err)

	after, err := app.RepoStore.Read(ctx, nil, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RepoStateReady, after.State)

	// Same for a repository another task currently owns.
	setRepoState(t, ctx, app, repo, models.RepoStateBusy)
	err = app.RepoService.StartClone(ctx, &models.Task{Tag: models.TaskClone, BuildID: build.ID, RepoID: repo.ID})
	require.NoError(t, err)

	after, err = app.RepoStore.Read(ctx, nil, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RepoStateBusy, after.State)
}

func TestStartCloneFailsBuildOnUnreachableRemote(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	// The remote host does not exist, so the clone fails and the repository
	// lands in the error state. A later clone request may retry from there.
	repo := server_test.CreateRepoWithURL(t, ctx, app, "ssh://git@does-not-resolve.invalid/testing/app.git")
	setRepoState(t, ctx, app, repo, models.RepoStateNew)
	build := server_test.CreateBuild(t, ctx, app, repo, models.BuildTypeBuild, models.BuildStateNew)

	err = app.RepoService.StartClone(ctx, &models.Task{Tag: models.TaskClone, BuildID: build.ID, RepoID: repo.ID})
	require.NoError(t, err)

	server_test.WaitFor(t, func() bool {
		after, err := app.RepoStore.Read(ctx, nil, repo.ID)
		return err == nil && after.State == models.RepoStateError
	}, "repo never reached the error state")

	server_test.WaitForBuildState(t, ctx, app, build.ID, models.BuildStateBuildFailed)
}

func TestBuildLatestRequeuesUntilRepoReady(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	setRepoState(t, ctx, app, repo, models.RepoStateBusy)
	build := server_test.CreateBuild(t, ctx, app, repo, models.BuildTypeBuild, models.BuildStateNew)

	requeue, err := app.RepoService.BuildLatest(ctx, &models.Task{Tag: models.TaskBuildLatest, BuildID: build.ID, RepoID: repo.ID})
	require.NoError(t, err)
	assert.True(t, requeue)

	// The build was not touched, the task will try again.
	after, err := app.BuildStore.Read(ctx, nil, build.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateNew, after.State)
}

func TestBuildLatestFailsBuildWithoutCheckout(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	// The repository claims to be ready but its checkout directory is gone,
	// so resolving the latest tag fails.
	repo := server_test.CreateRepo(t, ctx, app)
	build := server_test.CreateBuild(t, ctx, app, repo, models.BuildTypeBuild, models.BuildStateNew)

	requeue, err := app.RepoService.BuildLatest(ctx, &models.Task{Tag: models.TaskBuildLatest, BuildID: build.ID, RepoID: repo.ID})
	require.NoError(t, err)
	assert.False(t, requeue)

	after, err := app.BuildStore.Read(ctx, nil, build.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateBuildFailed, after.State)

	// The repository was released for the next task.
	repoAfter, err := app.RepoStore.Read(ctx, nil, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RepoStateReady, repoAfter.State)

	assert.Equal(t, 0, app.Queues.Tasks.Len())
}

func TestMergeDuplicateRequeuesUntilBothReady(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	duplicate := server_test.CreateRepo(t, ctx, app)
	setRepoState(t, ctx, app, duplicate, models.RepoStateBusy)

	requeue, err := app.RepoService.MergeDuplicate(ctx, &models.Task{
		Tag:             models.TaskMergeDuplicateRepo,
		RepoID:          repo.ID,
		DuplicateRepoID: duplicate.ID,
	})
	require.NoError(t, err)
	assert.True(t, requeue)

	// Nothing was merged yet.
	_, err = app.RepoStore.Read(ctx, nil, duplicate.ID)
	require.NoError(t, err)
}

func TestMergeDuplicateMovesLinksAndBuilds(t *testing.T) {
	cfg := server_test.TestConfig(t)
	app, cleanup, err := server_test.New(cfg)
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	basemirror := server_test.CreateBasemirror(t, ctx, app, "", "", "amd64")
	originalVersion := server_test.CreateProjectVersion(t, ctx, app, "", "", basemirror)
	duplicateVersion := server_test.CreateProjectVersion(t, ctx, app, "", "", basemirror)

	repo := server_test.CreateRepo(t, ctx, app)
	duplicate := server_test.CreateRepo(t, ctx, app)

	// The two repositories target different project versions, so nothing
	// conflicts and the duplicate dissolves completely.
	server_test.AttachRepo(t, ctx, app, repo, originalVersion, "amd64", false)
	movedLink := server_test.AttachRepo(t, ctx, app, duplicate, duplicateVersion, "amd64", false)
	movedBuild := server_test.CreateBuild(t, ctx, app, duplicate, models.BuildTypeBuild, models.BuildStateSuccessful)
	seedCheckout(t, cfg.WorkingDirectory.String(), duplicate)

	requeue, err := app.RepoService.MergeDuplicate(ctx, &models.Task{
		Tag:             models.TaskMergeDuplicateRepo,
		RepoID:          repo.ID,
		DuplicateRepoID: duplicate.ID,
	})
	require.NoError(t, err)
	assert.False(t, requeue)

	// The duplicate row is gone and its link and build belong to the
	// original now.
	_, err = app.RepoStore.Read(ctx, nil, duplicate.ID)
	require.Error(t, err)
	assert.True(t, gerror.IsNotFound(err))

	links, err := app.RepoStore.ListProjectVersionLinks(ctx, nil, repo.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)

	link, err := app.RepoStore.FindProjectVersionLink(ctx, nil, repo.ID, duplicateVersion.ID)
	require.NoError(t, err)
	assert.Equal(t, movedLink.ID, link.ID)

	buildAfter, err := app.BuildStore.Read(ctx, nil, movedBuild.ID)
	require.NoError(t, err)
	require.NotNil(t, buildAfter.SourceRepositoryID)
	assert.Equal(t, repo.ID, *buildAfter.SourceRepositoryID)

	repoAfter, err := app.RepoStore.Read(ctx, nil, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RepoStateReady, repoAfter.State)

	// The duplicate's whole per-repository directory is gone.
	_, err = os.Stat(duplicate.BasePath(cfg.WorkingDirectory.String()))
	assert.True(t, os.IsNotExist(err))
}

func TestMergeDuplicateKeepsConflictingDuplicate(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	basemirror := server_test.CreateBasemirror(t, ctx, app, "", "", "amd64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "", "", basemirror)

	repo := server_test.CreateRepo(t, ctx, app)
	duplicate := server_test.CreateRepo(t, ctx, app)

	// Both repositories target the same project version. The duplicate's
	// link cannot move, so the duplicate row survives the merge.
	server_test.AttachRepo(t, ctx, app, repo, projectVersion, "amd64", false)
	server_test.AttachRepo(t, ctx, app, duplicate, projectVersion, "amd64", true)
	movedBuild := server_test.CreateBuild(t, ctx, app, duplicate, models.BuildTypeBuild, models.BuildStateSuccessful)

	requeue, err := app.RepoService.MergeDuplicate(ctx, &models.Task{
		Tag:             models.TaskMergeDuplicateRepo,
		RepoID:          repo.ID,
		DuplicateRepoID: duplicate.ID,
	})
	require.NoError(t, err)
	assert.False(t, requeue)

	// The duplicate is still there and released, keeping its conflicting
	// link. Builds moved regardless.
	duplicateAfter, err := app.RepoStore.Read(ctx, nil, duplicate.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RepoStateReady, duplicateAfter.State)

	links, err := app.RepoStore.ListProjectVersionLinks(ctx, nil, duplicate.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)

	buildAfter, err := app.BuildStore.Read(ctx, nil, movedBuild.ID)
	require.NoError(t, err)
	require.NotNil(t, buildAfter.SourceRepositoryID)
	assert.Equal(t, repo.ID, *buildAfter.SourceRepositoryID)

	repoAfter, err := app.RepoStore.Read(ctx, nil, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RepoStateReady, repoAfter.State)
}

func TestDeleteRefusesWhileReferenced(t *testing.T) {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	basemirror := server_test.CreateBasemirror(t, ctx, app, "", "", "amd64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "", "", basemirror)

	linked := server_test.CreateRepo(t, ctx, app)
	server_test.AttachRepo(t, ctx, app, linked, projectVersion, "amd64", false)

	requeue, err := app.RepoService.Delete(ctx, &models.Task{Tag: models.TaskDeleteRepo, RepoID: linked.ID})
	require.NoError(t, err)
	assert.False(t, requeue)

	after, err := app.RepoStore.Read(ctx, nil, linked.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RepoStateReady, after.State)

	// Builds alone also block the deletion.
	withBuilds := server_test.CreateRepo(t, ctx, app)
	server_test.CreateBuild(t, ctx, app, withBuilds, models.BuildTypeBuild, models.BuildStateSuccessful)

	requeue, err = app.RepoService.Delete(ctx, &models.Task{Tag: models.TaskDeleteRepo, RepoID: withBuilds.ID})
	require.NoError(t, err)
	assert.False(t, requeue)

	_, err = app.RepoStore.Read(ctx, nil, withBuilds.ID)
	require.NoError(t, err)
}

func TestDeleteRemovesUnreferencedRepo(t *testing.T) {
	cfg := server_test.TestConfig(t)
	app, cleanup, err := server_test.New(cfg)
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()

	repo := server_test.CreateRepo(t, ctx, app)
	seedCheckout(t, cfg.WorkingDirectory.String(), repo)

	// A busy repository is requeued first.
	setRepoState(t, ctx, app, repo, models.RepoStateBusy)
	requeue, err := app.RepoService.Delete(ctx, &models.Task{Tag: models.TaskDeleteRepo, RepoID: repo.ID})
	require.NoError(t, err)
	assert.True(t, requeue)

	setRepoState(t, ctx, app, repo, models.RepoStateReady)
	requeue, err = app.RepoService.Delete(ctx, &models.Task{Tag: models.TaskDeleteRepo, RepoID: repo.ID})
	require.NoError(t, err)
	assert.False(t, requeue)

	_, err = app.RepoStore.Read(ctx, nil, repo.ID)
	require.Error(t, err)
	assert.True(t, gerror.IsNotFound(err))

	// The whole per-repository directory is gone, not just the checkout
	// inside it.
	_, err = os.Stat(repo.BasePath(cfg.WorkingDirectory.String()))
	assert.True(t, os.IsNotExist(err))

	// Deleting an already deleted repository is a no-op.
	requeue, err = app.RepoService.Delete(ctx, &models.Task{Tag: models.TaskDeleteRepo, RepoID: repo.ID})
	require.NoError(t, err)
	assert.False(t, requeue)
}
