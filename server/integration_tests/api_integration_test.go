package integration_tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/api/rest/client"
	"github.com/molior-deb/molior/server/api/rest/client/clienttest"
	"github.com/molior-deb/molior/server/api/rest/documents"
	"github.com/molior-deb/molior/server/app/server_test"
)

// startAPI starts the test server's HTTP API on a random port and returns a
// client talking to it. The server is stopped when the test finishes.
func startAPI(t *testing.T, ctx context.Context, app *server_test.TestServer) *client.APIClient {
	app.APIServer.Start()
	t.Cleanup(func() { _ = app.APIServer.Stop(ctx) })
	return clienttest.MakeAPIClient(t, app)
}

func TestStatusAndMaintenance(t *testing.T) {
	ctx := context.Background()
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.Nil(t, err)
	defer cleanup()
	apiClient := startAPI(t, ctx, app)

	// A fresh server is not in maintenance
	status, err := apiClient.GetStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.MaintenanceMode)
	assert.Empty(t, status.MaintenanceMessage)
	assert.Equal(t, "http://molior-test:3142/repo.asc", status.GPGURL)

	// Clients report the mode they currently see and the server stores the
	// inverse, so sending "false" switches maintenance on
	doc, err := apiClient.SetMaintenance(ctx, "false", "Back after the weekend")
	require.NoError(t, err)
	require.NotNil(t, doc.MaintenanceMode)
	assert.True(t, *doc.MaintenanceMode)
	require.NotNil(t, doc.MaintenanceMessage)
	assert.Equal(t, "Back after the weekend", *doc.MaintenanceMessage)

	stored, err := app.MetaDataStore.Get(ctx, nil, "maintenance_mode", "false")
	require.NoError(t, err)
	assert.Equal(t, "true", stored)

	status, err = apiClient.GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.MaintenanceMode)
	assert.Equal(t, "Back after the weekend", status.MaintenanceMessage)

	// Switching back off with an empty message leaves the message untouched
	doc, err = apiClient.SetMaintenance(ctx, "true", "")
	require.NoError(t, err)
	require.NotNil(t, doc.MaintenanceMode)
	assert.False(t, *doc.MaintenanceMode)
	assert.Nil(t, doc.MaintenanceMessage)

	status, err = apiClient.GetStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.MaintenanceMode)
	assert.Equal(t, "Back after the weekend", status.MaintenanceMessage)
}

func TestNodeList(t *testing.T) {
	ctx := context.Background()
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.Nil(t, err)
	defer cleanup()
	apiClient := startAPI(t, ctx, app)

	app.Backend.AddNode(&models.NodeInfo{
		ID:           "node-arm-1",
		Name:         "arm-builder-1",
		Architecture: "arm64",
		State:        "idle",
		CPUCores:     4,
	})
	app.Backend.AddNode(&models.NodeInfo{
		ID:           "node-amd-1",
		Name:         "amd-builder-1",
		Architecture: "amd64",
		State:        "busy",
		CPUCores:     8,
	})

	// The machine list is the server itself plus the registered build nodes,
	// sorted by name
	doc, err := apiClient.GetNodes(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.TotalResultCount)
	require.Len(t, doc.Results, 3)
	assert.Equal(t, "amd-builder-1", doc.Results[0].Name)
	assert.Equal(t, "arm-builder-1", doc.Results[1].Name)
	assert.Equal(t, "molior server", doc.Results[2].Name)

	// The search filter matches build nodes case insensitively and never
	// hides the server entry
	doc, err = apiClient.GetNodes(ctx, "ARM", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.TotalResultCount)
	require.Len(t, doc.Results, 2)
	assert.Equal(t, "arm-builder-1", doc.Results[0].Name)
	assert.Equal(t, "molior server", doc.Results[1].Name)

	// Page two of size two holds the one remaining entry
	doc, err = apiClient.GetNodes(ctx, "", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.TotalResultCount)
	require.Len(t, doc.Results, 1)
	assert.Equal(t, "molior server", doc.Results[0].Name)

	node, err := apiClient.GetNode(ctx, "node-arm-1")
	require.NoError(t, err)
	assert.Equal(t, "arm-builder-1", node.Name)
	assert.Equal(t, "arm64", node.Architecture)

	_, err = apiClient.GetNode(ctx, "node-gone")
	require.Error(t, err)
	assert.True(t, gerror.IsNotFound(err))
}

func TestTriggerBuild(t *testing.T) {
	ctx := context.Background()
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.Nil(t, err)
	defer cleanup()
	apiClient := startAPI(t, ctx, app)

	repo := server_test.CreateRepoWithURL(t, ctx, app, "ssh://git@testgit/testing/app.git")

	// A push for an unknown repository is reported, not silently accepted
	_, err = apiClient.TriggerBuild(ctx, "https://git.example.com/stash/projects/TESTING/repos/ghost/browse", "4ecd3617", "main")
	require.Error(t, err)
	assert.True(t, gerror.IsNotFound(err))

	// The browse link is matched against the stored clone URL case
	// insensitively
	doc, err := apiClient.TriggerBuild(ctx, "https://git.example.com/stash/projects/TESTING/repos/APP/browse", "4ecd3617", "feature/queueing")
	require.NoError(t, err)
	require.NotZero(t, doc.BuildID)

	build, err := app.BuildStore.Read(ctx, nil, doc.BuildID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStateNew, build.State)
	assert.Equal(t, models.BuildTypeBuild, build.Type)
	assert.Equal(t, repo.Name, build.SourceName)
	require.NotNil(t, build.SourceRepositoryID)
	assert.Equal(t, repo.ID, *build.SourceRepositoryID)
	assert.Equal(t, "4ecd3617", build.GitRef)
	assert.Equal(t, "feature/queueing", build.CIBranch)

	buildTask, err := app.BuildTaskStore.ReadForBuild(ctx, nil, doc.BuildID)
	require.NoError(t, err)
	assert.NotEmpty(t, buildTask.TaskID)

	// The clone and build work is queued for the task worker
	require.Equal(t, 1, app.Queues.Tasks.Len())
	task := app.Queues.Tasks.Dequeue()
	assert.Equal(t, models.TaskBuild, task.Tag)
	assert.Equal(t, doc.BuildID, task.BuildID)
	assert.Equal(t, repo.ID, task.RepoID)
	assert.Equal(t, "4ecd3617", task.GitRef)
	assert.Equal(t, "feature/queueing", task.CIBranch)

	// The new build is visible through the API
	data, err := apiClient.GetBuild(ctx, doc.BuildID)
	require.NoError(t, err)
	assert.Equal(t, "new", data.BuildState)
	assert.Equal(t, "build", data.BuildType)
	assert.Equal(t, repo.Name, data.SourceName)

	_, err = apiClient.GetBuild(ctx, 999999)
	require.Error(t, err)
	assert.True(t, gerror.IsNotFound(err))
}

func TestTriggerRejectedDuringMaintenance(t *testing.T) {
	ctx := context.Background()
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.Nil(t, err)
	defer cleanup()
	app.APIServer.Start()
	defer app.APIServer.Stop(ctx)

	server_test.CreateRepoWithURL(t, ctx, app, "ssh://git@testgit/testing/app.git")
	err = app.MetaDataStore.Set(ctx, nil, "maintenance_mode", "true")
	require.NoError(t, err)

	// The API client retries 5xx responses, so the rejection is checked with
	// a plain request
	trigger := &documents.TriggerRequest{}
	trigger.Repository.Links.Self = []documents.TriggerLink{{Href: "https://git.example.com/stash/projects/TESTING/repos/app/browse"}}
	trigger.Push.Changes = []documents.TriggerChange{{
		New: documents.TriggerChangeNew{
			Name:   "main",
			Target: documents.TriggerCommit{Hash: "4ecd3617"},
		},
	}}
	body, err := json.Marshal(trigger)
	require.NoError(t, err)

	res, err := http.Post(app.APIServer.GetServerURL()+"/api/build", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	errDoc := &documents.ErrorDocument{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(errDoc))
	assert.Equal(t, gerror.ErrCodeMaintenanceMode, errDoc.Code)

	// Nothing was queued while the gate is closed
	assert.Equal(t, 0, app.Queues.Tasks.Len())
}

func TestRebuildBuild(t *testing.T) {
	ctx := context.Background()
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.Nil(t, err)
	defer cleanup()
	apiClient := startAPI(t, ctx, app)

	repo := server_test.CreateRepo(t, ctx, app)
	basemirror := server_test.CreateBasemirror(t, ctx, app, "", "", "amd64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "", "", basemirror)
	server_test.AttachRepo(t, ctx, app, repo, projectVersion, "amd64", false)

	now := models.NewTime(time.Now())
	failed := &models.Build{
		CreatedAt:          now,
		StartedAt:          &now,
		EndedAt:            &now,
		State:              models.BuildStateBuildFailed,
		Type:               models.BuildTypeDeb,
		SourceRepositoryID: &repo.ID,
		ProjectVersionID:   &projectVersion.ID,
		SourceName:         repo.Name,
		Version:            "1.0.0",
		GitRef:             "v1.0.0",
		Architecture:       "amd64",
	}
	err = app.BuildStore.Create(ctx, nil, failed)
	require.NoError(t, err)

	successful := &models.Build{
		CreatedAt:          now,
		State:              models.BuildStateSuccessful,
		Type:               models.BuildTypeDeb,
		SourceRepositoryID: &repo.ID,
		ProjectVersionID:   &projectVersion.ID,
		SourceName:         repo.Name,
		Version:            "1.0.0",
		GitRef:             "v1.0.0",
		Architecture:       "amd64",
	}
	err = app.BuildStore.Create(ctx, nil, successful)
	require.NoError(t, err)

	// Only failed builds can be rebuilt
	_, err = apiClient.RebuildBuild(ctx, successful.ID)
	require.Error(t, err)
	assert.True(t, gerror.IsValidationFailed(err))
	assert.Contains(t, err.Error(), "This build cannot be rebuilt")
	assert.Equal(t, 0, app.Queues.Tasks.Len())

	doc, err := apiClient.RebuildBuild(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, doc.BuildID)

	require.Equal(t, 1, app.Queues.Tasks.Len())
	task := app.Queues.Tasks.Dequeue()
	assert.Equal(t, models.TaskRebuild, task.Tag)
	assert.Equal(t, failed.ID, task.BuildID)

	_, err = apiClient.RebuildBuild(ctx, 999999)
	require.Error(t, err)
	assert.True(t, gerror.IsNotFound(err))
}

func TestRepositoryAPI(t *testing.T) {
	ctx := context.Background()
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.Nil(t, err)
	defer cleanup()
	apiClient := startAPI(t, ctx, app)

	repo := server_test.CreateRepoWithURL(t, ctx, app, "ssh://git@testgit/testing/oldname.git")

	doc, err := apiClient.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.ID, doc.ID)
	assert.Equal(t, "oldname", doc.Name)
	assert.Equal(t, "ready", doc.State)

	// Moving the repository to a new URL renames it
	doc, err = apiClient.ChangeRepositoryURL(ctx, repo.ID, "ssh://git@testgit/testing/newname.git")
	require.NoError(t, err)
	assert.Equal(t, "ssh://git@testgit/testing/newname.git", doc.URL)
	assert.Equal(t, "newname", doc.Name)

	stored, err := app.RepoStore.Read(ctx, nil, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "ssh://git@testgit/testing/newname.git", stored.URL)
	assert.Equal(t, "newname", stored.Name)

	// A URL git cannot parse is rejected
	_, err = apiClient.ChangeRepositoryURL(ctx, repo.ID, "https://testgit.example.com")
	require.Error(t, err)
	assert.True(t, gerror.IsValidationFailed(err))

	// A repository that is currently worked on cannot be moved
	stored.State = models.RepoStateBusy
	err = app.RepoStore.Update(ctx, nil, stored)
	require.NoError(t, err)
	_, err = apiClient.ChangeRepositoryURL(ctx, repo.ID, "ssh://git@testgit/testing/thirdname.git")
	require.Error(t, err)
	assert.True(t, gerror.IsValidationFailed(err))

	unchanged, err := app.RepoStore.Read(ctx, nil, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "ssh://git@testgit/testing/newname.git", unchanged.URL)

	_, err = apiClient.GetRepository(ctx, 999999)
	require.Error(t, err)
	assert.True(t, gerror.IsNotFound(err))
}
