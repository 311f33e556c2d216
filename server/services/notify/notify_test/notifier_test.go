package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/app/server_test"
)

// capturedRequest is one hook delivery recorded by the test target.
type capturedRequest struct {
	Method      string
	Query       url.Values
	ContentType string
	Body        []byte
}

func newHookTarget(t *testing.T) (*httptest.Server, chan capturedRequest) {
	requests := make(chan capturedRequest, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- capturedRequest{
			Method:      r.Method,
			Query:       r.URL.Query(),
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		}
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func awaitRequest(t *testing.T, requests chan capturedRequest) capturedRequest {
	t.Helper()
	select {
	case req := <-requests:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("no hook request arrived")
		return capturedRequest{}
	}
}

func startNotifier(t *testing.T, ctx context.Context, app *server_test.TestServer) {
	app.Notifier.Start(ctx)
	t.Cleanup(func() {
		app.Queues.Notifications.Close()
		app.Notifier.Stop()
	})
}

// createDebBuild stores a deb build attached to the given project version.
func createDebBuild(t *testing.T, ctx context.Context, app *server_test.TestServer, repo *models.SourceRepository, projectVersion *models.ProjectVersion, state models.BuildState) *models.Build {
	build := &models.Build{
		CreatedAt:          models.NewTime(time.Now()),
		State:              state,
		Type:               models.BuildTypeDeb,
		SourceRepositoryID: &repo.ID,
		ProjectVersionID:   &projectVersion.ID,
		SourceName:         repo.Name,
		Version:            "1.2.0",
		GitRef:             "4ecd3617",
		CIBranch:           "main",
		Architecture:       "amd64",
	}
	err := app.BuildStore.Create(ctx, nil, build)
	require.NoError(t, err)
	return build
}

func TestHookFiresOnDebBuildStateChange(t *testing.T) {
	ctx := context.Background()
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.Nil(t, err)
	defer cleanup()

	target, requests := newHookTarget(t)

	repo := server_test.CreateRepo(t, ctx, app)
	basemirror := server_test.CreateBasemirror(t, ctx, app, "debian-hook", "12", "amd64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "hookproject", "next", basemirror)
	link := server_test.AttachRepo(t, ctx, app, repo, projectVersion, "amd64", false)
	server_test.CreateHook(t, ctx, app, link, "GET",
		target.URL+"/hook?build={{.build.id}}&status={{.build.status}}&dist={{.platform.distrelease}}&project={{.project.name}}")

	build := createDebBuild(t, ctx, app, repo, projectVersion, models.BuildStateScheduled)
	startNotifier(t, ctx, app)

	err = app.BuildService.SetBuilding(ctx, nil, build.ID)
	require.NoError(t, err)

	req := awaitRequest(t, requests)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, strconv.FormatInt(build.ID, 10), req.Query.Get("build"))
	assert.Equal(t, "building", req.Query.Get("status"))
	assert.Equal(t, "debian-hook", req.Query.Get("dist"))
	assert.Equal(t, "hookproject", req.Query.Get("project"))
}

func TestHookPostsRenderedJSONBody(t *testing.T) {
	ctx := context.Background()
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.Nil(t, err)
	defer cleanup()

	target, requests := newHookTarget(t)

	repo := server_test.CreateRepo(t, ctx, app)
	basemirror := server_test.CreateBasemirror(t, ctx, app, "", "", "amd64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "", "", basemirror)
	link := server_test.AttachRepo(t, ctx, app, repo, projectVersion, "amd64", false)

	hook := &models.PostBuildHook{
		RepoProjectVersionID: link.ID,
		Method:               "POST",
		URL:                  target.URL + "/hook",
		Body:                 `{"build": {{.build.id}}, "status": "{{.build.status}}", "commit": "{{.build.commit}}"}`,
		Enabled:              true,
		NotifyDeb:            true,
	}
	err = app.HookStore.Create(ctx, nil, hook)
	require.NoError(t, err)

	build := createDebBuild(t, ctx, app, repo, projectVersion, models.BuildStateBuilding)
	startNotifier(t, ctx, app)

	err = app.BuildService.SetSuccessful(ctx, nil, build.ID)
	require.NoError(t, err)

	req := awaitRequest(t, requests)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.ContentType)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(req.Body, &payload))
	assert.Equal(t, float64(build.ID), payload["build"])
	assert.Equal(t, "successful", payload["status"])
	assert.Equal(t, "4ecd3617", payload["commit"])
}

func TestHookSkippedWhenDisabledOrForOtherBuildType(t *testing.T) {
	ctx := context.Background()
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.Nil(t, err)
	defer cleanup()

	target, requests := newHookTarget(t)

	repo := server_test.CreateRepo(t, ctx, app)
	basemirror := server_test.CreateBasemirror(t, ctx, app, "", "", "amd64")
	projectVersion := server_test.CreateProjectVersion(t, ctx, app, "", "", basemirror)
	link := server_test.AttachRepo(t, ctx, app, repo, projectVersion, "amd64", false)

	// Hooks run in creation order, so receiving the last one proves the
	// earlier two were skipped
	disabled := &models.PostBuildHook{
		RepoProjectVersionID: link.ID,
		Method:               "GET",
		URL:                  target.URL + "/hook?which=disabled",
		Enabled:              false,
		NotifyDeb:            true,
	}
	err = app.HookStore.Create(ctx, nil, disabled)
	require.NoError(t, err)
	srcOnly := &models.PostBuildHook{
		RepoProjectVersionID: link.ID,
		Method:               "GET",
		URL:                  target.URL + "/hook?which=src",
		Enabled:              true,
		NotifySrc:            true,
	}
	err = app.HookStore.Create(ctx, nil, srcOnly)
	require.NoError(t, err)
	server_test.CreateHook(t, ctx, app, link, "GET", target.URL+"/hook?which=deb")

	build := createDebBuild(t, ctx, app, repo, projectVersion, models.BuildStateScheduled)
	startNotifier(t, ctx, app)

	err = app.BuildService.SetBuilding(ctx, nil, build.ID)
	require.NoError(t, err)

	req := awaitRequest(t, requests)
	assert.Equal(t, "deb", req.Query.Get("which"))
	assert.Equal(t, 0, len(requests))
}
