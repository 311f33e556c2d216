package server_test

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/common/models"
)

// WaitFor polls until cond returns true, failing the test with msg after
// five seconds. For tests that exercise the background workers.
func WaitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// WaitForBuildState polls until the build reaches the given state and returns
// the build row.
func WaitForBuildState(t *testing.T, ctx context.Context, app *TestServer, buildID int64, state models.BuildState) *models.Build {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		build, err := app.BuildStore.Read(ctx, nil, buildID)
		require.NoError(t, err)
		if build.State == state {
			return build
		}
		if time.Now().After(deadline) {
			t.Fatalf("build %d stuck in %s waiting for %s", buildID, build.State, state)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// CreateRepo stores a source repository in the ready state, as if a clone
// had already completed. The URL is randomized so repos never collide.
func CreateRepo(t *testing.T, ctx context.Context, app *TestServer) *models.SourceRepository {
	return CreateRepoWithURL(t, ctx, app, "")
}

func CreateRepoWithURL(t *testing.T, ctx context.Context, app *TestServer, url string) *models.SourceRepository {
	if url == "" {
		url = fmt.Sprintf("ssh://git@testgit/testing/app-%d.git", rand.Int63())
	}
	name, err := models.RepoNameFromURL(url)
	require.NoError(t, err)

	repo := &models.SourceRepository{
		CreatedAt: models.NewTime(time.Now()),
		URL:       url,
		Name:      name,
		State:     models.RepoStateReady,
	}
	err = app.RepoStore.Create(ctx, nil, repo)
	require.NoError(t, err)

	return repo
}

// CreateBasemirror creates a mirror project with one ready mirror version.
// If name or version are left blank then default values will be used.
func CreateBasemirror(t *testing.T, ctx context.Context, app *TestServer, name, version string, architectures ...string) *models.ProjectVersion {
	if name == "" {
		name = fmt.Sprintf("debian-%d", rand.Int63())
	}
	if version == "" {
		version = "12"
	}
	if len(architectures) == 0 {
		architectures = []string{"amd64"}
	}

	project := &models.Project{Name: name, IsMirror: true}
	err := app.ProjectVersionStore.CreateProject(ctx, nil, project)
	require.NoError(t, err)

	basemirror := &models.ProjectVersion{
		ProjectID:           project.ID,
		Name:                version,
		IsLocked:            true,
		MirrorURL:           "http://deb.debian.org/debian",
		MirrorDistribution:  "bookworm",
		MirrorComponents:    "main",
		MirrorArchitectures: strings.Join(architectures, " "),
		MirrorState:         models.MirrorStateReady,
	}
	err = app.ProjectVersionStore.Create(ctx, nil, basemirror)
	require.NoError(t, err)

	return basemirror
}

// CreateProjectVersion creates a project with one version building on top of
// the given base mirror. If projectName or versionName are left blank then
// default values will be used.
func CreateProjectVersion(t *testing.T, ctx context.Context, app *TestServer, projectName, versionName string, basemirror *models.ProjectVersion) *models.ProjectVersion {
	if projectName == "" {
		projectName = fmt.Sprintf("testproject-%d", rand.Int63())
	}
	if versionName == "" {
		versionName = "next"
	}

	project := &models.Project{Name: projectName}
	err := app.ProjectVersionStore.CreateProject(ctx, nil, project)
	require.NoError(t, err)

	version := &models.ProjectVersion{
		ProjectID: project.ID,
		Name:      versionName,
	}
	if basemirror != nil {
		version.BasemirrorID = &basemirror.ID
	}
	err = app.ProjectVersionStore.Create(ctx, nil, version)
	require.NoError(t, err)

	return version
}

// AttachRepo associates a repository with a project version so builds of the
// repository target that version for the given architectures.
func AttachRepo(t *testing.T, ctx context.Context, app *TestServer, repo *models.SourceRepository, projectVersion *models.ProjectVersion, architectures string, runLintian bool) *models.RepoProjectVersion {
	if architectures == "" {
		architectures = "amd64"
	}

	link := &models.RepoProjectVersion{
		SourceRepositoryID: repo.ID,
		ProjectVersionID:   projectVersion.ID,
		Architectures:      architectures,
		RunLintian:         runLintian,
	}
	err := app.RepoStore.AttachProjectVersion(ctx, nil, link)
	require.NoError(t, err)

	return link
}

// CreateReadyChroot records a usable build environment for a base mirror and
// architecture, including the successful chroot build that produced it.
func CreateReadyChroot(t *testing.T, ctx context.Context, app *TestServer, basemirror *models.ProjectVersion, architecture string) *models.Chroot {
	now := models.NewTime(time.Now())
	build := &models.Build{
		CreatedAt:        now,
		StartedAt:        &now,
		BuiltAt:          &now,
		EndedAt:          &now,
		State:            models.BuildStateSuccessful,
		Type:             models.BuildTypeChroot,
		ProjectVersionID: &basemirror.ID,
		SourceName:       basemirror.Name,
		Architecture:     architecture,
	}
	err := app.BuildStore.Create(ctx, nil, build)
	require.NoError(t, err)

	chroot := &models.Chroot{
		BuildID:      build.ID,
		BasemirrorID: basemirror.ID,
		Architecture: architecture,
		Ready:        true,
	}
	err = app.ChrootStore.Create(ctx, nil, chroot)
	require.NoError(t, err)

	return chroot
}

// CreateBuild stores a build row of the given type and state for a repository.
func CreateBuild(t *testing.T, ctx context.Context, app *TestServer, repo *models.SourceRepository, buildType models.BuildType, state models.BuildState) *models.Build {
	build := &models.Build{
		CreatedAt:          models.NewTime(time.Now()),
		State:              state,
		Type:               buildType,
		SourceRepositoryID: &repo.ID,
		SourceName:         repo.Name,
		GitRef:             "main",
	}
	err := app.BuildStore.Create(ctx, nil, build)
	require.NoError(t, err)

	return build
}

// CreateHook registers an enabled post build hook on a repository to project
// version association. Deb build state changes are what fire hooks, so the
// hook is enabled for deb builds.
func CreateHook(t *testing.T, ctx context.Context, app *TestServer, link *models.RepoProjectVersion, method, url string) *models.PostBuildHook {
	if method == "" {
		method = "POST"
	}

	hook := &models.PostBuildHook{
		RepoProjectVersionID: link.ID,
		Method:               method,
		URL:                  url,
		Enabled:              true,
		NotifyDeb:            true,
	}
	err := app.HookStore.Create(ctx, nil, hook)
	require.NoError(t, err)

	return hook
}
