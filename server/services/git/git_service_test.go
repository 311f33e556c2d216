package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
)

// discardLogService drops all build log output.
type discardLogService struct{}

func (discardLogService) Write(int64, string)                      {}
func (discardLogService) Printf(int64, string, ...interface{})     {}
func (discardLogService) Title(int64, string, *services.TitleOptions) {}
func (discardLogService) TitleDone(int64)                          {}
func (discardLogService) MarkDone(int64)                           {}
func (discardLogService) Close(int64)                              {}
func (discardLogService) Stop()                                    {}

func writeBuildConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "debian"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "debian", "molior.yml"), []byte(content), 0644))
}

func newTestGitService(t *testing.T) *GitService {
	t.Helper()
	return NewGitService(logger.NoOpLogFactory, services.WorkingDirectory(t.TempDir()), nil)
}

func TestTargetConfigTargets(t *testing.T) {
	service := newTestGitService(t)
	dir := t.TempDir()
	writeBuildConfig(t, dir, "targets:\n  myproject:\n    - 1\n    - \"2\"\n  other:\n    - next\n")

	targets := service.targetConfig(dir)
	assert.Equal(t, []services.Target{
		{Project: "myproject", Version: "1"},
		{Project: "myproject", Version: "2"},
		{Project: "other", Version: "next"},
	}, targets)
}

func TestTargetConfigTargetRepoVersionWins(t *testing.T) {
	service := newTestGitService(t)
	dir := t.TempDir()
	writeBuildConfig(t, dir, "target_repo_version: 1.1\ntargets:\n  ignored:\n    - 1\n")

	targets := service.targetConfig(dir)
	assert.Equal(t, []services.Target{{Version: "1.1"}}, targets)
}

func TestTargetConfigMissingFile(t *testing.T) {
	service := newTestGitService(t)
	assert.Nil(t, service.targetConfig(t.TempDir()))
}

func TestTargetConfigMalformed(t *testing.T) {
	service := newTestGitService(t)
	dir := t.TempDir()
	writeBuildConfig(t, dir, "targets: [broken\n")
	assert.Nil(t, service.targetConfig(dir))
}

func gitRun(t *testing.T, dir string, env []string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func TestLatestTagPicksNewestValidVersionTag(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ctx := context.Background()
	workDir := t.TempDir()
	service := NewGitService(logger.NoOpLogFactory, services.WorkingDirectory(workDir), discardLogService{})

	// Upstream repository with fixed committer dates, so the commit time
	// based tag selection is deterministic.
	upstream := t.TempDir()
	identity := []string{
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	}
	commit := func(date, msg string) {
		env := append([]string{"GIT_AUTHOR_DATE=" + date, "GIT_COMMITTER_DATE=" + date}, identity...)
		gitRun(t, upstream, env, "commit", "--allow-empty", "-m", msg)
	}
	gitRun(t, upstream, nil, "init", "-b", "main")
	commit("2024-01-01T10:00:00+00:00", "first")
	gitRun(t, upstream, nil, "tag", "v1.0.0")
	commit("2024-06-01T10:00:00+00:00", "second")
	gitRun(t, upstream, nil, "tag", "v1.1.0")
	gitRun(t, upstream, nil, "tag", "rel_x")
	// The newest commit carries no version shaped tag at all.
	commit("2024-12-01T10:00:00+00:00", "third")
	gitRun(t, upstream, nil, "tag", "latest")

	repo := &models.SourceRepository{ID: 1, Name: "app", URL: upstream}
	srcPath := repo.SrcPath(workDir)
	require.NoError(t, os.MkdirAll(filepath.Dir(srcPath), 0755))
	gitRun(t, filepath.Dir(srcPath), nil, "clone", upstream, srcPath)

	// Tags that are not well-formed versions never win, no matter how new
	// their commits are.
	tag, err := service.LatestTag(ctx, 1, repo)
	require.NoError(t, err)
	assert.Equal(t, "v1.1.0", tag)
}

func TestSplitMaintainer(t *testing.T) {
	name, email, err := splitMaintainer("Jane A. Doe <jane@example.com>")
	require.NoError(t, err)
	assert.Equal(t, "Jane A. Doe", name)
	assert.Equal(t, "jane@example.com", email)

	_, _, err = splitMaintainer("nobody")
	assert.Error(t, err)

	_, _, err = splitMaintainer("")
	assert.Error(t, err)
}
