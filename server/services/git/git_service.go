package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/common/shell"
	"github.com/molior-deb/molior/common/version"
	"github.com/molior-deb/molior/server/services"
)

// gitEnv turns certificate verification off. Git servers on private build
// networks rarely have certificates the nodes trust.
var gitEnv = []string{"GIT_SSL_NO_VERIFY=true"}

var maintainerPattern = regexp.MustCompile(`(.*)<([^>]*)`)

// GitService runs git against the local repository checkouts, streaming
// command progress into the build logs.
type GitService struct {
	logger.Log
	workingDir services.WorkingDirectory
	logService services.LogService
}

func NewGitService(
	logFactory logger.LogFactory,
	workingDir services.WorkingDirectory,
	logService services.LogService) *GitService {

	return &GitService{
		Log:        logFactory("GitService"),
		workingDir: workingDir,
		logService: logService,
	}
}

// run executes git in dir, streaming the quoted command line and all output
// to the log of the given build.
func (s *GitService) run(ctx context.Context, buildID int64, dir string, args ...string) error {
	out := func(line string) {
		s.logService.Write(buildID, line+"\n")
	}
	return shell.Run(ctx, out, dir, gitEnv, true, "git", args...)
}

// runQuiet executes git in dir, logging only the command line. Output is
// held back and written to the build log only when the command fails.
func (s *GitService) runQuiet(ctx context.Context, buildID int64, dir string, args ...string) error {
	var held []string
	out := func(line string) {
		held = append(held, line)
	}
	s.logService.Write(buildID, "$: "+shell.Quote("git", args...)+"\n")
	err := shell.Run(ctx, out, dir, gitEnv, false, "git", args...)
	if err != nil {
		for _, line := range held {
			s.logService.Write(buildID, line+"\n")
		}
	}
	return err
}

// Clone clones the repository into its checkout directory, replacing any
// existing checkout. Progress is streamed to the log of the given build.
func (s *GitService) Clone(ctx context.Context, buildID int64, repo *models.SourceRepository) error {
	srcPath := repo.SrcPath(s.workingDir.String())

	err := os.MkdirAll(filepath.Dir(srcPath), 0755)
	if err != nil {
		return errors.Wrap(err, "error creating repository directory")
	}
	if _, err := os.Stat(srcPath); err == nil {
		s.Infof("clone: removing existing checkout %s", srcPath)
		if err := os.RemoveAll(srcPath); err != nil {
			return errors.Wrap(err, "error removing existing checkout")
		}
	}

	err = s.run(ctx, buildID, filepath.Dir(srcPath), "clone", "--config", "http.sslVerify=false", repo.URL, srcPath)
	if err != nil {
		return err
	}
	err = s.run(ctx, buildID, srcPath, "config", "http.sslverify", "false")
	if err != nil {
		return err
	}
	return s.run(ctx, buildID, srcPath, "lfs", "install")
}

// cleanLocal restores a checkout to a pristine state: working tree reset,
// remote default branch checked out and all local branches and tags removed,
// so deleted upstream tags do not linger.
func (s *GitService) cleanLocal(ctx context.Context, buildID int64, dir string) error {
	err := s.runQuiet(ctx, buildID, dir, "reset", "--hard")
	if err != nil {
		return err
	}
	err = s.runQuiet(ctx, buildID, dir, "clean", "-dffx")
	if err != nil {
		return err
	}
	err = s.runQuiet(ctx, buildID, dir, "fetch", "-p")
	if err != nil {
		return err
	}

	head, err := shell.RunOutput(ctx, dir, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	if err != nil {
		return errors.Wrap(err, "error getting default branch")
	}
	defaultBranch := strings.Replace(head, "refs/remotes/", "", 1)
	_, err = shell.RunOutput(ctx, dir, "git", "checkout", defaultBranch)
	if err != nil {
		return errors.Wrapf(err, "error checking out %q", defaultBranch)
	}

	branchList, err := shell.RunOutput(ctx, dir, "git", "branch")
	if err != nil {
		return errors.Wrap(err, "error listing branches")
	}
	for _, line := range strings.Split(branchList, "\n") {
		branch := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
		if branch == "" || strings.Contains(branch, "HEAD detached") {
			continue
		}
		if _, err := shell.RunOutput(ctx, dir, "git", "branch", "-D", branch); err != nil {
			return errors.Wrapf(err, "error deleting local branch %q", branch)
		}
	}

	tagList, err := shell.RunOutput(ctx, dir, "git", "tag")
	if err != nil {
		return errors.Wrap(err, "error listing tags")
	}
	for _, tag := range strings.Fields(tagList) {
		if _, err := shell.RunOutput(ctx, dir, "git", "tag", "-d", tag); err != nil {
			return errors.Wrapf(err, "error deleting local tag %q", tag)
		}
	}
	return nil
}

// Checkout fetches and checks out the given ref, restoring the working tree
// to a pristine state first. Progress is streamed to the build log.
func (s *GitService) Checkout(ctx context.Context, buildID int64, repo *models.SourceRepository, ref string) error {
	dir := repo.SrcPath(s.workingDir.String())

	err := s.runQuiet(ctx, buildID, dir, "reset", "--hard", "origin")
	if err != nil {
		return err
	}
	err = s.runQuiet(ctx, buildID, dir, "fetch", "--tags", "--prune", "--prune-tags", "--force")
	if err != nil {
		return err
	}
	err = s.runQuiet(ctx, buildID, dir, "checkout", "--force", ref)
	if err != nil {
		return err
	}

	err = s.run(ctx, buildID, dir, "submodule", "sync", "--recursive")
	if err != nil {
		return err
	}
	err = s.run(ctx, buildID, dir, "submodule", "update", "--init", "--recursive")
	if err != nil {
		return err
	}
	err = s.run(ctx, buildID, dir, "clean", "-dffx")
	if err != nil {
		return err
	}
	return s.run(ctx, buildID, dir, "lfs", "pull")
}

// LatestTag returns the newest tag of the repository that looks like a
// Debian version, by commit timestamp. Returns an empty string when the
// repository has no such tag.
func (s *GitService) LatestTag(ctx context.Context, buildID int64, repo *models.SourceRepository) (string, error) {
	dir := repo.SrcPath(s.workingDir.String())

	err := s.cleanLocal(ctx, buildID, dir)
	if err != nil {
		return "", err
	}
	err = s.runQuiet(ctx, buildID, dir, "fetch", "--tags", "--prune", "--prune-tags", "--force")
	if err != nil {
		return "", err
	}

	tagList, err := shell.RunOutput(ctx, dir, "git", "tag")
	if err != nil {
		return "", errors.Wrap(err, "error listing tags")
	}

	var latest string
	var latestTime int64 = -1
	for _, tag := range strings.Fields(tagList) {
		if !version.ValidVersionFormat(tag) {
			continue
		}
		out, err := shell.RunOutput(ctx, dir, "git", "log", "-1", "--format=%ct", tag)
		if err != nil {
			s.Warnf("error reading commit time of tag %q: %s", tag, err)
			continue
		}
		timestamp, err := strconv.ParseInt(out, 10, 64)
		if err != nil {
			continue
		}
		if timestamp > latestTime {
			latestTime = timestamp
			latest = tag
		}
	}
	return latest, nil
}

// BuildInfo extracts source package name, version, maintainer and build
// targets from the checked out tree.
func (s *GitService) BuildInfo(ctx context.Context, repo *models.SourceRepository) (*services.BuildInfo, error) {
	dir := repo.SrcPath(s.workingDir.String())
	info := &services.BuildInfo{}

	var err error
	info.Version, err = changelogAttr(ctx, dir, "Version")
	if err != nil {
		return nil, err
	}
	info.SourceName, err = changelogAttr(ctx, dir, "Source")
	if err != nil {
		return nil, err
	}

	gitInfo, err := shell.RunOutput(ctx, dir, "git", "show", "-s", "--format=%H %ae %an")
	if err != nil {
		return nil, errors.Wrap(err, "error reading commit info")
	}
	parts := strings.SplitN(gitInfo, " ", 3)
	if len(parts) != 3 {
		return nil, errors.Errorf("error parsing commit info %q", gitInfo)
	}
	info.CommitHash = parts[0]
	info.AuthorEmail = parts[1]
	info.AuthorName = parts[2]

	maintainer, err := changelogAttr(ctx, dir, "Maintainer")
	if err != nil {
		return nil, err
	}
	info.Maintainer, info.MaintainerEmail, err = splitMaintainer(maintainer)
	if err != nil {
		return nil, err
	}

	info.Targets = s.targetConfig(dir)
	return info, nil
}

// ChangeURL points the checkout at a new remote URL and renames the
// checkout directory after the new repository name.
func (s *GitService) ChangeURL(ctx context.Context, repo *models.SourceRepository, newURL string) error {
	name, err := models.RepoNameFromURL(newURL)
	if err != nil {
		return err
	}
	oldPath := repo.SrcPath(s.workingDir.String())
	if _, err := os.Stat(oldPath); err != nil {
		// Nothing cloned yet, nothing to move.
		return nil
	}
	if _, err := shell.RunOutput(ctx, oldPath, "git", "remote", "set-url", "origin", newURL); err != nil {
		return errors.Wrap(err, "error setting remote url")
	}
	newPath := filepath.Join(filepath.Dir(oldPath), name)
	if newPath == oldPath {
		return nil
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return errors.Wrap(err, "error renaming checkout")
	}
	return nil
}

// changelogAttr reads one field of the topmost debian/changelog entry.
func changelogAttr(ctx context.Context, dir, field string) (string, error) {
	out, err := shell.RunOutput(ctx, dir, "dpkg-parsechangelog", "-S", field)
	if err != nil {
		return "", errors.Wrapf(err, "error reading changelog field %s", field)
	}
	return out, nil
}

// splitMaintainer splits a changelog maintainer like "Jane Doe <jane@x.y>"
// into name and email.
func splitMaintainer(maintainer string) (name, email string, err error) {
	match := maintainerPattern.FindStringSubmatch(maintainer)
	if match == nil {
		return "", "", errors.Errorf("error parsing maintainer %q", maintainer)
	}
	fields := strings.Fields(match[1])
	if len(fields) == 0 {
		return "", "", errors.Errorf("error parsing maintainer %q", maintainer)
	}
	return strings.Join(fields, " "), match[2], nil
}

// buildConfig is the debian/molior.yml file of a repository. Versions may
// be YAML numbers, so they are parsed loosely and rendered back to strings.
type buildConfig struct {
	TargetRepoVersion interface{}              `yaml:"target_repo_version"`
	Targets           map[string][]interface{} `yaml:"targets"`
}

// targetConfig reads the requested build targets from debian/molior.yml.
// A missing or malformed file yields no targets.
func (s *GitService) targetConfig(dir string) []services.Target {
	path := filepath.Join(dir, "debian", "molior.yml")
	buf, err := os.ReadFile(path)
	if err != nil {
		s.Warnf("%s: does not exist", path)
		return nil
	}
	var cfg buildConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		s.Warnf("%s: parse error: %s", path, err)
		return nil
	}
	if cfg.TargetRepoVersion != nil {
		return []services.Target{{Version: fmt.Sprintf("%v", cfg.TargetRepoVersion)}}
	}
	if len(cfg.Targets) == 0 {
		s.Warnf("%s: no targets configured", path)
		return nil
	}

	seen := make(map[services.Target]bool)
	var targets []services.Target
	for project, versions := range cfg.Targets {
		for _, v := range versions {
			target := services.Target{Project: project, Version: fmt.Sprintf("%v", v)}
			if !seen[target] {
				seen[target] = true
				targets = append(targets, target)
			}
		}
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Project != targets[j].Project {
			return targets[i].Project < targets[j].Project
		}
		return targets[i].Version < targets[j].Version
	})
	return targets
}
