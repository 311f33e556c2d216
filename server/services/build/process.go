package build

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/store"
)

// StartBuildProcess begins the build process of a top-level build in the
// background. The repository is taken busy first; requests for repositories
// that are not ready are requeued without touching the build. Requests for
// missing builds or repositories are dropped.
func (s *BuildService) StartBuildProcess(ctx context.Context, task *models.Task) (bool, error) {
	build, err := s.buildStore.Read(ctx, nil, task.BuildID)
	if err != nil {
		if gerror.IsNotFound(err) {
			s.Errorf("build: build %d not found", task.BuildID)
			return false, nil
		}
		return false, err
	}
	repo, err := s.repoStore.Read(ctx, nil, task.RepoID)
	if err != nil {
		if gerror.IsNotFound(err) {
			s.Errorf("build: repo %d not found", task.RepoID)
			return false, nil
		}
		return false, err
	}
	if repo.State != models.RepoStateReady {
		s.Infof("build: repo %d not ready, requeueing build %d", repo.ID, build.ID)
		return true, nil
	}

	repo.State = models.RepoStateBusy
	err = s.repoStore.Update(ctx, nil, repo)
	if err != nil {
		return false, errors.Wrapf(err, "error setting repo %d busy", repo.ID)
	}
	if build.State != models.BuildStateBuilding {
		err = s.SetBuilding(ctx, nil, build.ID)
		if err != nil {
			return false, err
		}
	}

	go s.runBuildProcess(ctx, task, build, repo)
	return false, nil
}

// runBuildProcess drives a top-level build from git checkout to the point
// where its deb builds wait for the scheduler. The repository is released on
// every exit path.
func (s *BuildService) runBuildProcess(ctx context.Context, task *models.Task, build *models.Build, repo *models.SourceRepository) {
	ref := task.GitRef
	if ref == "" && task.CIBranch != "" {
		ref = "origin/" + task.CIBranch
	}

	s.logService.Title(build.ID, "Checking out "+ref, nil)
	err := s.gitService.Checkout(ctx, build.ID, repo, ref)
	if err != nil {
		s.Errorf("build %d: error checking out %q: %s", build.ID, ref, err)
		s.failProcess(ctx, build, repo, "E: error checking out git ref\n")
		return
	}

	info, err := s.gitService.BuildInfo(ctx, repo)
	if err != nil {
		s.Errorf("build %d: error reading build info: %s", build.ID, err)
		s.failProcess(ctx, build, repo, "E: error reading build info\n")
		return
	}
	if len(task.Targets) > 0 {
		info.Targets = forcedTargets(task.Targets)
	}
	s.logService.Printf(build.ID, "I: building %s %s\n", info.SourceName, info.Version)

	updated, err := s.update(ctx, nil, build.ID, func(b *models.Build) {
		b.SourceName = info.SourceName
		b.Version = info.Version
		b.Maintainer = info.Maintainer
		b.MaintainerEmail = info.MaintainerEmail
		b.GitRef = info.CommitHash
	})
	if err != nil {
		s.Errorf("build %d: error recording build info: %s", build.ID, err)
		s.failProcess(ctx, build, repo, "E: error recording build info\n")
		return
	}
	build = updated

	links, err := s.resolveTargets(ctx, repo, info)
	if err != nil {
		s.Errorf("build %d: error resolving targets: %s", build.ID, err)
		s.failProcess(ctx, build, repo, "E: error resolving build targets\n")
		return
	}
	if len(links) == 0 {
		s.logService.Write(build.ID, "E: no matching projectversion targets found\n")
		s.finishProcess(ctx, build, repo, s.SetNothingDone)
		return
	}

	buildable, err := s.withoutBuiltTargets(ctx, build.ID, links, info)
	if err != nil {
		s.Errorf("build %d: error checking existing builds: %s", build.ID, err)
		s.failProcess(ctx, build, repo, "E: error checking for existing builds\n")
		return
	}
	if len(buildable) == 0 {
		s.logService.Printf(build.ID, "E: %s %s is already built\n", info.SourceName, info.Version)
		s.finishProcess(ctx, build, repo, s.SetAlreadyExists)
		return
	}

	srcBuild := &models.Build{
		State:              models.BuildStateNew,
		Type:               models.BuildTypeSource,
		ParentID:           &build.ID,
		SourceRepositoryID: &repo.ID,
		SourceName:         info.SourceName,
		Version:            info.Version,
		Maintainer:         info.Maintainer,
		MaintainerEmail:    info.MaintainerEmail,
		GitRef:             info.CommitHash,
		CIBranch:           task.CIBranch,
		IsCI:               build.IsCI,
	}
	err = s.Create(ctx, nil, srcBuild)
	if err == nil {
		err = s.SetNeedsBuild(ctx, nil, srcBuild.ID)
	}
	if err == nil {
		err = s.SetBuilding(ctx, nil, srcBuild.ID)
	}
	if err != nil {
		s.Errorf("build %d: error creating source build: %s", build.ID, err)
		s.failProcess(ctx, build, repo, "E: error creating source build\n")
		return
	}

	s.logService.Title(build.ID, "Building source package", nil)
	err = s.packager.BuildSourcePackage(ctx, build.ID, repo.SrcPath(s.workingDir.String()))
	if err != nil {
		s.Errorf("build %d: error building source package: %s", build.ID, err)
		s.logService.Write(build.ID, "E: building source package failed\n")
		if err := s.SetFailed(ctx, nil, srcBuild.ID); err != nil {
			s.Errorf("build %d: error failing source build %d: %s", build.ID, srcBuild.ID, err)
		}
		s.logService.TitleDone(build.ID)
		s.logService.Close(build.ID)
		s.releaseRepo(ctx, repo)
		return
	}

	err = s.createDebBuilds(ctx, srcBuild, repo, buildable)
	if err != nil {
		s.Errorf("build %d: error creating deb builds: %s", build.ID, err)
		s.logService.Write(build.ID, "E: error creating builds\n")
		if err := s.SetFailed(ctx, nil, srcBuild.ID); err != nil {
			s.Errorf("build %d: error failing source build %d: %s", build.ID, srcBuild.ID, err)
		}
		s.logService.TitleDone(build.ID)
		s.logService.Close(build.ID)
		s.releaseRepo(ctx, repo)
		return
	}

	err = s.SetNeedsPublish(ctx, nil, srcBuild.ID)
	if err != nil {
		s.Errorf("build %d: error setting source build %d needs_publish: %s", build.ID, srcBuild.ID, err)
	}
	s.logService.Write(build.ID, "I: publishing source package\n")
	s.queues.Publish.Enqueue(&models.PublishRequest{Action: models.PublishSourcePackage, BuildID: srcBuild.ID})
	s.queues.Tasks.Enqueue(models.NewScheduleTask())

	s.logService.Close(build.ID)
	s.releaseRepo(ctx, repo)
}

// resolveTargets maps the requested targets onto the repository's project
// version associations, dropping duplicates.
func (s *BuildService) resolveTargets(ctx context.Context, repo *models.SourceRepository, info *services.BuildInfo) ([]*models.RepoProjectVersion, error) {
	seen := make(map[int64]bool)
	var links []*models.RepoProjectVersion
	for _, target := range info.Targets {
		found, err := s.repoStore.FindTargets(ctx, nil, repo.ID, target.Project, target.Version)
		if err != nil {
			return nil, err
		}
		for _, link := range found {
			if !seen[link.ID] {
				seen[link.ID] = true
				links = append(links, link)
			}
		}
	}
	return links, nil
}

// withoutBuiltTargets drops targets for which a deb build of the same source
// package version already exists in a non-failed state.
func (s *BuildService) withoutBuiltTargets(ctx context.Context, buildID int64, links []*models.RepoProjectVersion, info *services.BuildInfo) ([]*models.RepoProjectVersion, error) {
	var buildable []*models.RepoProjectVersion
	for _, link := range links {
		_, err := s.buildStore.FindExistingDeb(ctx, nil, link.ProjectVersionID, info.SourceName, info.Version)
		if err != nil {
			if !gerror.IsNotFound(err) {
				return nil, err
			}
			buildable = append(buildable, link)
			continue
		}
		name := strconv.FormatInt(link.ProjectVersionID, 10)
		if projectVersion, perr := s.projectVersionStore.Read(ctx, nil, link.ProjectVersionID); perr == nil {
			name = projectVersion.Name
		}
		s.logService.Printf(buildID, "W: %s %s is already built for %s, skipping\n", info.SourceName, info.Version, name)
	}
	return buildable, nil
}

// createDebBuilds creates one deb build per target and architecture, ready
// for the scheduler.
func (s *BuildService) createDebBuilds(ctx context.Context, srcBuild *models.Build, repo *models.SourceRepository, links []*models.RepoProjectVersion) error {
	for _, link := range links {
		projectVersionID := link.ProjectVersionID
		for _, arch := range link.ArchitectureList() {
			debBuild := &models.Build{
				State:              models.BuildStateNew,
				Type:               models.BuildTypeDeb,
				Architecture:       arch,
				ParentID:           &srcBuild.ID,
				SourceRepositoryID: &repo.ID,
				ProjectVersionID:   &projectVersionID,
				SourceName:         srcBuild.SourceName,
				Version:            srcBuild.Version,
				Maintainer:         srcBuild.Maintainer,
				MaintainerEmail:    srcBuild.MaintainerEmail,
				GitRef:             srcBuild.GitRef,
				CIBranch:           srcBuild.CIBranch,
				IsCI:               srcBuild.IsCI,
			}
			err := s.Create(ctx, nil, debBuild)
			if err != nil {
				return err
			}
			err = s.SetNeedsBuild(ctx, nil, debBuild.ID)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// failProcess ends the build process with a failed top-level build.
func (s *BuildService) failProcess(ctx context.Context, build *models.Build, repo *models.SourceRepository, message string) {
	s.logService.Write(build.ID, message)
	s.finishProcess(ctx, build, repo, s.SetFailed)
}

// finishProcess ends the build process early: the final state is set, the
// closing banner written and the repository released.
func (s *BuildService) finishProcess(ctx context.Context, build *models.Build, repo *models.SourceRepository, set func(context.Context, *store.Tx, int64) error) {
	if err := set(ctx, nil, build.ID); err != nil {
		s.Errorf("build %d: error finishing build process: %s", build.ID, err)
	}
	s.logService.TitleDone(build.ID)
	s.logService.Close(build.ID)
	s.releaseRepo(ctx, repo)
}

// releaseRepo hands the repository back after a build process.
func (s *BuildService) releaseRepo(ctx context.Context, repo *models.SourceRepository) {
	repo.State = models.RepoStateReady
	if err := s.repoStore.Update(ctx, nil, repo); err != nil {
		s.Errorf("error releasing repo %d: %s", repo.ID, err)
	}
}

// forcedTargets parses trigger supplied targets of the form
// "project/version" or "version".
func forcedTargets(targets []string) []services.Target {
	var result []services.Target
	for _, target := range targets {
		parts := strings.SplitN(target, "/", 2)
		if len(parts) == 2 {
			result = append(result, services.Target{Project: parts[0], Version: parts[1]})
		} else {
			result = append(result, services.Target{Version: target})
		}
	}
	return result
}
