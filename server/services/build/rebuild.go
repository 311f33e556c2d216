package build

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/models"
)

// Rebuild resets a failed build and runs it again. Deb builds go back to the
// scheduler, source builds are published again and chroot builds re-run the
// build environment creation.
// Returns gerror.ErrValidationFailed for builds that cannot be rebuilt.
func (s *BuildService) Rebuild(ctx context.Context, buildID int64) error {
	build, err := s.buildStore.Read(ctx, nil, buildID)
	if err != nil {
		return err
	}
	ok, err := s.CanRebuild(ctx, nil, build)
	if err != nil {
		return err
	}
	if !ok {
		return gerror.NewErrValidationFailed(
			fmt.Sprintf("build %d cannot be rebuilt in state %s", build.ID, build.State))
	}
	switch build.Type {
	case models.BuildTypeDeb:
		return s.rebuildDeb(ctx, build)
	case models.BuildTypeSource:
		return s.rebuildSource(ctx, build)
	case models.BuildTypeChroot:
		return s.rebuildChroot(ctx, build)
	default:
		return gerror.NewErrValidationFailed(
			fmt.Sprintf("rebuilding %s build %d in state %s is not supported", build.Type, build.ID, build.State))
	}
}

// rebuildDeb clears the build output, resets the build for the scheduler and
// asks for a scheduling pass. Resetting reopens the finished top-level build.
func (s *BuildService) rebuildDeb(ctx context.Context, build *models.Build) error {
	buildout := models.BuildoutPath(s.workingDir.String(), build.ID)
	if err := os.RemoveAll(buildout); err != nil {
		s.Warnf("rebuild: error removing %s: %s", buildout, err)
	}
	if err := s.SetNeedsBuild(ctx, nil, build.ID); err != nil {
		return err
	}
	s.queues.Tasks.Enqueue(models.NewScheduleTask())
	return nil
}

// rebuildSource publishes the source package again.
func (s *BuildService) rebuildSource(ctx context.Context, build *models.Build) error {
	if build.ParentID != nil {
		s.logService.Write(*build.ParentID, "I: publishing source package\n")
	}
	if err := s.SetNeedsPublish(ctx, nil, build.ID); err != nil {
		return err
	}
	s.queues.Publish.Enqueue(&models.PublishRequest{Action: models.PublishSourcePackage, BuildID: build.ID})
	return nil
}

// rebuildChroot reconstructs the build environment task from the chroot row
// and its base mirror and enqueues it.
func (s *BuildService) rebuildChroot(ctx context.Context, build *models.Build) error {
	chroot, err := s.chrootStore.ReadByBuild(ctx, nil, build.ID)
	if err != nil {
		return errors.Wrapf(err, "error reading chroot of build %d", build.ID)
	}
	basemirror, err := s.projectVersionStore.Read(ctx, nil, chroot.BasemirrorID)
	if err != nil {
		return errors.Wrapf(err, "error reading base mirror %d", chroot.BasemirrorID)
	}
	project, err := s.projectVersionStore.ReadProject(ctx, nil, basemirror.ProjectID)
	if err != nil {
		return errors.Wrapf(err, "error reading mirror project %d", basemirror.ProjectID)
	}
	s.queues.Tasks.Enqueue(&models.Task{
		Tag:           models.TaskBuildEnv,
		BuildID:       build.ID,
		ChrootID:      chroot.ID,
		Distribution:  basemirror.MirrorDistribution,
		MirrorName:    project.Name,
		MirrorVersion: basemirror.Name,
		Architecture:  chroot.Architecture,
		Components:    basemirror.MirrorComponents,
		RepositoryURL: basemirror.MirrorURL,
		MirrorKeys:    basemirror.MirrorKeyList(),
	})
	return nil
}
