package build

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/queues"
	"github.com/molior-deb/molior/server/store"
)

// hookStates are the deb build states hook targets are told about.
var hookStates = map[models.BuildState]bool{
	models.BuildStateBuilding:      true,
	models.BuildStateSuccessful:    true,
	models.BuildStateBuildFailed:   true,
	models.BuildStatePublishFailed: true,
}

type BuildService struct {
	db                  *store.DB
	buildStore          store.BuildStore
	repoStore           store.SourceRepositoryStore
	projectVersionStore store.ProjectVersionStore
	chrootStore         store.ChrootStore
	buildTaskStore      store.BuildTaskStore
	logService          services.LogService
	gitService          services.GitService
	packager            services.Packager
	queues              *queues.Queues
	clk                 clock.Clock
	workingDir          services.WorkingDirectory
	logger.Log
}

func NewBuildService(
	db *store.DB,
	buildStore store.BuildStore,
	repoStore store.SourceRepositoryStore,
	projectVersionStore store.ProjectVersionStore,
	chrootStore store.ChrootStore,
	buildTaskStore store.BuildTaskStore,
	logService services.LogService,
	gitService services.GitService,
	packager services.Packager,
	queues *queues.Queues,
	clk clock.Clock,
	workingDir services.WorkingDirectory,
	logFactory logger.LogFactory,
) *BuildService {
	return &BuildService{
		db:                  db,
		buildStore:          buildStore,
		repoStore:           repoStore,
		projectVersionStore: projectVersionStore,
		chrootStore:         chrootStore,
		buildTaskStore:      buildTaskStore,
		logService:          logService,
		gitService:          gitService,
		packager:            packager,
		queues:              queues,
		clk:                 clk,
		workingDir:          workingDir,
		Log:                 logFactory("BuildService"),
	}
}

// Create a new build and announce it to websocket subscribers.
func (s *BuildService) Create(ctx context.Context, txOrNil *store.Tx, build *models.Build) error {
	if build.CreatedAt.IsZero() {
		build.CreatedAt = models.NewTime(s.clk.Now())
	}
	if build.State == "" {
		build.State = models.BuildStateNew
	}
	err := build.Validate()
	if err != nil {
		return errors.Wrap(err, "error validating build")
	}
	err = s.buildStore.Create(ctx, txOrNil, build)
	if err != nil {
		return errors.Wrap(err, "error creating build")
	}
	s.notify(ctx, txOrNil, build, models.EventAdded)
	return nil
}

// Read an existing build, looking it up by id.
// Returns gerror.ErrNotFound if the build does not exist.
func (s *BuildService) Read(ctx context.Context, txOrNil *store.Tx, id int64) (*models.Build, error) {
	return s.buildStore.Read(ctx, txOrNil, id)
}

// Data renders a build into its notification document. Project information
// is attached for deb and chroot builds of non-mirror project versions, and
// a locked project version disables the rebuild flag.
func (s *BuildService) Data(ctx context.Context, txOrNil *store.Tx, build *models.Build) (*models.BuildData, error) {
	data := build.Data()
	if build.ProjectVersionID == nil {
		return data, nil
	}
	projectVersion, err := s.projectVersionStore.Read(ctx, txOrNil, *build.ProjectVersionID)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading project version %d", *build.ProjectVersionID)
	}
	if projectVersion.IsLocked {
		data.CanRebuild = false
	}
	if build.Type != models.BuildTypeDeb && build.Type != models.BuildTypeChroot {
		return data, nil
	}
	project, err := s.projectVersionStore.ReadProject(ctx, txOrNil, projectVersion.ProjectID)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading project %d", projectVersion.ProjectID)
	}
	if project.IsMirror {
		return data, nil
	}
	data.Project = &models.BuildProject{Name: project.Name, Version: projectVersion.Name}
	return data, nil
}

// update applies fn to the build row under a row lock and writes it back.
// Returns the updated build.
func (s *BuildService) update(ctx context.Context, txOrNil *store.Tx, id int64, fn func(build *models.Build)) (*models.Build, error) {
	var build *models.Build
	err := s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		err := s.buildStore.LockRowForUpdate(ctx, tx, id)
		if err != nil {
			return errors.Wrapf(err, "error locking build %d", id)
		}
		build, err = s.buildStore.Read(ctx, tx, id)
		if err != nil {
			return err
		}
		fn(build)
		return s.buildStore.Update(ctx, tx, build)
	})
	if err != nil {
		return nil, err
	}
	return build, nil
}

// notify broadcasts the current state of a build to websocket subscribers.
// State changes of deb builds additionally queue the post build hooks when
// the new state is one hook targets care about.
func (s *BuildService) notify(ctx context.Context, txOrNil *store.Tx, build *models.Build, event models.Event) {
	data, err := s.Data(ctx, txOrNil, build)
	if err != nil {
		s.Errorf("error composing notification for build %d: %s", build.ID, err)
		return
	}
	s.queues.Notifications.Enqueue(&models.Notification{
		Event: &models.WebsocketEvent{Subject: models.SubjectBuild, Event: event, Data: data},
	})
	if event == models.EventChanged && build.Type == models.BuildTypeDeb && hookStates[build.State] {
		s.queues.Notifications.Enqueue(&models.Notification{HooksBuildID: build.ID})
	}
}

// grandparent resolves the top-level build two levels above a deb or chroot
// build.
func (s *BuildService) grandparent(ctx context.Context, txOrNil *store.Tx, build *models.Build) (*models.Build, error) {
	if build.ParentID == nil {
		return nil, gerror.NewErrNotFound(fmt.Sprintf("build %d has no parent", build.ID))
	}
	parent, err := s.buildStore.Read(ctx, txOrNil, *build.ParentID)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading parent of build %d", build.ID)
	}
	if parent.ParentID == nil {
		return nil, gerror.NewErrNotFound(fmt.Sprintf("build %d has no grandparent", build.ID))
	}
	top, err := s.buildStore.Read(ctx, txOrNil, *parent.ParentID)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading grandparent of build %d", build.ID)
	}
	return top, nil
}

// SetNeedsBuild marks the build ready for scheduling and clears its end
// timestamps. When a finished deb build is reset, the top-level build above
// it is reopened and set building again.
func (s *BuildService) SetNeedsBuild(ctx context.Context, txOrNil *store.Tx, id int64) error {
	build, err := s.update(ctx, txOrNil, id, func(b *models.Build) {
		b.State = models.BuildStateNeedsBuild
		b.BuiltAt = nil
		b.EndedAt = nil
	})
	if err != nil {
		return errors.Wrapf(err, "error setting build %d needs_build", id)
	}
	s.notify(ctx, txOrNil, build, models.EventChanged)

	if build.Type != models.BuildTypeDeb {
		return nil
	}
	top, err := s.grandparent(ctx, txOrNil, build)
	if err != nil {
		return err
	}
	if top.State != models.BuildStateBuilding {
		_, err = s.update(ctx, txOrNil, top.ID, func(b *models.Build) {
			b.EndedAt = nil
		})
		if err != nil {
			return errors.Wrapf(err, "error reopening build %d", top.ID)
		}
		return s.SetBuilding(ctx, txOrNil, top.ID)
	}
	return nil
}

// SetScheduled marks the build as handed to the backend. Returns false
// without changing anything if the build already left needs_build, so two
// overlapping scheduling passes cannot both claim it.
func (s *BuildService) SetScheduled(ctx context.Context, txOrNil *store.Tx, id int64) (bool, error) {
	var build *models.Build
	claimed := false
	err := s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		err := s.buildStore.LockRowForUpdate(ctx, tx, id)
		if err != nil {
			return errors.Wrapf(err, "error locking build %d", id)
		}
		build, err = s.buildStore.Read(ctx, tx, id)
		if err != nil {
			return err
		}
		if build.State != models.BuildStateNeedsBuild {
			return nil
		}
		build.State = models.BuildStateScheduled
		claimed = true
		return s.buildStore.Update(ctx, tx, build)
	})
	if err != nil {
		return false, errors.Wrapf(err, "error setting build %d scheduled", id)
	}
	if claimed {
		s.notify(ctx, txOrNil, build, models.EventChanged)
	}
	return claimed, nil
}

// SetBuilding marks the build as running and records the start time.
func (s *BuildService) SetBuilding(ctx context.Context, txOrNil *store.Tx, id int64) error {
	build, err := s.update(ctx, txOrNil, id, func(b *models.Build) {
		b.State = models.BuildStateBuilding
		b.StartedAt = models.NewTimePtr(s.clk.Now())
	})
	if err != nil {
		return errors.Wrapf(err, "error setting build %d building", id)
	}
	s.notify(ctx, txOrNil, build, models.EventChanged)
	return nil
}

// SetFailed marks the build as failed. The failure of a source build fails
// its parent; the failure of a deb build fails the top-level build above it
// and closes its log with a "Done" banner, unless it already failed.
func (s *BuildService) SetFailed(ctx context.Context, txOrNil *store.Tx, id int64) error {
	build, err := s.update(ctx, txOrNil, id, func(b *models.Build) {
		b.State = models.BuildStateBuildFailed
		now := models.NewTimePtr(s.clk.Now())
		b.BuiltAt = now
		b.EndedAt = now
	})
	if err != nil {
		return errors.Wrapf(err, "error setting build %d build_failed", id)
	}
	s.notify(ctx, txOrNil, build, models.EventChanged)
	return s.escalateFailure(ctx, txOrNil, build)
}

// SetNeedsPublish marks the build step finished and ready to publish.
func (s *BuildService) SetNeedsPublish(ctx context.Context, txOrNil *store.Tx, id int64) error {
	build, err := s.update(ctx, txOrNil, id, func(b *models.Build) {
		b.State = models.BuildStateNeedsPublish
		b.BuiltAt = models.NewTimePtr(s.clk.Now())
	})
	if err != nil {
		return errors.Wrapf(err, "error setting build %d needs_publish", id)
	}
	s.notify(ctx, txOrNil, build, models.EventChanged)
	return nil
}

// SetPublishing marks the build's packages as being published.
func (s *BuildService) SetPublishing(ctx context.Context, txOrNil *store.Tx, id int64) error {
	build, err := s.update(ctx, txOrNil, id, func(b *models.Build) {
		b.State = models.BuildStatePublishing
	})
	if err != nil {
		return errors.Wrapf(err, "error setting build %d publishing", id)
	}
	s.notify(ctx, txOrNil, build, models.EventChanged)
	return nil
}

// SetPublishFailed marks publishing as failed and escalates like a build
// failure.
func (s *BuildService) SetPublishFailed(ctx context.Context, txOrNil *store.Tx, id int64) error {
	build, err := s.update(ctx, txOrNil, id, func(b *models.Build) {
		b.State = models.BuildStatePublishFailed
		b.EndedAt = models.NewTimePtr(s.clk.Now())
	})
	if err != nil {
		return errors.Wrapf(err, "error setting build %d publish_failed", id)
	}
	s.notify(ctx, txOrNil, build, models.EventChanged)
	return s.escalateFailure(ctx, txOrNil, build)
}

// escalateFailure propagates a failed deb build to the top-level build above
// it and a failed source build to its parent. The top-level build always
// ends in build_failed, also for publish failures.
func (s *BuildService) escalateFailure(ctx context.Context, txOrNil *store.Tx, build *models.Build) error {
	switch build.Type {
	case models.BuildTypeDeb:
		top, err := s.grandparent(ctx, txOrNil, build)
		if err != nil {
			return err
		}
		if top.State == models.BuildStateBuildFailed {
			return nil
		}
		err = s.SetFailed(ctx, txOrNil, top.ID)
		if err != nil {
			return err
		}
		s.logService.TitleDone(top.ID)
		s.logService.Close(top.ID)
	case models.BuildTypeSource:
		if build.ParentID == nil {
			return nil
		}
		return s.SetFailed(ctx, txOrNil, *build.ParentID)
	}
	return nil
}

// SetSuccessful marks the build successful. When the last deb build under a
// top-level build succeeds, the top-level build succeeds too and its log is
// closed with a "Done" banner.
func (s *BuildService) SetSuccessful(ctx context.Context, txOrNil *store.Tx, id int64) error {
	build, err := s.update(ctx, txOrNil, id, func(b *models.Build) {
		b.State = models.BuildStateSuccessful
		b.EndedAt = models.NewTimePtr(s.clk.Now())
	})
	if err != nil {
		return errors.Wrapf(err, "error setting build %d successful", id)
	}
	s.notify(ctx, txOrNil, build, models.EventChanged)

	if build.Type != models.BuildTypeDeb || build.ParentID == nil {
		return nil
	}
	siblings, err := s.buildStore.ListChildren(ctx, txOrNil, *build.ParentID)
	if err != nil {
		return errors.Wrapf(err, "error listing siblings of build %d", build.ID)
	}
	for _, sibling := range siblings {
		if sibling.ID == build.ID {
			continue
		}
		if sibling.State != models.BuildStateSuccessful {
			return nil
		}
	}
	top, err := s.grandparent(ctx, txOrNil, build)
	if err != nil {
		return err
	}
	err = s.SetSuccessful(ctx, txOrNil, top.ID)
	if err != nil {
		return err
	}
	s.logService.TitleDone(top.ID)
	s.logService.Close(top.ID)
	return nil
}

// SetAlreadyExists finishes the build because the version is already built.
func (s *BuildService) SetAlreadyExists(ctx context.Context, txOrNil *store.Tx, id int64) error {
	build, err := s.update(ctx, txOrNil, id, func(b *models.Build) {
		b.State = models.BuildStateAlreadyExists
		b.EndedAt = models.NewTimePtr(s.clk.Now())
	})
	if err != nil {
		return errors.Wrapf(err, "error setting build %d already_exists", id)
	}
	s.notify(ctx, txOrNil, build, models.EventChanged)
	return nil
}

// SetNothingDone finishes the build because there was nothing to build.
func (s *BuildService) SetNothingDone(ctx context.Context, txOrNil *store.Tx, id int64) error {
	build, err := s.update(ctx, txOrNil, id, func(b *models.Build) {
		b.State = models.BuildStateNothingDone
		b.EndedAt = models.NewTimePtr(s.clk.Now())
	})
	if err != nil {
		return errors.Wrapf(err, "error setting build %d nothing_done", id)
	}
	s.notify(ctx, txOrNil, build, models.EventChanged)
	return nil
}

// CanRebuild reports whether a rebuild may be requested for the build. Only
// failed builds whose project version is not locked can be rebuilt.
func (s *BuildService) CanRebuild(ctx context.Context, txOrNil *store.Tx, build *models.Build) (bool, error) {
	if !build.CanRebuild() {
		return false, nil
	}
	if build.ProjectVersionID != nil {
		projectVersion, err := s.projectVersionStore.Read(ctx, txOrNil, *build.ProjectVersionID)
		if err != nil {
			return false, errors.Wrapf(err, "error reading project version %d", *build.ProjectVersionID)
		}
		if projectVersion.IsLocked {
			return false, nil
		}
	}
	return true, nil
}
