package buildenv

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/common/shell"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/queues"
	"github.com/molior-deb/molior/server/store"
)

// hookScriptDir holds the scripts creating and publishing build
// environments, run via run-parts.
const hookScriptDir = "/etc/molior/mirror-hooks.d"

// MaxParallelChroots caps how many build environments are created at once.
// Zero or negative disables the cap.
type MaxParallelChroots int

// BuildEnvService creates chroot build environments. A process wide counter
// gates how many environments are constructed in parallel; tasks beyond the
// cap are requeued.
type BuildEnvService struct {
	db                  *store.DB
	buildStore          store.BuildStore
	chrootStore         store.ChrootStore
	projectVersionStore store.ProjectVersionStore
	buildService        services.BuildService
	logService          services.LogService
	queues              *queues.Queues
	maxParallel         MaxParallelChroots
	logger.Log

	mu      sync.Mutex
	running int
}

func NewBuildEnvService(
	db *store.DB,
	buildStore store.BuildStore,
	chrootStore store.ChrootStore,
	projectVersionStore store.ProjectVersionStore,
	buildService services.BuildService,
	logService services.LogService,
	queues *queues.Queues,
	maxParallel MaxParallelChroots,
	logFactory logger.LogFactory) *BuildEnvService {

	return &BuildEnvService{
		db:                  db,
		buildStore:          buildStore,
		chrootStore:         chrootStore,
		projectVersionStore: projectVersionStore,
		buildService:        buildService,
		logService:          logService,
		queues:              queues,
		maxParallel:         maxParallel,
		Log:                 logFactory("BuildEnvService"),
	}
}

// acquire takes one slot of the parallel chroot budget.
func (s *BuildEnvService) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxParallel > 0 && s.running >= int(s.maxParallel) {
		return false
	}
	s.running++
	return true
}

func (s *BuildEnvService) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
}

// Running returns the number of build environments under construction.
func (s *BuildEnvService) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins creating a build environment in the background. Returns
// requeue=true while the parallel chroot build limit is reached.
func (s *BuildEnvService) Start(ctx context.Context, task *models.Task) (bool, error) {
	if !s.acquire() {
		s.Infof("buildenv: %d chroot builds running, requeueing build %d", s.Running(), task.BuildID)
		return true, nil
	}
	go func() {
		defer s.release()
		s.createBuildEnv(ctx, task)
	}()
	return false, nil
}

// createBuildEnv runs the build environment creation for one chroot build:
// the build hook scripts construct the environment, the publish hook scripts
// make it available to the nodes, and the chroot row and base mirror are
// finalized.
func (s *BuildEnvService) createBuildEnv(ctx context.Context, task *models.Task) {
	build, err := s.buildService.Read(ctx, nil, task.BuildID)
	if err != nil {
		s.Errorf("buildenv: error reading build %d: %s", task.BuildID, err)
		return
	}

	s.logService.Title(build.ID, "Chroot Environment", nil)
	err = s.buildService.SetBuilding(ctx, nil, build.ID)
	if err != nil {
		s.Errorf("buildenv: %s", err)
		return
	}
	parent, err := s.readParent(ctx, build)
	if err != nil {
		s.Errorf("buildenv: %s", err)
		return
	}
	if parent != nil && parent.State != models.BuildStateBuilding {
		if err := s.buildService.SetBuilding(ctx, nil, parent.ID); err != nil {
			s.Errorf("buildenv: %s", err)
		}
	}

	s.logService.Printf(build.ID, "Creating build environments for %s-%s-%s\n\n",
		task.Distribution, task.MirrorVersion, task.Architecture)

	err = s.runHooks(ctx, build.ID, "build", task)
	if err != nil {
		s.Errorf("buildenv: error creating build environment for build %d: %s", build.ID, err)
		s.logService.Write(build.ID, "E: error creating build environment\n")
		s.fail(ctx, build, parent, s.buildService.SetFailed,
			models.BuildStateBuildFailed)
		return
	}

	err = s.buildService.SetNeedsPublish(ctx, nil, build.ID)
	if err == nil {
		err = s.buildService.SetPublishing(ctx, nil, build.ID)
	}
	if err != nil {
		s.Errorf("buildenv: %s", err)
		return
	}
	if parent != nil && parent.State != models.BuildStatePublishing {
		if err := s.buildService.SetNeedsPublish(ctx, nil, parent.ID); err != nil {
			s.Errorf("buildenv: %s", err)
		}
		if err := s.buildService.SetPublishing(ctx, nil, parent.ID); err != nil {
			s.Errorf("buildenv: %s", err)
		}
	}

	err = s.runHooks(ctx, build.ID, "publish", task)
	if err != nil {
		s.Errorf("buildenv: error publishing build environment for build %d: %s", build.ID, err)
		s.logService.Write(build.ID, "E: error publishing build environment\n")
		s.fail(ctx, build, parent, s.buildService.SetPublishFailed,
			models.BuildStatePublishFailed)
		return
	}

	err = s.finalize(ctx, task, build)
	if err != nil {
		s.Errorf("buildenv: error finalizing build %d: %s", build.ID, err)
		s.logService.Write(build.ID, "E: error finalizing build environment\n")
		s.fail(ctx, build, parent, s.buildService.SetPublishFailed,
			models.BuildStatePublishFailed)
		return
	}

	if err := s.buildService.SetSuccessful(ctx, nil, build.ID); err != nil {
		s.Errorf("buildenv: %s", err)
	}
	s.promoteParent(ctx, build, parent)
	s.logService.TitleDone(build.ID)
	s.logService.Close(build.ID)
	s.queues.Tasks.Enqueue(models.NewScheduleTask())
}

// readParent loads the mirror build above a chroot build, or nil if the
// build has none.
func (s *BuildEnvService) readParent(ctx context.Context, build *models.Build) (*models.Build, error) {
	if build.ParentID == nil {
		return nil, nil
	}
	parent, err := s.buildService.Read(ctx, nil, *build.ParentID)
	if err != nil {
		if gerror.IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "error reading parent of build %d", build.ID)
	}
	return parent, nil
}

// runHooks runs the mirror hook scripts for one stage, streaming output to
// the build log. The scripts receive the stage and the chroot coordinates as
// arguments.
func (s *BuildEnvService) runHooks(ctx context.Context, buildID int64, stage string, task *models.Task) error {
	out := func(line string) {
		s.logService.Write(buildID, line+"\n")
	}
	args := []string{"run-parts"}
	for _, arg := range []string{
		stage,
		task.Distribution,
		task.MirrorName,
		task.MirrorVersion,
		task.Architecture,
		task.Components,
		task.RepositoryURL,
		strings.Join(task.MirrorKeys, " "),
	} {
		args = append(args, "-a", arg)
	}
	args = append(args, hookScriptDir)
	return shell.Run(ctx, out, "", nil, true, "sudo", args...)
}

// fail moves the chroot build and its mirror parent to the failed state and
// closes the log.
func (s *BuildEnvService) fail(
	ctx context.Context,
	build, parent *models.Build,
	set func(context.Context, *store.Tx, int64) error,
	state models.BuildState) {

	if err := set(ctx, nil, build.ID); err != nil {
		s.Errorf("buildenv: error failing build %d: %s", build.ID, err)
	}
	if parent != nil && parent.State != state && !parent.State.HasFailed() {
		if err := set(ctx, nil, parent.ID); err != nil {
			s.Errorf("buildenv: error failing build %d: %s", parent.ID, err)
		}
	}
	s.logService.TitleDone(build.ID)
	s.logService.Close(build.ID)
}

// finalize marks the chroot usable and locks its base mirror for builds.
func (s *BuildEnvService) finalize(ctx context.Context, task *models.Task, build *models.Build) error {
	return s.db.WithTx(ctx, nil, func(tx *store.Tx) error {
		chroot, err := s.chrootStore.Read(ctx, tx, task.ChrootID)
		if err != nil {
			return errors.Wrapf(err, "error reading chroot %d", task.ChrootID)
		}
		chroot.Ready = true
		err = s.chrootStore.Update(ctx, tx, chroot)
		if err != nil {
			return errors.Wrapf(err, "error updating chroot %d", chroot.ID)
		}
		basemirror, err := s.projectVersionStore.Read(ctx, tx, chroot.BasemirrorID)
		if err != nil {
			return errors.Wrapf(err, "error reading base mirror %d", chroot.BasemirrorID)
		}
		basemirror.IsLocked = true
		basemirror.MirrorState = models.MirrorStateReady
		err = s.projectVersionStore.Update(ctx, tx, basemirror)
		if err != nil {
			return errors.Wrapf(err, "error updating base mirror %d", basemirror.ID)
		}
		return nil
	})
}

// promoteParent marks the mirror build successful once all of its chroot
// builds are.
func (s *BuildEnvService) promoteParent(ctx context.Context, build, parent *models.Build) {
	if parent == nil {
		return
	}
	siblings, err := s.buildStore.ListChildren(ctx, nil, parent.ID)
	if err != nil {
		s.Errorf("buildenv: error listing children of build %d: %s", parent.ID, err)
		return
	}
	for _, sibling := range siblings {
		if sibling.ID == build.ID {
			continue
		}
		if sibling.State != models.BuildStateSuccessful {
			return
		}
	}
	if err := s.buildService.SetSuccessful(ctx, nil, parent.ID); err != nil {
		s.Errorf("buildenv: error promoting build %d: %s", parent.ID, err)
	}
	s.logService.TitleDone(parent.ID)
	s.logService.Close(parent.ID)
}
