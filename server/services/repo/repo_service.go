package repo

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/queues"
	"github.com/molior-deb/molior/server/store"
)

// RepoService drives the source repository lifecycle. The repository state
// column is the cross-task mutex: a handler only touches the checkout after
// moving the repository to busy, and hands it back by moving it to ready.
type RepoService struct {
	db           *store.DB
	repoStore    store.SourceRepositoryStore
	buildStore   store.BuildStore
	buildService services.BuildService
	gitService   services.GitService
	logService   services.LogService
	queues       *queues.Queues
	workingDir   services.WorkingDirectory
	logger.Log
}

func NewRepoService(
	db *store.DB,
	repoStore store.SourceRepositoryStore,
	buildStore store.BuildStore,
	buildService services.BuildService,
	gitService services.GitService,
	logService services.LogService,
	queues *queues.Queues,
	workingDir services.WorkingDirectory,
	logFactory logger.LogFactory) *RepoService {

	return &RepoService{
		db:           db,
		repoStore:    repoStore,
		buildStore:   buildStore,
		buildService: buildService,
		gitService:   gitService,
		logService:   logService,
		queues:       queues,
		workingDir:   workingDir,
		Log:          logFactory("RepoService"),
	}
}

// setState moves the repository to the given state.
func (s *RepoService) setState(ctx context.Context, repo *models.SourceRepository, state models.RepoState) error {
	repo.State = state
	err := s.repoStore.Update(ctx, nil, repo)
	if err != nil {
		return errors.Wrapf(err, "error setting repo %d %s", repo.ID, state)
	}
	return nil
}

// StartClone begins cloning a repository in the background. Requests for
// repositories that are neither new nor in error are dropped.
func (s *RepoService) StartClone(ctx context.Context, task *models.Task) error {
	repo, err := s.repoStore.Read(ctx, nil, task.RepoID)
	if err != nil {
		if gerror.IsNotFound(err) {
			s.Errorf("clone: repo %d not found", task.RepoID)
			return nil
		}
		return err
	}
	if repo.State != models.RepoStateNew && repo.State != models.RepoStateError {
		s.Errorf("clone: repo %d not ready for clone, state is %s", repo.ID, repo.State)
		return nil
	}
	err = s.setState(ctx, repo, models.RepoStateCloning)
	if err != nil {
		return err
	}
	go s.runClone(ctx, task.BuildID, repo)
	return nil
}

// runClone clones the repository and continues with a buildlatest task. The
// repository stays in cloning until the clone finished.
func (s *RepoService) runClone(ctx context.Context, buildID int64, repo *models.SourceRepository) {
	s.logService.Title(buildID, "Clone Repository", nil)
	s.logService.Printf(buildID, "I: cloning repository '%s'\n", repo.URL)

	err := s.gitService.Clone(ctx, buildID, repo)
	if err != nil {
		s.Errorf("error cloning repo %d from %s: %s", repo.ID, repo.URL, err)
		s.logService.Write(buildID, "E: git clone failed\n")
		if err := s.setState(ctx, repo, models.RepoStateError); err != nil {
			s.Errorf("%s", err)
		}
		if err := s.buildService.SetFailed(ctx, nil, buildID); err != nil {
			s.Errorf("error failing build %d: %s", buildID, err)
		}
		s.logService.TitleDone(buildID)
		s.logService.Close(buildID)
		return
	}

	s.logService.Write(buildID, "\n")
	if err := s.setState(ctx, repo, models.RepoStateReady); err != nil {
		s.Errorf("%s", err)
		return
	}
	s.queues.Tasks.Enqueue(&models.Task{Tag: models.TaskBuildLatest, RepoID: repo.ID, BuildID: buildID})
}

// BuildLatest resolves the newest tag of the repository and enqueues a build
// for it. Returns requeue=true while the repository is not ready.
func (s *RepoService) BuildLatest(ctx context.Context, task *models.Task) (bool, error) {
	build, err := s.buildService.Read(ctx, nil, task.BuildID)
	if err != nil {
		if gerror.IsNotFound(err) {
			s.Errorf("buildlatest: build %d not found", task.BuildID)
			return false, nil
		}
		return false, err
	}
	repo, err := s.repoStore.Read(ctx, nil, task.RepoID)
	if err != nil {
		if gerror.IsNotFound(err) {
			s.Errorf("buildlatest: repo %d not found", task.RepoID)
			return false, nil
		}
		return false, err
	}
	if repo.State != models.RepoStateReady {
		s.Infof("buildlatest: repo %d not ready, requeueing build %d", repo.ID, build.ID)
		return true, nil
	}

	err = s.buildService.SetBuilding(ctx, nil, build.ID)
	if err != nil {
		return false, err
	}
	err = s.setState(ctx, repo, models.RepoStateBusy)
	if err != nil {
		return false, err
	}

	s.logService.Title(build.ID, "Checking Repository", nil)
	s.logService.Write(build.ID, "I: fetching git tags\n")

	tag, err := s.gitService.LatestTag(ctx, build.ID, repo)
	if err != nil {
		s.Errorf("buildlatest: error getting latest tag of repo %d: %s", repo.ID, err)
		s.logService.Write(build.ID, "E: Error getting git tags\n")
		s.logService.TitleDone(build.ID)
		if err := s.buildService.SetFailed(ctx, nil, build.ID); err != nil {
			s.Errorf("error failing build %d: %s", build.ID, err)
		}
		s.logService.Close(build.ID)
		if err := s.setState(ctx, repo, models.RepoStateReady); err != nil {
			s.Errorf("%s", err)
		}
		return false, nil
	}
	if err := s.setState(ctx, repo, models.RepoStateReady); err != nil {
		return false, err
	}
	if tag == "" {
		s.Errorf("buildlatest: repo %d has no release tag", repo.ID)
		s.logService.Write(build.ID, "E: no git tags found\n")
		s.logService.TitleDone(build.ID)
		if err := s.buildService.SetFailed(ctx, nil, build.ID); err != nil {
			s.Errorf("error failing build %d: %s", build.ID, err)
		}
		s.logService.Close(build.ID)
		return false, nil
	}

	s.logService.Write(build.ID, "\n")
	s.queues.Tasks.Enqueue(&models.Task{
		Tag:     models.TaskBuild,
		BuildID: build.ID,
		RepoID:  repo.ID,
		GitRef:  tag,
	})
	return false, nil
}

// MergeDuplicate folds a duplicate repository into the original: project
// version links and builds move to the original, and the duplicate row and
// checkout are removed unless conflicting links remain. Returns requeue=true
// while either repository is not ready.
func (s *RepoService) MergeDuplicate(ctx context.Context, task *models.Task) (bool, error) {
	repo, err := s.repoStore.Read(ctx, nil, task.RepoID)
	if err != nil {
		if gerror.IsNotFound(err) {
			s.Errorf("merge_duplicate_repo: repo %d not found", task.RepoID)
			return false, nil
		}
		return false, err
	}
	duplicate, err := s.repoStore.Read(ctx, nil, task.DuplicateRepoID)
	if err != nil {
		if gerror.IsNotFound(err) {
			s.Errorf("merge_duplicate_repo: repo %d not found", task.DuplicateRepoID)
			return false, nil
		}
		return false, err
	}
	if repo.State != models.RepoStateReady || duplicate.State != models.RepoStateReady {
		s.Infof("merge_duplicate_repo: repos %d, %d not ready, requeueing", repo.ID, duplicate.ID)
		return true, nil
	}
	err = s.setState(ctx, repo, models.RepoStateBusy)
	if err != nil {
		return false, err
	}
	err = s.setState(ctx, duplicate, models.RepoStateBusy)
	if err != nil {
		return false, err
	}

	conflicts := 0
	err = s.db.WithTx(ctx, nil, func(tx *store.Tx) error {
		links, err := s.repoStore.ListProjectVersionLinks(ctx, tx, duplicate.ID)
		if err != nil {
			return err
		}
		for _, link := range links {
			_, err := s.repoStore.FindProjectVersionLink(ctx, tx, repo.ID, link.ProjectVersionID)
			if err == nil {
				// The original is already attached to this project
				// version, the duplicate's link cannot move.
				conflicts++
				continue
			}
			if !gerror.IsNotFound(err) {
				return err
			}
			err = s.repoStore.ReassignProjectVersionLink(ctx, tx, link.ID, repo.ID)
			if err != nil {
				return err
			}
		}
		moved, err := s.buildStore.ReassignRepository(ctx, tx, duplicate.ID, repo.ID)
		if err != nil {
			return err
		}
		s.Infof("merge_duplicate_repo: moved %d builds from repo %d to repo %d", moved, duplicate.ID, repo.ID)
		if conflicts == 0 {
			return s.repoStore.Delete(ctx, tx, duplicate.ID)
		}
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "error merging repo %d into repo %d", duplicate.ID, repo.ID)
	}

	if conflicts == 0 {
		if err := os.RemoveAll(duplicate.BasePath(s.workingDir.String())); err != nil {
			s.Warnf("merge_duplicate_repo: error removing checkout of repo %d: %s", duplicate.ID, err)
		}
	} else {
		s.Warnf("merge_duplicate_repo: %d project version links conflict, keeping repo %d", conflicts, duplicate.ID)
		if err := s.setState(ctx, duplicate, models.RepoStateReady); err != nil {
			return false, err
		}
	}
	return false, s.setState(ctx, repo, models.RepoStateReady)
}

// Delete removes a repository that has no project version links and no
// builds left, together with its checkout. Returns requeue=true while the
// repository is not ready.
func (s *RepoService) Delete(ctx context.Context, task *models.Task) (bool, error) {
	repo, err := s.repoStore.Read(ctx, nil, task.RepoID)
	if err != nil {
		if gerror.IsNotFound(err) {
			s.Infof("delete_repo: repo %d not found", task.RepoID)
			return false, nil
		}
		return false, err
	}
	if repo.State != models.RepoStateReady {
		s.Infof("delete_repo: repo %d not ready, requeueing", repo.ID)
		return true, nil
	}

	links, err := s.repoStore.CountProjectVersionLinks(ctx, nil, repo.ID)
	if err != nil {
		return false, err
	}
	builds, err := s.buildStore.CountForRepository(ctx, nil, repo.ID)
	if err != nil {
		return false, err
	}
	if links > 0 || builds > 0 {
		s.Warnf("delete_repo: repo %d still has %d project version links and %d builds, not deleting", repo.ID, links, builds)
		return false, nil
	}

	err = s.setState(ctx, repo, models.RepoStateBusy)
	if err != nil {
		return false, err
	}
	err = s.repoStore.Delete(ctx, nil, repo.ID)
	if err != nil {
		return false, errors.Wrapf(err, "error deleting repo %d", repo.ID)
	}
	if err := os.RemoveAll(repo.BasePath(s.workingDir.String())); err != nil {
		s.Warnf("delete_repo: error removing checkout of repo %d: %s", repo.ID, err)
	}
	return false, nil
}
