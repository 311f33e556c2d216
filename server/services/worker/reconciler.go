package worker

import (
	"context"

	"github.com/pkg/errors"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/store"
)

// Reconciler restores invariants on startup. A build observed in building or
// publishing without a process owning it was abandoned by a previous run and
// is moved to the matching failure state. Running the reconciler twice in a
// row finds nothing to do the second time.
type Reconciler struct {
	buildStore     store.BuildStore
	buildTaskStore store.BuildTaskStore
	repoStore      store.SourceRepositoryStore
	buildService   services.BuildService
	logger.Log
}

func NewReconciler(
	buildStore store.BuildStore,
	buildTaskStore store.BuildTaskStore,
	repoStore store.SourceRepositoryStore,
	buildService services.BuildService,
	logFactory logger.LogFactory) *Reconciler {

	return &Reconciler{
		buildStore:     buildStore,
		buildTaskStore: buildTaskStore,
		repoStore:      repoStore,
		buildService:   buildService,
		Log:            logFactory("Reconciler"),
	}
}

// Run fails abandoned builds and backfills missing repository names.
func (r *Reconciler) Run(ctx context.Context) error {
	err := r.failAbandonedBuilds(ctx)
	if err != nil {
		return err
	}
	return r.nameUnnamedRepos(ctx)
}

// failAbandonedBuilds fails non top-level builds stuck in building or
// publishing and releases their build task tokens. Top-level builds are
// left alone, the failure propagated from their children settles them.
func (r *Reconciler) failAbandonedBuilds(ctx context.Context) error {
	building, err := r.buildStore.ListInState(ctx, nil, models.BuildStateBuilding)
	if err != nil {
		return errors.Wrap(err, "error listing building builds")
	}
	for _, build := range building {
		if build.Type == models.BuildTypeBuild {
			continue
		}
		r.Infof("Failing abandoned %s build %d (%s %s)", build.Type, build.ID, build.SourceName, build.Version)
		if err := r.buildService.SetFailed(ctx, nil, build.ID); err != nil {
			return errors.Wrapf(err, "error setting abandoned build %d failed", build.ID)
		}
		if _, err := r.buildTaskStore.DeleteForBuild(ctx, nil, build.ID); err != nil {
			return errors.Wrapf(err, "error deleting build task of abandoned build %d", build.ID)
		}
	}

	publishing, err := r.buildStore.ListInState(ctx, nil, models.BuildStatePublishing)
	if err != nil {
		return errors.Wrap(err, "error listing publishing builds")
	}
	for _, build := range publishing {
		if build.Type == models.BuildTypeBuild {
			continue
		}
		r.Infof("Failing abandoned %s build %d (%s %s)", build.Type, build.ID, build.SourceName, build.Version)
		if err := r.buildService.SetPublishFailed(ctx, nil, build.ID); err != nil {
			return errors.Wrapf(err, "error setting abandoned build %d publish failed", build.ID)
		}
		if _, err := r.buildTaskStore.DeleteForBuild(ctx, nil, build.ID); err != nil {
			return errors.Wrapf(err, "error deleting build task of abandoned build %d", build.ID)
		}
	}
	return nil
}

// nameUnnamedRepos derives missing repository names from the clone URL.
// Rows whose URL does not parse keep their empty name and are skipped.
func (r *Reconciler) nameUnnamedRepos(ctx context.Context) error {
	repos, err := r.repoStore.ListUnnamed(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "error listing unnamed repositories")
	}
	for _, repo := range repos {
		name, err := models.RepoNameFromURL(repo.URL)
		if err != nil {
			r.Warnf("Error parsing git url %q: %s", repo.URL, err)
			continue
		}
		repo.Name = name
		if err := r.repoStore.Update(ctx, nil, repo); err != nil {
			return errors.Wrapf(err, "error naming repository %d", repo.ID)
		}
	}
	return nil
}
