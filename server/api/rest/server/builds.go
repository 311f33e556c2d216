package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/api/rest/documents"
	"github.com/molior-deb/molior/server/api/rest/routes"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/queues"
	"github.com/molior-deb/molior/server/store"
)

// BuildAPI serves builds and the git push trigger.
type BuildAPI struct {
	buildService   services.BuildService
	repoStore      store.SourceRepositoryStore
	buildTaskStore store.BuildTaskStore
	metaDataStore  store.MetaDataStore
	queues         *queues.Queues
	*APIBase
}

func NewBuildAPI(
	buildService services.BuildService,
	repoStore store.SourceRepositoryStore,
	buildTaskStore store.BuildTaskStore,
	metaDataStore store.MetaDataStore,
	queues *queues.Queues,
	logFactory logger.LogFactory,
) *BuildAPI {
	return &BuildAPI{
		buildService:   buildService,
		repoStore:      repoStore,
		buildTaskStore: buildTaskStore,
		metaDataStore:  metaDataStore,
		queues:         queues,
		APIBase:        NewAPIBase(logFactory("BuildAPI")),
	}
}

// Get returns one build.
func (a *BuildAPI) Get(w http.ResponseWriter, r *http.Request) {
	buildID, err := routes.IntParam(r, "build_id")
	if err != nil {
		a.Error(w, r, err)
		return
	}
	build, err := a.buildService.Read(r.Context(), nil, buildID)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	data, err := a.buildService.Data(r.Context(), nil, build)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	a.JSON(w, r, data)
}

// Trigger creates a top-level build for a git push notification. The payload
// is the Bitbucket webhook format. During maintenance nothing is accepted.
func (a *BuildAPI) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mode, err := a.metaDataStore.Get(ctx, nil, maintenanceModeKey, "false")
	if err != nil {
		a.Error(w, r, err)
		return
	}
	if mode == "true" {
		a.ErrorNotLogged(w, r, gerror.NewErrMaintenanceMode())
		return
	}
	req := &documents.TriggerRequest{}
	if err := render.Bind(r, req); err != nil {
		a.Error(w, r, err)
		return
	}
	project, name, err := req.ProjectAndRepo()
	if err != nil {
		a.Error(w, r, err)
		return
	}
	repo, err := a.repoStore.FindByURLSuffix(ctx, nil, fmt.Sprintf("/%s/%s.git", project, name))
	if err != nil {
		if gerror.IsNotFound(err) {
			a.Warnf("Trigger: repository not found: %s", req.RepositoryURL())
			a.ErrorNotLogged(w, r, gerror.NewErrNotFound("Repository not found"))
			return
		}
		a.Error(w, r, err)
		return
	}
	build := &models.Build{
		State:              models.BuildStateNew,
		Type:               models.BuildTypeBuild,
		SourceName:         repo.Name,
		SourceRepositoryID: &repo.ID,
		GitRef:             req.GitRef(),
		CIBranch:           req.Branch(),
	}
	if err := a.buildService.Create(ctx, nil, build); err != nil {
		a.Error(w, r, err)
		return
	}
	buildTask := &models.BuildTask{BuildID: build.ID, TaskID: uuid.New().String()}
	if err := a.buildTaskStore.Create(ctx, nil, buildTask); err != nil {
		a.Error(w, r, err)
		return
	}
	a.queues.Tasks.Enqueue(&models.Task{
		Tag:      models.TaskBuild,
		BuildID:  build.ID,
		RepoID:   repo.ID,
		GitRef:   req.GitRef(),
		CIBranch: req.Branch(),
	})
	a.Created(w, r, &documents.TriggerDocument{BuildID: build.ID})
}

// Rebuild requests a failed build to be built again.
func (a *BuildAPI) Rebuild(w http.ResponseWriter, r *http.Request) {
	buildID, err := routes.IntParam(r, "build_id")
	if err != nil {
		a.Error(w, r, err)
		return
	}
	build, err := a.buildService.Read(r.Context(), nil, buildID)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	ok, err := a.buildService.CanRebuild(r.Context(), nil, build)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	if !ok {
		a.ErrorNotLogged(w, r, gerror.NewErrValidationFailed("This build cannot be rebuilt"))
		return
	}
	a.queues.Tasks.Enqueue(&models.Task{Tag: models.TaskRebuild, BuildID: build.ID})
	a.Created(w, r, &documents.TriggerDocument{BuildID: build.ID})
}
