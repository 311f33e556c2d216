package server

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/api/rest/documents"
	"github.com/molior-deb/molior/server/api/rest/routes"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/store"
)

// RepoAPI serves source repository management.
type RepoAPI struct {
	repoStore  store.SourceRepositoryStore
	gitService services.GitService
	*APIBase
}

func NewRepoAPI(
	repoStore store.SourceRepositoryStore,
	gitService services.GitService,
	logFactory logger.LogFactory,
) *RepoAPI {
	return &RepoAPI{
		repoStore:  repoStore,
		gitService: gitService,
		APIBase:    NewAPIBase(logFactory("RepoAPI")),
	}
}

// Get returns one source repository.
func (a *RepoAPI) Get(w http.ResponseWriter, r *http.Request) {
	repoID, err := routes.IntParam(r, "repo_id")
	if err != nil {
		a.Error(w, r, err)
		return
	}
	repo, err := a.repoStore.Read(r.Context(), nil, repoID)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	a.JSON(w, r, repositoryDocument(repo))
}

// ChangeURL moves a repository to a new git URL. The checkout is repointed
// and renamed; project version links and builds stay attached.
func (a *RepoAPI) ChangeURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repoID, err := routes.IntParam(r, "repo_id")
	if err != nil {
		a.Error(w, r, err)
		return
	}
	req := &documents.ChangeRepositoryURLRequest{}
	if err := render.Bind(r, req); err != nil {
		a.Error(w, r, err)
		return
	}
	name, err := models.RepoNameFromURL(req.URL)
	if err != nil {
		a.Error(w, r, gerror.NewErrValidationFailed("The new repository url is not a git url").Wrap(err))
		return
	}
	repo, err := a.repoStore.Read(ctx, nil, repoID)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	if repo.State == models.RepoStateBusy || repo.State == models.RepoStateCloning {
		a.ErrorNotLogged(w, r, gerror.NewErrValidationFailed("The repository is in use"))
		return
	}
	if err := a.gitService.ChangeURL(ctx, repo, req.URL); err != nil {
		a.Error(w, r, err)
		return
	}
	repo.URL = req.URL
	repo.Name = name
	if err := a.repoStore.Update(ctx, nil, repo); err != nil {
		a.Error(w, r, err)
		return
	}
	a.JSON(w, r, repositoryDocument(repo))
}

func repositoryDocument(repo *models.SourceRepository) *documents.RepositoryDocument {
	return &documents.RepositoryDocument{
		ID:    repo.ID,
		URL:   repo.URL,
		Name:  repo.Name,
		State: repo.State.String(),
	}
}
