package repos

import (
	"context"
	"strings"

	"github.com/doug-martin/goqu/v9"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/store"
)

const linkTableName = "repo_project_versions"

type SourceRepositoryStore struct {
	table *store.Table
	links *store.Table
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *SourceRepositoryStore {
	return &SourceRepositoryStore{
		table: store.NewTable(db, logFactory, "source_repositories", "repo_id"),
		links: store.NewTable(db, logFactory, linkTableName, "srpv_id"),
	}
}

// Create a new source repository.
// Returns gerror.ErrAlreadyExists if a repository with the same URL already exists.
func (d *SourceRepositoryStore) Create(ctx context.Context, txOrNil *store.Tx, repo *models.SourceRepository) error {
	return d.table.Create(ctx, txOrNil, repo, &repo.ID)
}

// Read an existing source repository, looking it up by id.
// Returns gerror.ErrNotFound if the repository does not exist.
func (d *SourceRepositoryStore) Read(ctx context.Context, txOrNil *store.Tx, id int64) (*models.SourceRepository, error) {
	repo := &models.SourceRepository{}
	return repo, d.table.ReadOne(ctx, txOrNil, repo, goqu.Ex{"repo_id": id})
}

// ReadByURL reads an existing source repository, looking it up by its git URL.
// Returns gerror.ErrNotFound if the repository does not exist.
func (d *SourceRepositoryStore) ReadByURL(ctx context.Context, txOrNil *store.Tx, url string) (*models.SourceRepository, error) {
	repo := &models.SourceRepository{}
	return repo, d.table.ReadOne(ctx, txOrNil, repo, goqu.Ex{"repo_url": url})
}

// FindByURLSuffix finds a repository whose URL ends in suffix, comparing
// case insensitively.
// Returns gerror.ErrNotFound if there is none.
func (d *SourceRepositoryStore) FindByURLSuffix(ctx context.Context, txOrNil *store.Tx, suffix string) (*models.SourceRepository, error) {
	repo := &models.SourceRepository{}
	return repo, d.table.ReadOne(ctx, txOrNil, repo,
		goqu.L("LOWER(repo_url)").Like("%"+strings.ToLower(suffix)))
}

// Update an existing source repository. Overrides all previous values using the supplied model.
func (d *SourceRepositoryStore) Update(ctx context.Context, txOrNil *store.Tx, repo *models.SourceRepository) error {
	return d.table.Update(ctx, txOrNil, repo.ID, repo)
}

// ListUnnamed lists repositories whose name column is still empty.
func (d *SourceRepositoryStore) ListUnnamed(ctx context.Context, txOrNil *store.Tx) ([]*models.SourceRepository, error) {
	ds := d.table.Dialect().From(d.table.TableName()).Prepared(true).
		Where(goqu.Ex{"repo_name": ""}).
		Order(goqu.C("repo_id").Asc())
	var repos []*models.SourceRepository
	return repos, d.table.ListIn(ctx, txOrNil, &repos, ds)
}

// Delete permanently deletes a source repository row.
func (d *SourceRepositoryStore) Delete(ctx context.Context, txOrNil *store.Tx, id int64) error {
	_, err := d.table.Delete(ctx, txOrNil, goqu.Ex{"repo_id": id})
	return err
}

// AttachProjectVersion associates a repository with a project version.
func (d *SourceRepositoryStore) AttachProjectVersion(ctx context.Context, txOrNil *store.Tx, link *models.RepoProjectVersion) error {
	return d.links.Create(ctx, txOrNil, link, &link.ID)
}

// ListProjectVersionLinks lists the project version associations of a repository.
func (d *SourceRepositoryStore) ListProjectVersionLinks(ctx context.Context, txOrNil *store.Tx, repoID int64) ([]*models.RepoProjectVersion, error) {
	ds := d.links.Dialect().From(linkTableName).Prepared(true).
		Where(goqu.Ex{"srpv_source_repository_id": repoID}).
		Order(goqu.C("srpv_id").Asc())
	var links []*models.RepoProjectVersion
	return links, d.links.ListIn(ctx, txOrNil, &links, ds)
}

// FindProjectVersionLink finds the association between a repository and a project version.
// Returns gerror.ErrNotFound if there is none.
func (d *SourceRepositoryStore) FindProjectVersionLink(ctx context.Context, txOrNil *store.Tx, repoID, projectVersionID int64) (*models.RepoProjectVersion, error) {
	link := &models.RepoProjectVersion{}
	return link, d.links.ReadOne(ctx, txOrNil, link, goqu.Ex{
		"srpv_source_repository_id": repoID,
		"srpv_project_version_id":   projectVersionID,
	})
}

// FindTargets finds the associations of a repository whose project and version
// names match, comparing case insensitively. An empty projectName matches any
// project.
func (d *SourceRepositoryStore) FindTargets(ctx context.Context, txOrNil *store.Tx, repoID int64, projectName, versionName string) ([]*models.RepoProjectVersion, error) {
	where := []goqu.Expression{
		goqu.Ex{"srpv_source_repository_id": repoID},
		goqu.L("LOWER(project_versions.projectversion_name)").Eq(strings.ToLower(versionName)),
	}
	if projectName != "" {
		where = append(where, goqu.L("LOWER(projects.project_name)").Eq(strings.ToLower(projectName)))
	}
	ds := d.links.Dialect().From(linkTableName).Prepared(true).
		Select("repo_project_versions.*").
		InnerJoin(goqu.T("project_versions"),
			goqu.On(goqu.Ex{"repo_project_versions.srpv_project_version_id": goqu.I("project_versions.projectversion_id")})).
		InnerJoin(goqu.T("projects"),
			goqu.On(goqu.Ex{"project_versions.projectversion_project_id": goqu.I("projects.project_id")})).
		Where(where...).
		Order(goqu.C("srpv_id").Asc())
	var links []*models.RepoProjectVersion
	return links, d.links.ListIn(ctx, txOrNil, &links, ds)
}

// ReassignProjectVersionLink points an association at a different repository.
func (d *SourceRepositoryStore) ReassignProjectVersionLink(ctx context.Context, txOrNil *store.Tx, linkID, repoID int64) error {
	_, err := d.links.UpdateColumns(ctx, txOrNil,
		goqu.Record{"srpv_source_repository_id": repoID},
		goqu.Ex{"srpv_id": linkID})
	return err
}

// DeleteProjectVersionLinks removes all associations of a repository and returns
// the number of removed rows.
func (d *SourceRepositoryStore) DeleteProjectVersionLinks(ctx context.Context, txOrNil *store.Tx, repoID int64) (int64, error) {
	return d.links.Delete(ctx, txOrNil, goqu.Ex{"srpv_source_repository_id": repoID})
}

// CountProjectVersionLinks returns the number of project version associations of a repository.
func (d *SourceRepositoryStore) CountProjectVersionLinks(ctx context.Context, txOrNil *store.Tx, repoID int64) (int64, error) {
	return d.links.Count(ctx, txOrNil, goqu.Ex{"srpv_source_repository_id": repoID})
}
