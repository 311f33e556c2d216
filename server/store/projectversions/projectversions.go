package projectversions

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/store"
)

type ProjectVersionStore struct {
	projects *store.Table
	versions *store.Table
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *ProjectVersionStore {
	return &ProjectVersionStore{
		projects: store.NewTable(db, logFactory, "projects", "project_id"),
		versions: store.NewTable(db, logFactory, "project_versions", "projectversion_id"),
	}
}

// CreateProject creates a new project.
// Returns gerror.ErrAlreadyExists if a project with the same name already exists.
func (d *ProjectVersionStore) CreateProject(ctx context.Context, txOrNil *store.Tx, project *models.Project) error {
	return d.projects.Create(ctx, txOrNil, project, &project.ID)
}

// ReadProject reads an existing project, looking it up by id.
// Returns gerror.ErrNotFound if the project does not exist.
func (d *ProjectVersionStore) ReadProject(ctx context.Context, txOrNil *store.Tx, id int64) (*models.Project, error) {
	project := &models.Project{}
	return project, d.projects.ReadOne(ctx, txOrNil, project, goqu.Ex{"project_id": id})
}

// Create a new project version.
// Returns gerror.ErrAlreadyExists if the project already has a version with the same name.
func (d *ProjectVersionStore) Create(ctx context.Context, txOrNil *store.Tx, version *models.ProjectVersion) error {
	return d.versions.Create(ctx, txOrNil, version, &version.ID)
}

// Read an existing project version, looking it up by id.
// Returns gerror.ErrNotFound if the version does not exist.
func (d *ProjectVersionStore) Read(ctx context.Context, txOrNil *store.Tx, id int64) (*models.ProjectVersion, error) {
	version := &models.ProjectVersion{}
	return version, d.versions.ReadOne(ctx, txOrNil, version, goqu.Ex{"projectversion_id": id})
}

// Update an existing project version. Overrides all previous values using the supplied model.
func (d *ProjectVersionStore) Update(ctx context.Context, txOrNil *store.Tx, version *models.ProjectVersion) error {
	return d.versions.Update(ctx, txOrNil, version.ID, version)
}
