package hooks

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/store"
)

type PostBuildHookStore struct {
	table *store.Table
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *PostBuildHookStore {
	return &PostBuildHookStore{table: store.NewTable(db, logFactory, "post_build_hooks", "hook_id")}
}

// Create a new post build hook.
func (d *PostBuildHookStore) Create(ctx context.Context, txOrNil *store.Tx, hook *models.PostBuildHook) error {
	return d.table.Create(ctx, txOrNil, hook, &hook.ID)
}

// ListForBuild lists the hooks registered for the repository and project version
// a build belongs to.
func (d *PostBuildHookStore) ListForBuild(ctx context.Context, txOrNil *store.Tx, sourceRepositoryID, projectVersionID int64) ([]*models.PostBuildHook, error) {
	ds := d.table.Dialect().From(d.table.TableName()).Prepared(true).
		Select("post_build_hooks.*").
		InnerJoin(goqu.T("repo_project_versions"),
			goqu.On(goqu.Ex{"post_build_hooks.hook_srpv_id": goqu.I("repo_project_versions.srpv_id")})).
		Where(goqu.Ex{
			"repo_project_versions.srpv_source_repository_id": sourceRepositoryID,
			"repo_project_versions.srpv_project_version_id":   projectVersionID,
		}).
		Order(goqu.C("hook_id").Asc())
	var hooks []*models.PostBuildHook
	return hooks, d.table.ListIn(ctx, txOrNil, &hooks, ds)
}
