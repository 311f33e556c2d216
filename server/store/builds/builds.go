package builds

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/store"
)

type BuildStore struct {
	table *store.Table
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *BuildStore {
	return &BuildStore{table: store.NewTable(db, logFactory, "builds", "build_id")}
}

// Create a new build. The id of the new row is filled in on the supplied model.
func (d *BuildStore) Create(ctx context.Context, txOrNil *store.Tx, build *models.Build) error {
	return d.table.Create(ctx, txOrNil, build, &build.ID)
}

// Read an existing build, looking it up by id.
// Returns gerror.ErrNotFound if the build does not exist.
func (d *BuildStore) Read(ctx context.Context, txOrNil *store.Tx, id int64) (*models.Build, error) {
	build := &models.Build{}
	return build, d.table.ReadOne(ctx, txOrNil, build, goqu.Ex{"build_id": id})
}

// Update an existing build. Overrides all previous values using the supplied model.
func (d *BuildStore) Update(ctx context.Context, txOrNil *store.Tx, build *models.Build) error {
	return d.table.Update(ctx, txOrNil, build.ID, build)
}

// LockRowForUpdate takes out an exclusive row lock on the build row.
// Must be run in a transaction; no-op on databases without row level locking.
func (d *BuildStore) LockRowForUpdate(ctx context.Context, tx *store.Tx, id int64) error {
	return d.table.LockRowForUpdate(ctx, tx, id)
}

// ListChildren lists the direct children of the given build in id order.
func (d *BuildStore) ListChildren(ctx context.Context, txOrNil *store.Tx, parentID int64) ([]*models.Build, error) {
	ds := d.table.Dialect().From(d.table.TableName()).Prepared(true).
		Where(goqu.Ex{"build_parent_id": parentID}).
		Order(goqu.C("build_id").Asc())
	var builds []*models.Build
	return builds, d.table.ListIn(ctx, txOrNil, &builds, ds)
}

// ListInState lists all builds in the given state in id order.
func (d *BuildStore) ListInState(ctx context.Context, txOrNil *store.Tx, state models.BuildState) ([]*models.Build, error) {
	ds := d.table.Dialect().From(d.table.TableName()).Prepared(true).
		Where(goqu.Ex{"build_state": state}).
		Order(goqu.C("build_id").Asc())
	var builds []*models.Build
	return builds, d.table.ListIn(ctx, txOrNil, &builds, ds)
}

// ListPendingDebBuilds lists deb builds in state needs_build in id order.
func (d *BuildStore) ListPendingDebBuilds(ctx context.Context, txOrNil *store.Tx) ([]*models.Build, error) {
	ds := d.table.Dialect().From(d.table.TableName()).Prepared(true).
		Where(goqu.Ex{
			"build_type":  models.BuildTypeDeb,
			"build_state": models.BuildStateNeedsBuild,
		}).
		Order(goqu.C("build_id").Asc())
	var builds []*models.Build
	return builds, d.table.ListIn(ctx, txOrNil, &builds, ds)
}

// FindExistingDeb finds a deb build for the same source package version in the
// given project version whose state is not failed.
// Returns gerror.ErrNotFound if there is none.
func (d *BuildStore) FindExistingDeb(ctx context.Context, txOrNil *store.Tx, projectVersionID int64, sourceName, version string) (*models.Build, error) {
	build := &models.Build{}
	return build, d.table.ReadOne(ctx, txOrNil, build,
		goqu.Ex{
			"build_type":               models.BuildTypeDeb,
			"build_project_version_id": projectVersionID,
			"build_source_name":        sourceName,
			"build_version":            version,
		},
		goqu.C("build_state").NotIn(models.BuildStateBuildFailed, models.BuildStatePublishFailed))
}

// CountForRepository returns the number of builds referencing the given repository.
func (d *BuildStore) CountForRepository(ctx context.Context, txOrNil *store.Tx, repoID int64) (int64, error) {
	return d.table.Count(ctx, txOrNil, goqu.Ex{"build_source_repository_id": repoID})
}

// ReassignRepository points all builds of fromRepoID at toRepoID and returns
// the number of moved rows.
func (d *BuildStore) ReassignRepository(ctx context.Context, txOrNil *store.Tx, fromRepoID, toRepoID int64) (int64, error) {
	return d.table.UpdateColumns(ctx, txOrNil,
		goqu.Record{"build_source_repository_id": toRepoID},
		goqu.Ex{"build_source_repository_id": fromRepoID})
}
