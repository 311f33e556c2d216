package buildtasks

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/store"
)

type BuildTaskStore struct {
	table *store.Table
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *BuildTaskStore {
	return &BuildTaskStore{table: store.NewTable(db, logFactory, "build_tasks", "buildtask_id")}
}

// Create a new build task.
// Returns gerror.ErrAlreadyExists if the task token is already taken.
func (d *BuildTaskStore) Create(ctx context.Context, txOrNil *store.Tx, task *models.BuildTask) error {
	return d.table.Create(ctx, txOrNil, task, &task.ID)
}

// ReadByTaskID reads a build task by its token.
// Returns gerror.ErrNotFound if the task does not exist.
func (d *BuildTaskStore) ReadByTaskID(ctx context.Context, txOrNil *store.Tx, taskID string) (*models.BuildTask, error) {
	task := &models.BuildTask{}
	return task, d.table.ReadOne(ctx, txOrNil, task, goqu.Ex{"buildtask_task_id": taskID})
}

// ReadForBuild reads the build task of a build.
// Returns gerror.ErrNotFound if there is none.
func (d *BuildTaskStore) ReadForBuild(ctx context.Context, txOrNil *store.Tx, buildID int64) (*models.BuildTask, error) {
	task := &models.BuildTask{}
	return task, d.table.ReadOne(ctx, txOrNil, task, goqu.Ex{"buildtask_build_id": buildID})
}

// DeleteForBuild removes the build tasks of a build and returns the number of removed rows.
func (d *BuildTaskStore) DeleteForBuild(ctx context.Context, txOrNil *store.Tx, buildID int64) (int64, error) {
	return d.table.Delete(ctx, txOrNil, goqu.Ex{"buildtask_build_id": buildID})
}
