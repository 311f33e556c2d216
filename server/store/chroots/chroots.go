package chroots

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/store"
)

type ChrootStore struct {
	table *store.Table
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *ChrootStore {
	return &ChrootStore{table: store.NewTable(db, logFactory, "chroots", "chroot_id")}
}

// Create a new chroot row.
// Returns gerror.ErrAlreadyExists if the (basemirror, architecture) pair already exists.
func (d *ChrootStore) Create(ctx context.Context, txOrNil *store.Tx, chroot *models.Chroot) error {
	return d.table.Create(ctx, txOrNil, chroot, &chroot.ID)
}

// Read an existing chroot, looking it up by id.
// Returns gerror.ErrNotFound if the chroot does not exist.
func (d *ChrootStore) Read(ctx context.Context, txOrNil *store.Tx, id int64) (*models.Chroot, error) {
	chroot := &models.Chroot{}
	return chroot, d.table.ReadOne(ctx, txOrNil, chroot, goqu.Ex{"chroot_id": id})
}

// ReadByBuild reads the chroot created by the given build.
// Returns gerror.ErrNotFound if there is none.
func (d *ChrootStore) ReadByBuild(ctx context.Context, txOrNil *store.Tx, buildID int64) (*models.Chroot, error) {
	chroot := &models.Chroot{}
	return chroot, d.table.ReadOne(ctx, txOrNil, chroot, goqu.Ex{"chroot_build_id": buildID})
}

// Find reads the chroot for a base mirror and architecture.
// Returns gerror.ErrNotFound if there is none.
func (d *ChrootStore) Find(ctx context.Context, txOrNil *store.Tx, basemirrorID int64, architecture string) (*models.Chroot, error) {
	chroot := &models.Chroot{}
	return chroot, d.table.ReadOne(ctx, txOrNil, chroot, goqu.Ex{
		"chroot_basemirror_id": basemirrorID,
		"chroot_architecture":  architecture,
	})
}

// Update an existing chroot. Overrides all previous values using the supplied model.
func (d *ChrootStore) Update(ctx context.Context, txOrNil *store.Tx, chroot *models.Chroot) error {
	return d.table.Update(ctx, txOrNil, chroot.ID, chroot)
}
