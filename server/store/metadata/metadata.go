package metadata

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/store"
)

type MetaDataStore struct {
	table *store.Table
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *MetaDataStore {
	return &MetaDataStore{table: store.NewTable(db, logFactory, "metadata", "metadata_id")}
}

// Get returns the value stored under name, or fallback if the row does not exist.
func (d *MetaDataStore) Get(ctx context.Context, txOrNil *store.Tx, name, fallback string) (string, error) {
	row := &models.MetaData{}
	err := d.table.ReadOne(ctx, txOrNil, row, goqu.Ex{"metadata_name": name})
	if gerror.IsNotFound(err) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

// Set stores value under name, inserting the row if needed.
func (d *MetaDataStore) Set(ctx context.Context, txOrNil *store.Tx, name, value string) error {
	return d.table.DB().WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		affected, err := d.table.UpdateColumns(ctx, tx,
			goqu.Record{"metadata_value": value},
			goqu.Ex{"metadata_name": name})
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}
		row := &models.MetaData{Name: name, Value: value}
		return d.table.Create(ctx, tx, row, &row.ID)
	})
}
