package store

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/logger"
)

// Table provides the shared plumbing for the per entity stores: building
// dialect-aware queries, logging them and mapping driver errors. All tables
// use a single integer primary key.
type Table struct {
	logger.Log
	db        *DB
	tableName string
	idColumn  string
}

func NewTable(db *DB, logFactory logger.LogFactory, tableName, idColumn string) *Table {
	return &Table{
		Log:       logFactory(tableName + "_store"),
		db:        db,
		tableName: tableName,
		idColumn:  idColumn,
	}
}

func (t *Table) DB() *DB {
	return t.db
}

func (t *Table) TableName() string {
	return t.tableName
}

func (t *Table) Dialect() goqu.DialectWrapper {
	return goqu.Dialect(t.db.DriverName())
}

// Create inserts row and fills id with the generated primary key.
// Returns gerror.ErrAlreadyExists if a row with matching unique properties already exists.
func (t *Table) Create(ctx context.Context, txOrNil *Tx, row interface{}, id *int64) error {
	return t.db.Write(txOrNil, func(db Writer) error {
		ds := db.Insert(t.tableName).Prepared(true).Rows(row)
		// The sqlite3 dialect has no RETURNING clause; read the generated key
		// off the driver result instead.
		if t.db.Driver == Sqlite {
			query, args, err := ds.ToSQL()
			if err != nil {
				return fmt.Errorf("error generating query: %w", err)
			}
			t.LogQuery(query, args)
			res, err := db.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("error executing create query: %w", MakeStandardDBError(err))
			}
			*id, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("error reading generated id: %w", err)
			}
			return nil
		}
		query, args, err := ds.Returning(goqu.C(t.idColumn)).ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		t.LogQuery(query, args)
		found, err := db.ScanValContext(ctx, id, query, args...)
		if err != nil {
			return fmt.Errorf("error executing create query: %w", MakeStandardDBError(err))
		}
		if !found {
			return fmt.Errorf("error executing create query; no id returned")
		}
		return nil
	})
}

// ReadOne reads the first row matching where into out.
// Returns gerror.ErrNotFound if no row matches.
func (t *Table) ReadOne(ctx context.Context, txOrNil *Tx, out interface{}, where ...goqu.Expression) error {
	ds := t.Dialect().From(t.tableName).Prepared(true).Where(where...)
	return t.ReadIn(ctx, txOrNil, out, ds)
}

// ReadIn reads a single row from the supplied select dataset.
// Returns gerror.ErrNotFound if no row matches.
func (t *Table) ReadIn(ctx context.Context, txOrNil *Tx, out interface{}, ds *goqu.SelectDataset) error {
	ds = ds.Limit(1)
	return t.db.Read(txOrNil, func(db Reader) error {
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		t.LogQuery(query, args)
		found, err := db.ScanStructContext(ctx, out, query, args...)
		if err != nil {
			return MakeStandardDBError(err)
		}
		if !found {
			return gerror.NewErrNotFound("Not Found")
		}
		return nil
	})
}

// ListIn scans all rows produced by the supplied select dataset into out,
// which must be a pointer to a slice of structs.
func (t *Table) ListIn(ctx context.Context, txOrNil *Tx, out interface{}, ds *goqu.SelectDataset) error {
	return t.db.Read(txOrNil, func(db Reader) error {
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		t.LogQuery(query, args)
		err = db.ScanStructsContext(ctx, out, query, args...)
		if err != nil {
			return MakeStandardDBError(err)
		}
		return nil
	})
}

// Update writes all non skipupdate columns of row for the row identified by id.
// Returns gerror.ErrNotFound if the row does not exist.
func (t *Table) Update(ctx context.Context, txOrNil *Tx, id int64, row interface{}) error {
	return t.db.Write(txOrNil, func(db Writer) error {
		ds := db.Update(t.tableName).Prepared(true).Set(row).Where(goqu.Ex{t.idColumn: id})
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		t.LogQuery(query, args)
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("error executing update query: %w", MakeStandardDBError(err))
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading rows affected: %w", err)
		}
		if affected == 0 {
			return gerror.NewErrNotFound("Not Found")
		}
		return nil
	})
}

// UpdateColumns writes only the columns in record for all rows matching where
// and returns the number of updated rows.
func (t *Table) UpdateColumns(ctx context.Context, txOrNil *Tx, record goqu.Record, where ...goqu.Expression) (int64, error) {
	var affected int64
	err := t.db.Write(txOrNil, func(db Writer) error {
		ds := db.Update(t.tableName).Prepared(true).Set(record).Where(where...)
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		t.LogQuery(query, args)
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("error executing update query: %w", MakeStandardDBError(err))
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading rows affected: %w", err)
		}
		return nil
	})
	return affected, err
}

// Delete removes all rows matching where and returns the number of deleted rows.
func (t *Table) Delete(ctx context.Context, txOrNil *Tx, where ...goqu.Expression) (int64, error) {
	var affected int64
	err := t.db.Write(txOrNil, func(db Writer) error {
		ds := db.Delete(t.tableName).Prepared(true).Where(where...)
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		t.LogQuery(query, args)
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("error executing delete query: %w", MakeStandardDBError(err))
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading rows affected: %w", err)
		}
		return nil
	})
	return affected, err
}

// Count returns the number of rows matching where.
func (t *Table) Count(ctx context.Context, txOrNil *Tx, where ...goqu.Expression) (int64, error) {
	var count int64
	err := t.db.Read(txOrNil, func(db Reader) error {
		ds := t.Dialect().From(t.tableName).Prepared(true).Select(goqu.COUNT(goqu.Star())).Where(where...)
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		t.LogQuery(query, args)
		found, err := db.ScanValContext(ctx, &count, query, args...)
		if err != nil {
			return MakeStandardDBError(err)
		}
		if !found {
			return fmt.Errorf("error running count query; no count returned")
		}
		return nil
	})
	return count, err
}

// LockRowForUpdate takes out an exclusive row lock on the row for the specified id.
// This function must be called within a transaction, and will block other transactions from locking,
// updating or deleting the row until this transaction ends.
// Returns gerror.ErrNotFound if the row does not exist.
func (t *Table) LockRowForUpdate(ctx context.Context, tx *Tx, id int64) error {
	if tx == nil {
		return fmt.Errorf("error locking database row %d in %s: no transaction specified", id, t.tableName)
	}
	// If the database doesn't support row locking then assume writes already
	// serialize and no lock is needed.
	if !t.db.SupportsRowLevelLocking() {
		return nil
	}
	return t.db.Read(tx, func(db Reader) error {
		ds := t.Dialect().From(t.tableName).Select(goqu.C(t.idColumn)).Where(goqu.Ex{t.idColumn: id}).ForUpdate(exp.Wait).Limit(1)
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		t.LogQuery(query, args)
		var resultID int64
		found, err := db.ScanValContext(ctx, &resultID, query, args...)
		if err != nil {
			return MakeStandardDBError(err)
		}
		if !found {
			return gerror.NewErrNotFound("Not Found")
		}
		return nil
	})
}

// LogQuery logs a SQL query and args to the configured logger.
func (t *Table) LogQuery(query string, args []interface{}) {
	t.WithFields(logger.Fields{"query": query, "args": args}).Trace()
}
