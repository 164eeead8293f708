package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hkpo/mobilepost-directory/internal/model"
)

// UpsertOutcome reports what an upsert did to the store.
type UpsertOutcome int

const (
	Unchanged UpsertOutcome = iota
	Inserted
	Updated
)

func (o UpsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Upserter writes records keyed on (mobileCode, dayOfWeekCode, seq).
type Upserter interface {
	Upsert(ctx context.Context, m *model.MobilePost) (UpsertOutcome, error)
}

// upsertSQL inserts a record, or overwrites every non-key column of the
// record with the same unique key.
var upsertSQL = func() string {
	cols := make([]string, len(insertColumns))
	for i, c := range insertColumns {
		cols[i] = c.quoted()
	}
	updates := make([]string, 0, len(MutableColumns))
	for _, c := range MutableColumns {
		updates = append(updates, c.quoted()+" = VALUES("+c.quoted()+")")
	}
	return "INSERT INTO mobilepost (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ")" +
		" ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
}()

type txUpserter struct {
	stmt *sql.Stmt
}

// Upsert relies on MySQL's affected-rows convention for ON DUPLICATE KEY
// UPDATE: 1 for an insert, 2 for an update, 0 when nothing changed.
func (u *txUpserter) Upsert(ctx context.Context, m *model.MobilePost) (UpsertOutcome, error) {
	res, err := u.stmt.ExecContext(ctx, insertArgs(m)...)
	if err != nil {
		return Unchanged, storeErr("upsert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Unchanged, storeErr("upsert", err)
	}
	switch n {
	case 1:
		return Inserted, nil
	case 2:
		return Updated, nil
	}
	return Unchanged, nil
}

// WithUpsertTx runs fn inside one transaction with a prepared upsert
// statement. The transaction commits only when fn returns nil; any error
// rolls back every write fn made.
func (r *MobilePostRepo) WithUpsertTx(ctx context.Context, fn func(ctx context.Context, up Upserter) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("import", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return storeErr("import", err)
	}
	defer stmt.Close()

	if err = fn(ctx, &txUpserter{stmt: stmt}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return storeErr("import", err)
	}
	return nil
}
