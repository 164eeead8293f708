package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hkpo/mobilepost-directory/internal/model"
)

// selectColumns lists every column in the order scanMobilePost reads them.
const selectColumns = "`id`, `mobileCode`, `dayOfWeekCode`, `seq`, " +
	"`nameEN`, `nameTC`, `nameSC`, `districtEN`, `districtTC`, `districtSC`, " +
	"`locationEN`, `locationTC`, `locationSC`, `addressEN`, `addressTC`, `addressSC`, " +
	"`openHour`, `closeHour`, `latitude`, `longitude`"

// insertColumns is selectColumns without the store-assigned id.
var insertColumns = []Column{
	ColMobileCode, ColDayOfWeekCode, ColSeq,
	ColNameEN, ColNameTC, ColNameSC, ColDistrictEN, ColDistrictTC, ColDistrictSC,
	ColLocationEN, ColLocationTC, ColLocationSC, ColAddressEN, ColAddressTC, ColAddressSC,
	ColOpenHour, ColCloseHour, ColLatitude, ColLongitude,
}

// MutableColumns is the update allow-list, in the order changes are
// applied and reported. id, mobileCode, dayOfWeekCode and seq never change
// after creation.
var MutableColumns = []Column{
	ColNameEN, ColNameTC, ColNameSC,
	ColDistrictEN, ColDistrictTC, ColDistrictSC,
	ColLocationEN, ColLocationTC, ColLocationSC,
	ColAddressEN, ColAddressTC, ColAddressSC,
	ColOpenHour, ColCloseHour,
	ColLatitude, ColLongitude,
}

// ColumnKind tells how a mutable column's value is typed.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindTime
	KindCoordinate
)

// KindOf returns the value kind of a mutable column.
func KindOf(c Column) ColumnKind {
	switch c {
	case ColOpenHour, ColCloseHour:
		return KindTime
	case ColLatitude, ColLongitude:
		return KindCoordinate
	}
	return KindText
}

func isMutable(c Column) bool {
	for _, m := range MutableColumns {
		if m == c {
			return true
		}
	}
	return false
}

// Change sets one mutable column. Text and time columns take a string;
// coordinates take a *float64 where nil clears the value.
type Change struct {
	Column Column
	Value  any
}

// ErrImmutableColumn is returned when an update names a column outside
// MutableColumns.
var ErrImmutableColumn = errors.New("mobilepost: column is not updatable")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMobilePost(s rowScanner) (*model.MobilePost, error) {
	var (
		m        model.MobilePost
		lat, lng sql.NullFloat64
	)
	err := s.Scan(
		&m.ID, &m.MobileCode, &m.DayOfWeekCode, &m.Seq,
		&m.NameEN, &m.NameTC, &m.NameSC,
		&m.DistrictEN, &m.DistrictTC, &m.DistrictSC,
		&m.LocationEN, &m.LocationTC, &m.LocationSC,
		&m.AddressEN, &m.AddressTC, &m.AddressSC,
		&m.OpenHour, &m.CloseHour, &lat, &lng,
	)
	if err != nil {
		return nil, err
	}
	if lat.Valid {
		m.Latitude = &lat.Float64
	}
	if lng.Valid {
		m.Longitude = &lng.Float64
	}
	return &m, nil
}

func insertArgs(m *model.MobilePost) []any {
	return []any{
		m.MobileCode, m.DayOfWeekCode, m.Seq,
		m.NameEN, m.NameTC, m.NameSC,
		m.DistrictEN, m.DistrictTC, m.DistrictSC,
		m.LocationEN, m.LocationTC, m.LocationSC,
		m.AddressEN, m.AddressTC, m.AddressSC,
		m.OpenHour, m.CloseHour, nullFloat(m.Latitude), nullFloat(m.Longitude),
	}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// valueOf returns the current value of a mutable column in the form a
// Change carries it.
func valueOf(m *model.MobilePost, c Column) any {
	switch c {
	case ColNameEN:
		return m.NameEN
	case ColNameTC:
		return m.NameTC
	case ColNameSC:
		return m.NameSC
	case ColDistrictEN:
		return m.DistrictEN
	case ColDistrictTC:
		return m.DistrictTC
	case ColDistrictSC:
		return m.DistrictSC
	case ColLocationEN:
		return m.LocationEN
	case ColLocationTC:
		return m.LocationTC
	case ColLocationSC:
		return m.LocationSC
	case ColAddressEN:
		return m.AddressEN
	case ColAddressTC:
		return m.AddressTC
	case ColAddressSC:
		return m.AddressSC
	case ColOpenHour:
		return m.OpenHour
	case ColCloseHour:
		return m.CloseHour
	case ColLatitude:
		return m.Latitude
	case ColLongitude:
		return m.Longitude
	}
	return nil
}

func sameValue(current, next any) bool {
	switch cur := current.(type) {
	case string:
		s, ok := next.(string)
		return ok && s == cur
	case *float64:
		f, ok := next.(*float64)
		if !ok {
			return false
		}
		if cur == nil || f == nil {
			return cur == nil && f == nil
		}
		return *cur == *f
	}
	return false
}

func bindValue(v any) any {
	if f, ok := v.(*float64); ok {
		return nullFloat(f)
	}
	return v
}

// MobilePostRepo runs every statement against the shared connection pool.
// Each call borrows one connection (or one transaction) and releases it
// before returning.
type MobilePostRepo struct {
	db *sql.DB
}

// NewMobilePostRepo constructs a MobilePostRepo over db.
func NewMobilePostRepo(db *sql.DB) *MobilePostRepo {
	return &MobilePostRepo{db: db}
}

// Ping checks that the store is reachable.
func (r *MobilePostRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// GetByID returns the record with the given id or ErrNotFound.
func (r *MobilePostRepo) GetByID(ctx context.Context, id uint64) (*model.MobilePost, error) {
	q := "SELECT " + selectColumns + " FROM mobilepost WHERE `id` = ?"
	m, err := scanMobilePost(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get", err)
	}
	return m, nil
}

// Create inserts m and returns the store-assigned id, which is also written
// to m.ID. A duplicate (mobileCode, dayOfWeekCode, seq) fails with a
// StoreError of KindDuplicate.
func (r *MobilePostRepo) Create(ctx context.Context, m *model.MobilePost) (uint64, error) {
	cols := make([]string, len(insertColumns))
	for i, c := range insertColumns {
		cols[i] = c.quoted()
	}
	q := "INSERT INTO mobilepost (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ")"

	res, err := r.db.ExecContext(ctx, q, insertArgs(m)...)
	if err != nil {
		return 0, storeErr("insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("insert", err)
	}
	m.ID = uint64(id)
	return m.ID, nil
}

// Update applies changes to the record with the given id and returns the
// names of the columns whose value actually changed. An empty result with a
// nil error means the record matched but every value was already current.
// The read and the write share one transaction, and the row is locked
// between them.
func (r *MobilePostRepo) Update(ctx context.Context, id uint64, changes []Change) (changed []string, err error) {
	for _, ch := range changes {
		if !isMutable(ch.Column) {
			return nil, fmt.Errorf("%w: %s", ErrImmutableColumn, ch.Column)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("update", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	q := "SELECT " + selectColumns + " FROM mobilepost WHERE `id` = ? FOR UPDATE"
	cur, err := scanMobilePost(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("update", err)
	}

	sets := make([]string, 0, len(changes))
	args := make([]any, 0, len(changes)+1)
	changed = make([]string, 0, len(changes))
	for _, ch := range changes {
		if sameValue(valueOf(cur, ch.Column), ch.Value) {
			continue
		}
		sets = append(sets, ch.Column.quoted()+" = ?")
		args = append(args, bindValue(ch.Value))
		changed = append(changed, string(ch.Column))
	}
	if len(sets) == 0 {
		if err = tx.Commit(); err != nil {
			return nil, storeErr("update", err)
		}
		return changed, nil
	}

	args = append(args, id)
	if _, err = tx.ExecContext(ctx, "UPDATE mobilepost SET "+strings.Join(sets, ", ")+" WHERE `id` = ?", args...); err != nil {
		return nil, storeErr("update", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, storeErr("update", err)
	}
	return changed, nil
}

// Delete permanently removes the record with the given id. It returns
// ErrNotFound when nothing was deleted, and a StoreError of KindReferenced
// when a foreign key still points at the row.
func (r *MobilePostRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM mobilepost WHERE `id` = ?", id)
	if err != nil {
		return storeErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
