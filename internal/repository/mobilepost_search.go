package repository

import (
	"context"
	"strings"

	"github.com/hkpo/mobilepost-directory/internal/model"
)

// SearchLimit caps every search result. There is no pagination cursor.
const SearchLimit = 500

const searchOrder = "ORDER BY `dayOfWeekCode`, `mobileCode`, `seq`"

// SearchFilter holds the optional search criteria. A nil field places no
// constraint. Values are expected to be validated already: OpenAt in HH:MM
// form, strings non-blank, DayOfWeekCode within 1..7.
type SearchFilter struct {
	ID            *uint64
	DistrictEN    *string
	DayOfWeekCode *int
	MobileCode    *string
	// OpenAt keeps records open at that time: openHour <= OpenAt < closeHour.
	OpenAt     *string
	AddressEN  *string
	LocationEN *string
	AddressTC  *string
	AddressSC  *string
	// AddressZH matches either Chinese address column.
	AddressZH *string
}

// Where translates the filter into predicates. Equality filters come
// first, then the opening window, then the substring filters.
func (f SearchFilter) Where() *Where {
	w := &Where{}
	if f.ID != nil {
		w.And(Eq(ColID, *f.ID))
	}
	if f.DistrictEN != nil {
		w.And(Eq(ColDistrictEN, *f.DistrictEN))
	}
	if f.DayOfWeekCode != nil {
		w.And(Eq(ColDayOfWeekCode, *f.DayOfWeekCode))
	}
	if f.MobileCode != nil {
		w.And(Eq(ColMobileCode, *f.MobileCode))
	}
	if f.OpenAt != nil {
		w.And(LTE(ColOpenHour, *f.OpenAt))
		w.And(GT(ColCloseHour, *f.OpenAt))
	}
	if f.AddressEN != nil {
		w.And(Contains(ColAddressEN, *f.AddressEN))
	}
	if f.LocationEN != nil {
		w.And(Contains(ColLocationEN, *f.LocationEN))
	}
	if f.AddressTC != nil {
		w.And(Contains(ColAddressTC, *f.AddressTC))
	}
	if f.AddressSC != nil {
		w.And(Contains(ColAddressSC, *f.AddressSC))
	}
	if f.AddressZH != nil {
		w.AnyOf(Contains(ColAddressTC, *f.AddressZH), Contains(ColAddressSC, *f.AddressZH))
	}
	return w
}

// BuildSearch renders the full search statement for f.
func BuildSearch(f SearchFilter) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectColumns)
	b.WriteString(" FROM mobilepost")
	cond, args := f.Where().SQL()
	if cond != "" {
		b.WriteString(" WHERE ")
		b.WriteString(cond)
	}
	b.WriteString(" ")
	b.WriteString(searchOrder)
	b.WriteString(" LIMIT ?")
	return b.String(), append(args, SearchLimit)
}

// Search returns up to SearchLimit records matching f, ordered by day,
// unit and stop sequence. An empty slice means nothing matched.
func (r *MobilePostRepo) Search(ctx context.Context, f SearchFilter) ([]model.MobilePost, error) {
	q, args := BuildSearch(f)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("search", err)
	}
	defer rows.Close()

	out := make([]model.MobilePost, 0)
	for rows.Next() {
		m, err := scanMobilePost(rows)
		if err != nil {
			return nil, storeErr("search", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("search", err)
	}
	return out, nil
}
