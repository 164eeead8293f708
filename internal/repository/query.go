package repository

import (
	"strings"
)

// Column is a mobilepost column name. Only the constants below are ever
// rendered into SQL, so identifiers never come from request input.
type Column string

const (
	ColID            Column = "id"
	ColMobileCode    Column = "mobileCode"
	ColDayOfWeekCode Column = "dayOfWeekCode"
	ColSeq           Column = "seq"
	ColNameEN        Column = "nameEN"
	ColNameTC        Column = "nameTC"
	ColNameSC        Column = "nameSC"
	ColDistrictEN    Column = "districtEN"
	ColDistrictTC    Column = "districtTC"
	ColDistrictSC    Column = "districtSC"
	ColLocationEN    Column = "locationEN"
	ColLocationTC    Column = "locationTC"
	ColLocationSC    Column = "locationSC"
	ColAddressEN     Column = "addressEN"
	ColAddressTC     Column = "addressTC"
	ColAddressSC     Column = "addressSC"
	ColOpenHour      Column = "openHour"
	ColCloseHour     Column = "closeHour"
	ColLatitude      Column = "latitude"
	ColLongitude     Column = "longitude"
)

func (c Column) quoted() string { return "`" + string(c) + "`" }

// Op is a comparison operator usable in a Cond.
type Op string

const (
	OpEq       Op = "="
	OpLTE      Op = "<="
	OpGT       Op = ">"
	OpContains Op = "LIKE"
)

// Cond is one (column, operator, value) predicate.
type Cond struct {
	Column Column
	Op     Op
	Value  any
}

// Eq, LTE, GT and Contains build the predicates the search uses.
func Eq(c Column, v any) Cond { return Cond{Column: c, Op: OpEq, Value: v} }
func LTE(c Column, v any) Cond { return Cond{Column: c, Op: OpLTE, Value: v} }
func GT(c Column, v any) Cond { return Cond{Column: c, Op: OpGT, Value: v} }

// Contains matches c against s as a substring, with wildcards on both sides.
func Contains(c Column, s string) Cond { return Cond{Column: c, Op: OpContains, Value: s} }

func (c Cond) render() (string, any) {
	if c.Op == OpContains {
		s, _ := c.Value.(string)
		return c.Column.quoted() + " LIKE ?", "%" + escapeLike(s) + "%"
	}
	return c.Column.quoted() + " " + string(c.Op) + " ?", c.Value
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user text match literally inside a LIKE pattern.
func escapeLike(s string) string { return likeEscaper.Replace(s) }

// Where is a conjunction of groups; each group is a disjunction of Conds.
// A single-Cond group is a plain AND term.
type Where struct {
	groups [][]Cond
}

// And adds c as its own AND term.
func (w *Where) And(c Cond) *Where {
	w.groups = append(w.groups, []Cond{c})
	return w
}

// AnyOf adds one AND term that holds when any of cs holds.
func (w *Where) AnyOf(cs ...Cond) *Where {
	if len(cs) > 0 {
		w.groups = append(w.groups, cs)
	}
	return w
}

// Len is the number of AND terms.
func (w *Where) Len() int { return len(w.groups) }

// SQL renders the clause without the WHERE keyword, with its bind
// arguments in placeholder order. It returns "" for an empty clause.
func (w *Where) SQL() (string, []any) {
	if w == nil || len(w.groups) == 0 {
		return "", nil
	}
	terms := make([]string, 0, len(w.groups))
	var args []any
	for _, g := range w.groups {
		parts := make([]string, 0, len(g))
		for _, c := range g {
			s, arg := c.render()
			parts = append(parts, s)
			args = append(args, arg)
		}
		if len(parts) == 1 {
			terms = append(terms, parts[0])
			continue
		}
		terms = append(terms, "("+strings.Join(parts, " OR ")+")")
	}
	return strings.Join(terms, " AND "), args
}
