// Package repository contains the MySQL data access for mobile post
// records. Store failures are classified here so higher layers can map them
// to client errors without inspecting driver text.
package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the addressed record does not exist.
var ErrNotFound = errors.New("mobilepost: record not found")

// ErrConflict is returned when a write cannot proceed because of existing
// state: a duplicate unique key or a row still referenced elsewhere.
// StoreError values of those kinds match it with errors.Is.
var ErrConflict = errors.New("mobilepost: conflict")

// Kind classifies a store failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindDuplicate is a unique-key violation on (mobileCode, dayOfWeekCode, seq).
	KindDuplicate
	// KindNotNull is a NULL (or missing value) for a NOT NULL column.
	KindNotNull
	// KindDataFormat is a value too long, out of range or of the wrong type.
	KindDataFormat
	// KindReferenced is a delete refused because a foreign key points at the row.
	KindReferenced
)

func (k Kind) String() string {
	switch k {
	case KindDuplicate:
		return "duplicate"
	case KindNotNull:
		return "not_null"
	case KindDataFormat:
		return "data_format"
	case KindReferenced:
		return "referenced"
	default:
		return "unknown"
	}
}

// MySQL server error numbers the repository recognizes.
const (
	erDupEntry            = 1062
	erBadNull             = 1048
	erNoDefaultForField   = 1364
	erDataTooLong         = 1406
	erWarnDataOutOfRange  = 1264
	erWarnDataTruncated   = 1265
	erTruncatedWrongValue = 1292
	erWrongValueForField  = 1366
	erRowIsReferenced     = 1217
	erRowIsReferenced2    = 1451
)

// StoreError is a failed statement together with its classification.
type StoreError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("mobilepost %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes duplicate and referenced failures match ErrConflict.
func (e *StoreError) Is(target error) bool {
	return target == ErrConflict && (e.Kind == KindDuplicate || e.Kind == KindReferenced)
}

// Classify returns the Kind of err, looking for a *mysql.MySQLError in its
// chain.
func Classify(err error) Kind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return KindUnknown
	}
	switch me.Number {
	case erDupEntry:
		return KindDuplicate
	case erBadNull, erNoDefaultForField:
		return KindNotNull
	case erDataTooLong, erWarnDataOutOfRange, erWarnDataTruncated, erTruncatedWrongValue, erWrongValueForField:
		return KindDataFormat
	case erRowIsReferenced, erRowIsReferenced2:
		return KindReferenced
	}
	return KindUnknown
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Kind: Classify(err), Err: err}
}
