// Package apperr defines the stable error taxonomy returned to API clients.
// Every failure a handler reports resolves to exactly one Code, which fixes
// both the HTTP status and the client-facing message.
package apperr

import (
	"fmt"
	"net/http"
)

// Code is a stable four-digit error code. The first two digits name the
// category: 01 validation, 02 required fields, 03 query, 04 throttling,
// 05 server.
type Code string

const (
	InvalidID         Code = "0101"
	InvalidDayOfWeek  Code = "0102"
	InvalidTimeFormat Code = "0103"
	InvalidField      Code = "0104"
	InvalidDataFormat Code = "0105"

	MissingRequiredFields Code = "0201"
	NoFieldsToUpdate      Code = "0202"

	NotFound      Code = "0301"
	NoResults     Code = "0302"
	WrongCriteria Code = "0303"

	TooManyRequests Code = "0401"

	DatabaseError     Code = "0501"
	SQLExecutionError Code = "0502"
	DuplicateEntry    Code = "0503"
	InsertFailed      Code = "0504"
	UpdateFailed      Code = "0505"
	DeleteFailed      Code = "0506"
	RecordReferenced  Code = "0507"
)

type entry struct {
	status  int
	message string
}

var catalog = map[Code]entry{
	InvalidID:         {http.StatusBadRequest, "Invalid ID"},
	InvalidDayOfWeek:  {http.StatusBadRequest, "dayOfWeekCode must be 1..7"},
	InvalidTimeFormat: {http.StatusBadRequest, "Invalid time format (use HH:MM)"},
	InvalidField:      {http.StatusBadRequest, "Invalid or disallowed field"},
	InvalidDataFormat: {http.StatusBadRequest, "Invalid data format"},

	MissingRequiredFields: {http.StatusBadRequest, "Missing required fields: mobileCode, dayOfWeekCode, seq"},
	NoFieldsToUpdate:      {http.StatusBadRequest, "No valid fields to update"},

	NotFound:      {http.StatusNotFound, "Record not found"},
	NoResults:     {http.StatusNotFound, "No records match the search criteria"},
	WrongCriteria: {http.StatusBadRequest, "Search criteria must not be empty"},

	TooManyRequests: {http.StatusTooManyRequests, "Rate limit exceeded"},

	DatabaseError:     {http.StatusInternalServerError, "Database error"},
	SQLExecutionError: {http.StatusInternalServerError, "SQL execution error"},
	DuplicateEntry:    {http.StatusConflict, "Duplicate (mobileCode, dayOfWeekCode, seq)"},
	InsertFailed:      {http.StatusInternalServerError, "Insert error"},
	UpdateFailed:      {http.StatusInternalServerError, "Update error"},
	DeleteFailed:      {http.StatusInternalServerError, "Delete error"},
	RecordReferenced:  {http.StatusConflict, "Record is referenced by other data"},
}

// Status returns the HTTP status for c. Unknown codes are server errors.
func (c Code) Status() int {
	if e, ok := catalog[c]; ok {
		return e.status
	}
	return http.StatusInternalServerError
}

// Message returns the client-facing message for c.
func (c Code) Message() string {
	if e, ok := catalog[c]; ok {
		return e.message
	}
	return catalog[DatabaseError].message
}

// Codes lists every defined code.
func Codes() []Code {
	out := make([]Code, 0, len(catalog))
	for c := range catalog {
		out = append(out, c)
	}
	return out
}

// Error is a handler failure bound to a taxonomy entry. Message defaults
// to the code's message; Detail, when set, names the offending field or
// value. Err keeps the underlying cause for server-side logs only.
type Error struct {
	Code    Code
	Message string
	Detail  string
	Err     error
}

// New returns the taxonomy error for code.
func New(code Code) *Error {
	return &Error{Code: code, Message: code.Message()}
}

// Wrap returns the taxonomy error for code carrying cause.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Message: code.Message(), Err: cause}
}

// WithDetail returns a copy of e whose client message names detail.
func (e *Error) WithDetail(detail string) *Error {
	cp := *e
	cp.Detail = detail
	return &cp
}

// Status is the HTTP status of the error's code.
func (e *Error) Status() int { return e.Code.Status() }

// ClientMessage is the message placed in the response envelope.
func (e *Error) ClientMessage() string {
	if e.Detail == "" {
		return e.Message
	}
	return e.Message + ": " + e.Detail
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Code, e.ClientMessage(), e.Err)
	}
	return fmt.Sprintf("%s %s", e.Code, e.ClientMessage())
}

func (e *Error) Unwrap() error { return e.Err }
