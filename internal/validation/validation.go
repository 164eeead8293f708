// Package validation parses and normalizes request values: record ids, day
// codes, HH:MM times and filter strings. It also owns the shared
// go-playground validator used for whole-record checks.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidTime is returned by NormalizeTime for values that are not a
// valid 24-hour H:MM / HH:MM (or H.MM / HH.MM) time of day.
var ErrInvalidTime = errors.New("invalid time format (use HH:MM)")

var timePattern = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// NormalizeTime converts "9:05", "09.05" or "9.05" into "09:05". The minute
// part must have exactly two digits; hours above 23 or minutes above 59 are
// rejected. NormalizeTime is idempotent on its own output.
func NormalizeTime(s string) (string, error) {
	s = strings.TrimSpace(strings.Replace(s, ".", ":", 1))
	if !timePattern.MatchString(s) {
		return "", ErrInvalidTime
	}
	hh, mm, _ := strings.Cut(s, ":")
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	if h > 23 || m > 59 {
		return "", ErrInvalidTime
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// NormalizeTimeValue is NormalizeTime for decoded JSON or query values.
// present is false when raw is nil, which callers treat as "no constraint"
// rather than an error.
func NormalizeTimeValue(raw any) (hhmm string, present bool, err error) {
	switch v := raw.(type) {
	case nil:
		return "", false, nil
	case string:
		hhmm, err = NormalizeTime(v)
	case json.Number:
		hhmm, err = NormalizeTime(v.String())
	case float64:
		hhmm, err = NormalizeTime(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		err = ErrInvalidTime
	}
	return hhmm, true, err
}

// ParseID accepts a string or number holding a positive integer.
func ParseID(raw any) (uint64, bool) {
	n, ok := ParseInt(raw)
	if !ok || n <= 0 {
		return 0, false
	}
	return uint64(n), true
}

// ParseDayOfWeek accepts a string or number holding an integer in 1..7.
func ParseDayOfWeek(raw any) (int, bool) {
	n, ok := ParseInt(raw)
	if !ok || n < 1 || n > 7 {
		return 0, false
	}
	return int(n), true
}

// ParseInt accepts integers given as decimal strings, integral JSON numbers
// or Go integer types. Fractions, blanks and everything else are rejected.
func ParseInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case float64:
		return floatToInt(v)
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

// ParseFloat accepts a JSON number or a numeric string.
func ParseFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// IsNonEmptyString reports whether raw is a string with at least one
// non-space character.
func IsNonEmptyString(raw any) bool {
	s, ok := raw.(string)
	return ok && strings.TrimSpace(s) != ""
}
