// Package importer loads the published mobile post office JSON feed into
// the store in one all-or-nothing transaction.
package importer

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/hkpo/mobilepost-directory/internal/model"
	"github.com/hkpo/mobilepost-directory/internal/validation"
)

// ErrNoRecords is returned when a document holds no records.
var ErrNoRecords = errors.New("No records to import")

var utf8BOM = []byte("\xef\xbb\xbf")

// Document is a parsed feed. Records keep their raw decoded form so each
// can be checked on its own.
type Document struct {
	Records        []map[string]any
	LastUpdateDate any
}

// Parse accepts either a bare array of records or an object with a "data"
// array and an optional "lastUpdateDate". A leading UTF-8 BOM is ignored.
func Parse(data []byte) (*Document, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var top any
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	doc := &Document{}
	var rows []any
	switch v := top.(type) {
	case []any:
		rows = v
	case map[string]any:
		rows, _ = v["data"].([]any)
		doc.LastUpdateDate = v["lastUpdateDate"]
	}
	for _, r := range rows {
		// non-object entries are kept as empty records and skipped later
		obj, _ := r.(map[string]any)
		doc.Records = append(doc.Records, obj)
	}
	if len(doc.Records) == 0 {
		return nil, ErrNoRecords
	}
	return doc, nil
}

// Normalize turns one raw feed record into a record ready for upsert.
// It reports false when the record has to be skipped: the unique key is
// missing or malformed, a coordinate is not a number, or the result fails
// validation. Invalid or missing times become 00:00 and missing
// coordinates stay unknown.
func Normalize(raw map[string]any) (*model.MobilePost, bool) {
	if raw == nil {
		return nil, false
	}
	code, ok := raw["mobileCode"]
	if !ok || !validation.IsNonEmptyString(code) {
		return nil, false
	}
	day, ok := validation.ParseDayOfWeek(raw["dayOfWeekCode"])
	if !ok {
		return nil, false
	}
	seq, ok := validation.ParseInt(raw["seq"])
	if !ok || seq < 0 || seq > 1<<31-1 {
		return nil, false
	}

	m := &model.MobilePost{
		MobileCode:    code.(string),
		DayOfWeekCode: day,
		Seq:           int(seq),
		NameEN:        text(raw["nameEN"]),
		NameTC:        text(raw["nameTC"]),
		NameSC:        text(raw["nameSC"]),
		DistrictEN:    text(raw["districtEN"]),
		DistrictTC:    text(raw["districtTC"]),
		DistrictSC:    text(raw["districtSC"]),
		LocationEN:    text(raw["locationEN"]),
		LocationTC:    text(raw["locationTC"]),
		LocationSC:    text(raw["locationSC"]),
		AddressEN:     text(raw["addressEN"]),
		AddressTC:     text(raw["addressTC"]),
		AddressSC:     text(raw["addressSC"]),
		OpenHour:      timeOrDefault(raw["openHour"]),
		CloseHour:     timeOrDefault(raw["closeHour"]),
	}

	if m.Latitude, ok = optionalFloat(raw["latitude"]); !ok {
		return nil, false
	}
	if m.Longitude, ok = optionalFloat(raw["longitude"]); !ok {
		return nil, false
	}

	if err := validation.Struct(m); err != nil {
		return nil, false
	}
	return m, true
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

func timeOrDefault(v any) string {
	hhmm, present, err := validation.NormalizeTimeValue(v)
	if !present || err != nil {
		return "00:00"
	}
	return hhmm
}

// optionalFloat returns nil for an absent or blank value.
func optionalFloat(v any) (*float64, bool) {
	if v == nil {
		return nil, true
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, true
	}
	f, ok := validation.ParseFloat(v)
	if !ok {
		return nil, false
	}
	return &f, true
}
