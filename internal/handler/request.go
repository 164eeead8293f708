package handler

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hkpo/mobilepost-directory/internal/apperr"
	"github.com/hkpo/mobilepost-directory/internal/model"
	"github.com/hkpo/mobilepost-directory/internal/repository"
	"github.com/hkpo/mobilepost-directory/internal/validation"
)

const defaultTime = "00:00"

// bindObject decodes the request body into a field map. Path parameters
// are not merged in. An empty body or a JSON null yields an empty map; a
// body that is not a JSON object is invalid data.
func bindObject(c echo.Context) (map[string]any, error) {
	var body map[string]any
	if err := new(echo.DefaultBinder).BindBody(c, &body); err != nil {
		return nil, apperr.Wrap(apperr.InvalidDataFormat, err).WithDetail("request body must be a JSON object")
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

// pathID validates the :id path parameter.
func pathID(c echo.Context) (uint64, error) {
	id, ok := validation.ParseID(c.Param("id"))
	if !ok {
		return 0, apperr.New(apperr.InvalidID)
	}
	return id, nil
}

func present(body map[string]any, key string) (any, bool) {
	v, ok := body[key]
	return v, ok && v != nil
}

func textValue(field string, raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	}
	return "", apperr.New(apperr.InvalidDataFormat).WithDetail(field + " must be a string")
}

// textFields are the free-text columns with their record accessors.
var textFields = []struct {
	col repository.Column
	ptr func(m *model.MobilePost) *string
}{
	{repository.ColNameEN, func(m *model.MobilePost) *string { return &m.NameEN }},
	{repository.ColNameTC, func(m *model.MobilePost) *string { return &m.NameTC }},
	{repository.ColNameSC, func(m *model.MobilePost) *string { return &m.NameSC }},
	{repository.ColDistrictEN, func(m *model.MobilePost) *string { return &m.DistrictEN }},
	{repository.ColDistrictTC, func(m *model.MobilePost) *string { return &m.DistrictTC }},
	{repository.ColDistrictSC, func(m *model.MobilePost) *string { return &m.DistrictSC }},
	{repository.ColLocationEN, func(m *model.MobilePost) *string { return &m.LocationEN }},
	{repository.ColLocationTC, func(m *model.MobilePost) *string { return &m.LocationTC }},
	{repository.ColLocationSC, func(m *model.MobilePost) *string { return &m.LocationSC }},
	{repository.ColAddressEN, func(m *model.MobilePost) *string { return &m.AddressEN }},
	{repository.ColAddressTC, func(m *model.MobilePost) *string { return &m.AddressTC }},
	{repository.ColAddressSC, func(m *model.MobilePost) *string { return &m.AddressSC }},
}

// createTime normalizes a time on create. Absent, null and blank values
// default to 00:00.
func createTime(field string, raw any) (string, error) {
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		return defaultTime, nil
	}
	hhmm, ok, err := validation.NormalizeTimeValue(raw)
	if err != nil {
		return "", apperr.New(apperr.InvalidTimeFormat).WithDetail(field)
	}
	if !ok {
		return defaultTime, nil
	}
	return hhmm, nil
}

// coordinate parses a latitude or longitude and checks its range.
func coordinate(field string, raw any) (float64, error) {
	f, ok := validation.ParseFloat(raw)
	limit := 180.0
	if field == string(repository.ColLatitude) {
		limit = 90
	}
	if !ok || f < -limit || f > limit {
		return 0, apperr.New(apperr.InvalidDataFormat).WithDetail(fmt.Sprintf("%s must be a number within ±%g", field, limit))
	}
	return f, nil
}

// recordFromCreate builds a complete record from a create body. Missing
// optional fields are zero-filled: text "", coordinates 0, times 00:00.
func recordFromCreate(body map[string]any) (*model.MobilePost, error) {
	rawCode, hasCode := present(body, "mobileCode")
	rawDay, hasDay := present(body, "dayOfWeekCode")
	rawSeq, hasSeq := present(body, "seq")
	if !hasCode || !validation.IsNonEmptyString(rawCode) || !hasDay || !hasSeq {
		return nil, apperr.New(apperr.MissingRequiredFields)
	}

	m := &model.MobilePost{MobileCode: rawCode.(string)}

	day, ok := validation.ParseDayOfWeek(rawDay)
	if !ok {
		return nil, apperr.New(apperr.InvalidDayOfWeek)
	}
	m.DayOfWeekCode = day

	seq, ok := validation.ParseInt(rawSeq)
	if !ok || seq < 0 || seq > 1<<31-1 {
		return nil, apperr.New(apperr.InvalidDataFormat).WithDetail("seq must be a non-negative integer")
	}
	m.Seq = int(seq)

	for _, f := range textFields {
		s, err := textValue(string(f.col), body[string(f.col)])
		if err != nil {
			return nil, err
		}
		*f.ptr(m) = s
	}

	var err error
	if m.OpenHour, err = createTime("openHour", body["openHour"]); err != nil {
		return nil, err
	}
	if m.CloseHour, err = createTime("closeHour", body["closeHour"]); err != nil {
		return nil, err
	}

	lat, lng := 0.0, 0.0
	if raw, ok := present(body, "latitude"); ok && !isBlank(raw) {
		if lat, err = coordinate("latitude", raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := present(body, "longitude"); ok && !isBlank(raw) {
		if lng, err = coordinate("longitude", raw); err != nil {
			return nil, err
		}
	}
	m.Latitude, m.Longitude = &lat, &lng

	if err := validation.Struct(m); err != nil {
		return nil, structFailure(err)
	}
	return m, nil
}

func isBlank(raw any) bool {
	s, ok := raw.(string)
	return ok && strings.TrimSpace(s) == ""
}

// structFailure maps the first failed field to its taxonomy entry.
func structFailure(err error) error {
	se, ok := err.(*validation.StructError)
	if !ok || len(se.Fields) == 0 {
		return apperr.Wrap(apperr.InvalidDataFormat, err)
	}
	f := se.Fields[0]
	switch {
	case f.Field == "dayOfWeekCode":
		return apperr.New(apperr.InvalidDayOfWeek)
	case f.Field == "openHour" || f.Field == "closeHour":
		return apperr.New(apperr.InvalidTimeFormat).WithDetail(f.Field)
	case f.Field == "mobileCode" && f.Tag == "required":
		return apperr.New(apperr.MissingRequiredFields)
	}
	return apperr.New(apperr.InvalidDataFormat).WithDetail(f.Field)
}

// changesFromUpdate collects the allow-listed fields of an update body in
// allow-list order. Unknown and immutable keys are ignored. Null clears a
// text field to "" and a coordinate to NULL; a null time is ignored.
func changesFromUpdate(body map[string]any) ([]repository.Change, error) {
	changes := make([]repository.Change, 0, len(body))
	for _, col := range repository.MutableColumns {
		raw, ok := body[string(col)]
		if !ok {
			continue
		}
		field := string(col)
		switch repository.KindOf(col) {
		case repository.KindText:
			s, err := textValue(field, raw)
			if err != nil {
				return nil, err
			}
			if len([]rune(s)) > maxLen(col) {
				return nil, apperr.New(apperr.InvalidDataFormat).WithDetail(field + " is too long")
			}
			changes = append(changes, repository.Change{Column: col, Value: s})
		case repository.KindTime:
			hhmm, present, err := validation.NormalizeTimeValue(raw)
			if err != nil {
				return nil, apperr.New(apperr.InvalidTimeFormat).WithDetail(field)
			}
			if !present {
				continue
			}
			changes = append(changes, repository.Change{Column: col, Value: hhmm})
		case repository.KindCoordinate:
			if raw == nil {
				changes = append(changes, repository.Change{Column: col, Value: (*float64)(nil)})
				continue
			}
			f, err := coordinate(field, raw)
			if err != nil {
				return nil, err
			}
			changes = append(changes, repository.Change{Column: col, Value: &f})
		}
	}
	if len(changes) == 0 {
		return nil, apperr.New(apperr.NoFieldsToUpdate)
	}
	return changes, nil
}

// maxLen mirrors the column widths of the schema.
func maxLen(col repository.Column) int {
	switch col {
	case repository.ColNameEN, repository.ColNameTC, repository.ColNameSC,
		repository.ColDistrictEN, repository.ColDistrictTC, repository.ColDistrictSC:
		return 255
	}
	return 512
}
