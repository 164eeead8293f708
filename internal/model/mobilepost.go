// Package model holds the persisted domain types.
package model

// MobilePost is one stop of a mobile post office: a unit (MobileCode)
// visits a location on DayOfWeekCode as the Seq-th stop of that day.
// (MobileCode, DayOfWeekCode, Seq) is unique across all records.
type MobilePost struct {
	ID            uint64 `json:"id"`
	MobileCode    string `json:"mobileCode" validate:"required,max=32"`
	DayOfWeekCode int    `json:"dayOfWeekCode" validate:"min=1,max=7"`
	Seq           int    `json:"seq" validate:"min=0"`

	NameEN     string `json:"nameEN" validate:"max=255"`
	NameTC     string `json:"nameTC" validate:"max=255"`
	NameSC     string `json:"nameSC" validate:"max=255"`
	DistrictEN string `json:"districtEN" validate:"max=255"`
	DistrictTC string `json:"districtTC" validate:"max=255"`
	DistrictSC string `json:"districtSC" validate:"max=255"`
	LocationEN string `json:"locationEN" validate:"max=512"`
	LocationTC string `json:"locationTC" validate:"max=512"`
	LocationSC string `json:"locationSC" validate:"max=512"`
	AddressEN  string `json:"addressEN" validate:"max=512"`
	AddressTC  string `json:"addressTC" validate:"max=512"`
	AddressSC  string `json:"addressSC" validate:"max=512"`

	OpenHour  string `json:"openHour" validate:"hhmm"`
	CloseHour string `json:"closeHour" validate:"hhmm"`

	// Coordinates are nil when unknown. Records created through the API
	// always carry a value (0 when omitted).
	Latitude  *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude" validate:"omitempty,longitude"`
}

// Key returns the unique (mobileCode, dayOfWeekCode, seq) triple.
func (m *MobilePost) Key() (string, int, int) {
	return m.MobileCode, m.DayOfWeekCode, m.Seq
}
