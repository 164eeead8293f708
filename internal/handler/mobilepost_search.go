package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hkpo/mobilepost-directory/internal/apperr"
	"github.com/hkpo/mobilepost-directory/internal/repository"
	"github.com/hkpo/mobilepost-directory/internal/validation"
)

// searchKeys are the recognized filter keys. Other query keys are ignored.
var searchKeys = []string{
	"id", "districtEN", "dayOfWeekCode", "mobileCode", "openAt",
	"addressEN", "locationEN", "addressTC", "addressSC", "addressZH",
}

// parseSearch validates the query string into a filter. Every check runs
// before the store is touched.
func parseSearch(q url.Values) (repository.SearchFilter, error) {
	var f repository.SearchFilter
	for _, key := range searchKeys {
		vals, ok := q[key]
		if !ok {
			continue
		}
		if len(vals) > 1 {
			return f, apperr.New(apperr.InvalidField).WithDetail(key + " given more than once")
		}
		v := vals[0]
		if strings.TrimSpace(v) == "" {
			return f, apperr.New(apperr.WrongCriteria).WithDetail(key)
		}

		switch key {
		case "id":
			id, ok := validation.ParseID(v)
			if !ok {
				return f, apperr.New(apperr.InvalidID)
			}
			f.ID = &id
		case "dayOfWeekCode":
			day, ok := validation.ParseDayOfWeek(v)
			if !ok {
				return f, apperr.New(apperr.InvalidDayOfWeek)
			}
			f.DayOfWeekCode = &day
		case "openAt":
			hhmm, err := validation.NormalizeTime(v)
			if err != nil {
				return f, apperr.New(apperr.InvalidTimeFormat).WithDetail("openAt")
			}
			f.OpenAt = &hhmm
		case "districtEN":
			f.DistrictEN = &v
		case "mobileCode":
			f.MobileCode = &v
		case "addressEN":
			f.AddressEN = &v
		case "locationEN":
			f.LocationEN = &v
		case "addressTC":
			f.AddressTC = &v
		case "addressSC":
			f.AddressSC = &v
		case "addressZH":
			f.AddressZH = &v
		}
	}
	return f, nil
}

// Search handles GET /mobilepost and GET /mobilepost/search. No match is
// a 404 rather than an empty list.
func (h *MobilePostHandler) Search(c echo.Context) error {
	f, err := parseSearch(c.QueryParams())
	if err != nil {
		return err
	}
	items, err := h.store.Search(c.Request().Context(), f)
	if err != nil {
		return h.storeFailure(c, "search", apperr.SQLExecutionError, err)
	}
	if len(items) == 0 {
		return apperr.New(apperr.NoResults)
	}
	return c.JSON(http.StatusOK, ListResponse{Success: true, Count: len(items), Data: items})
}
