package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hkpo/mobilepost-directory/internal/apperr"
	"github.com/hkpo/mobilepost-directory/internal/metrics"
	"github.com/hkpo/mobilepost-directory/internal/model"
)

// ErrorEnvelope is the body of every error response.
type ErrorEnvelope struct {
	Success bool   `json:"success"`
	Errcode string `json:"errcode"`
	Errmsg  string `json:"errmsg"`
}

// ListResponse is the body of a successful search.
type ListResponse struct {
	Success bool               `json:"success"`
	Count   int                `json:"count"`
	Data    []model.MobilePost `json:"data"`
}

// ItemResponse is the body of a successful single-record fetch.
type ItemResponse struct {
	Success bool              `json:"success"`
	Data    *model.MobilePost `json:"data"`
}

// WriteResponse is the body of a successful create or delete.
type WriteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      uint64 `json:"id"`
}

// UpdateResponse always carries the changed list, empty on a no-op.
type UpdateResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	ID      uint64   `json:"id"`
	Changed []string `json:"changed"`
}

// WriteError renders err as an error envelope. Errors that are neither
// *apperr.Error nor *echo.HTTPError become a database error.
func WriteError(c echo.Context, err error) error {
	ae := resolve(err)
	metrics.RecordAPIError(string(ae.Code))
	status := ae.Status()
	var he *echo.HTTPError
	if errors.As(err, &he) && !isAppErr(err) {
		status = he.Code
	}
	env := ErrorEnvelope{Success: false, Errcode: string(ae.Code), Errmsg: ae.ClientMessage()}
	if c.Request().Method == http.MethodHead {
		return c.NoContent(status)
	}
	return c.JSON(status, env)
}

func isAppErr(err error) bool {
	var ae *apperr.Error
	return errors.As(err, &ae)
}

// resolve maps any handler error to exactly one taxonomy entry.
func resolve(err error) *apperr.Error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		switch {
		case he.Code == http.StatusNotFound:
			return apperr.Wrap(apperr.NotFound, err)
		case he.Code == http.StatusTooManyRequests:
			return apperr.Wrap(apperr.TooManyRequests, err)
		case he.Code == http.StatusMethodNotAllowed:
			return apperr.Wrap(apperr.InvalidField, err).WithDetail("method not allowed")
		case he.Code >= 400 && he.Code < 500:
			return apperr.Wrap(apperr.InvalidDataFormat, err)
		}
	}
	return apperr.Wrap(apperr.DatabaseError, err)
}

// ErrorHandler is the Echo HTTPErrorHandler. It renders the envelope and
// logs server-side failures that did not already pass through a handler's
// store logging.
func ErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		if !isAppErr(err) {
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code >= http.StatusInternalServerError {
				log.Error("unhandled error",
					zap.String("method", c.Request().Method),
					zap.String("path", c.Path()),
					zap.String("request_id", requestID(c)),
					zap.Error(err))
			}
		}
		if werr := WriteError(c, err); werr != nil {
			log.Warn("write error response failed", zap.Error(werr))
		}
	}
}
