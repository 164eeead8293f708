// Package handler contains the HTTP handlers of the mobile post directory.
// Handlers validate input, call the store and report every failure as an
// *apperr.Error, which the error handler renders as the JSON envelope.
package handler

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hkpo/mobilepost-directory/internal/apperr"
	"github.com/hkpo/mobilepost-directory/internal/metrics"
	"github.com/hkpo/mobilepost-directory/internal/model"
	"github.com/hkpo/mobilepost-directory/internal/queue"
	"github.com/hkpo/mobilepost-directory/internal/repository"
)

// Store is the persistence the handlers need. *repository.MobilePostRepo
// implements it.
type Store interface {
	Search(ctx context.Context, f repository.SearchFilter) ([]model.MobilePost, error)
	GetByID(ctx context.Context, id uint64) (*model.MobilePost, error)
	Create(ctx context.Context, m *model.MobilePost) (uint64, error)
	Update(ctx context.Context, id uint64, changes []repository.Change) ([]string, error)
	Delete(ctx context.Context, id uint64) error
}

// Publisher receives change events after successful writes. Publish must
// not block.
type Publisher interface {
	Publish(ev queue.MobilePostChangedEvent)
}

// MobilePostHandler serves the /mobilepost resource.
type MobilePostHandler struct {
	store  Store
	events Publisher
	log    *zap.Logger
}

// NewMobilePostHandler constructs the handler and panics if store is nil.
// A nil publisher discards events and a nil logger logs nothing.
func NewMobilePostHandler(store Store, events Publisher, log *zap.Logger) *MobilePostHandler {
	if store == nil {
		panic("nil store passed to NewMobilePostHandler")
	}
	if events == nil {
		events = discard{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MobilePostHandler{store: store, events: events, log: log}
}

type discard struct{}

func (discard) Publish(queue.MobilePostChangedEvent) {}

// storeFailure turns a store error into the taxonomy entry for its kind,
// or fallback when the kind is not recognized. The raw error is logged
// and never sent to the client.
func (h *MobilePostHandler) storeFailure(c echo.Context, op string, fallback apperr.Code, err error) error {
	kind := repository.Classify(err)
	metrics.RecordStoreError(op, kind.String())
	h.log.Error("store failure",
		zap.String("op", op),
		zap.String("kind", kind.String()),
		zap.String("request_id", requestID(c)),
		zap.Error(err))
	return apperr.Wrap(storeCode(kind, fallback), err)
}

func storeCode(kind repository.Kind, fallback apperr.Code) apperr.Code {
	switch kind {
	case repository.KindDuplicate:
		return apperr.DuplicateEntry
	case repository.KindNotNull:
		return apperr.MissingRequiredFields
	case repository.KindDataFormat:
		return apperr.InvalidDataFormat
	case repository.KindReferenced:
		return apperr.RecordReferenced
	}
	return fallback
}

func isNotFound(err error) bool { return errors.Is(err, repository.ErrNotFound) }

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
