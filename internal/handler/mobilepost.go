package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hkpo/mobilepost-directory/internal/apperr"
	"github.com/hkpo/mobilepost-directory/internal/queue"
)

// Get handles GET /mobilepost/:id.
func (h *MobilePostHandler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	m, err := h.store.GetByID(c.Request().Context(), id)
	if err != nil {
		if isNotFound(err) {
			return apperr.New(apperr.NotFound)
		}
		return h.storeFailure(c, "get", apperr.DatabaseError, err)
	}
	return c.JSON(http.StatusOK, ItemResponse{Success: true, Data: m})
}

// Create handles POST /mobilepost.
func (h *MobilePostHandler) Create(c echo.Context) error {
	body, err := bindObject(c)
	if err != nil {
		return err
	}
	m, err := recordFromCreate(body)
	if err != nil {
		return err
	}
	id, err := h.store.Create(c.Request().Context(), m)
	if err != nil {
		return h.storeFailure(c, "insert", apperr.InsertFailed, err)
	}
	m.ID = id
	h.events.Publish(queue.NewChangedEvent(queue.ActionCreate).ForRecord(m))
	return c.JSON(http.StatusCreated, WriteResponse{Success: true, Message: "Record inserted", ID: id})
}

// Update handles PUT /mobilepost/:id. Only allow-listed fields are
// applied; the response lists the fields whose value changed.
func (h *MobilePostHandler) Update(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	body, err := bindObject(c)
	if err != nil {
		return err
	}
	changes, err := changesFromUpdate(body)
	if err != nil {
		return err
	}

	changed, err := h.store.Update(c.Request().Context(), id, changes)
	if err != nil {
		if isNotFound(err) {
			return apperr.New(apperr.NotFound)
		}
		return h.storeFailure(c, "update", apperr.UpdateFailed, err)
	}
	if len(changed) == 0 {
		return c.JSON(http.StatusOK, UpdateResponse{Success: true, Message: "No changes", ID: id, Changed: []string{}})
	}

	ev := queue.NewChangedEvent(queue.ActionUpdate)
	ev.ID, ev.Changed = id, changed
	h.events.Publish(ev)
	return c.JSON(http.StatusOK, UpdateResponse{Success: true, Message: "Record updated", ID: id, Changed: changed})
}

// Delete handles DELETE /mobilepost/:id.
func (h *MobilePostHandler) Delete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.store.Delete(c.Request().Context(), id); err != nil {
		if isNotFound(err) {
			return apperr.New(apperr.NotFound)
		}
		return h.storeFailure(c, "delete", apperr.DeleteFailed, err)
	}
	ev := queue.NewChangedEvent(queue.ActionDelete)
	ev.ID = id
	h.events.Publish(ev)
	return c.JSON(http.StatusOK, WriteResponse{Success: true, Message: "Record deleted", ID: id})
}
