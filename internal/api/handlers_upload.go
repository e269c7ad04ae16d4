// handlers_upload.go - Staged workbook handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	svc *queryService
}

// NewFileHandler creates a new staged file handler
func NewFileHandler(svc *queryService) FileHandler {
	return &FileHandlerImpl{svc: svc}
}

// HandleRecentFiles returns recently staged files, newest first
func (h *FileHandlerImpl) HandleRecentFiles(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return NewValidationError("limit", "limit must be a positive integer")
		}
		limit = n
	}

	files, err := h.svc.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns a staged file's metadata
func (h *FileHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	info, err := h.svc.store.Get(id)
	if err != nil {
		return NewNotFoundError("file", id)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile removes a staged file
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if err := h.svc.store.Delete(id); err != nil {
		return NewNotFoundError("file", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleResendFile forwards a staged file to the backend again
func (h *FileHandlerImpl) HandleResendFile(c echo.Context) error {
	outcome, err := h.svc.resend(c.Request().Context(), sessionID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, outcome)
}
