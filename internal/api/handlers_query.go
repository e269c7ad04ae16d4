// handlers_query.go - JSON surface of the query view
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/natural-query/webapp/internal/backend"
	"github.com/natural-query/webapp/internal/models"
	"github.com/natural-query/webapp/internal/spreadsheet"
	"github.com/vmihailenco/msgpack/v5"
)

// QueryAPIHandlerImpl implements the QueryAPIHandler interface
type QueryAPIHandlerImpl struct {
	svc *queryService
}

// NewQueryAPIHandler creates a new JSON query handler
func NewQueryAPIHandler(svc *queryService) QueryAPIHandler {
	return &QueryAPIHandlerImpl{svc: svc}
}

// HandleGetState returns the visitor's view state
func (h *QueryAPIHandlerImpl) HandleGetState(c echo.Context) error {
	return c.JSON(http.StatusOK, currentView(c, h.svc.sessions))
}

// HandleUpload accepts a multipart workbook and forwards it to the backend
func (h *QueryAPIHandlerImpl) HandleUpload(c echo.Context) error {
	ctx := c.Request().Context()
	sid := sessionID(c)

	name, data, err := readUpload(c, h.svc.maxUploadBytes)
	if err != nil {
		if errors.Is(err, backend.ErrNoFile) || errors.Is(err, errFileTooLarge) {
			h.svc.rejectUpload(ctx, sid, err)
		}
		if errors.Is(err, errFileTooLarge) {
			return NewPayloadTooLargeError(h.svc.maxUploadBytes >> 20)
		}
		return err
	}

	outcome, err := h.svc.upload(ctx, sid, name, data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, outcome)
}

// HandleQuery sends a natural-language question to the backend
func (h *QueryAPIHandlerImpl) HandleQuery(c echo.Context) error {
	var req models.QueryRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	resp, err := h.svc.ask(c.Request().Context(), sessionID(c), req.Query)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleResultsMsgpack returns the current result set in MessagePack format
func (h *QueryAPIHandlerImpl) HandleResultsMsgpack(c echo.Context) error {
	view := currentView(c, h.svc.sessions)
	if view.Result == nil {
		return &APIError{Status: http.StatusNotFound, Code: "NO_RESULTS", Message: "no query has been answered yet"}
	}

	rows := make([][]any, len(view.Result.Rows))
	for i, row := range view.Result.Rows {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = spreadsheet.NativeValue(v)
		}
		rows[i] = cells
	}

	data, err := msgpack.Marshal(map[string]interface{}{
		"columns": view.Result.Columns,
		"rows":    rows,
		"sql":     view.SQL,
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}
