// handlers_pages.go - Server-rendered views and their form posts
package api

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/natural-query/webapp/internal/session"
	"github.com/natural-query/webapp/internal/spreadsheet"
	"github.com/natural-query/webapp/internal/web"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// PageHandlerImpl implements the PageHandler interface
type PageHandlerImpl struct {
	svc     *queryService
	showSQL bool
}

// NewPageHandler creates a new page handler
func NewPageHandler(svc *queryService, showSQL bool) PageHandler {
	return &PageHandlerImpl{svc: svc, showSQL: showSQL}
}

// HandleLanding renders the marketing page
func (h *PageHandlerImpl) HandleLanding(c echo.Context) error {
	return c.Render(http.StatusOK, web.PageLanding, web.NewLandingPage())
}

// HandleQueryView renders the upload and query panels from the visitor's state
func (h *PageHandlerImpl) HandleQueryView(c echo.Context) error {
	return h.renderQuery(c, http.StatusOK)
}

// HandleUploadForm accepts the upload form and redirects back to the view
func (h *PageHandlerImpl) HandleUploadForm(c echo.Context) error {
	ctx := c.Request().Context()
	sid := sessionID(c)

	name, data, err := readUpload(c, h.svc.maxUploadBytes)
	if err != nil {
		h.svc.rejectUpload(ctx, sid, err)
		return h.redirect(c)
	}

	if _, err := h.svc.upload(ctx, sid, name, data); errors.Is(err, session.ErrBusy) {
		return h.renderQuery(c, http.StatusConflict)
	}
	// Every other outcome is recorded in the view state.
	return h.redirect(c)
}

// HandleQueryForm accepts the question form and redirects back to the view
func (h *PageHandlerImpl) HandleQueryForm(c echo.Context) error {
	sid := sessionID(c)

	if _, err := h.svc.ask(c.Request().Context(), sid, c.FormValue("query")); errors.Is(err, session.ErrBusy) {
		return h.renderQuery(c, http.StatusConflict)
	}
	return h.redirect(c)
}

// HandleExportResults downloads the current result set as a workbook
func (h *PageHandlerImpl) HandleExportResults(c echo.Context) error {
	view := currentView(c, h.svc.sessions)
	if view.Result == nil {
		return &APIError{Status: http.StatusNotFound, Code: "NO_RESULTS", Message: "run a query before exporting"}
	}

	var buf bytes.Buffer
	if err := spreadsheet.WriteResult(&buf, view.Result, ""); err != nil {
		return NewInternalError("failed to build workbook", err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="results.xlsx"`)
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *PageHandlerImpl) renderQuery(c echo.Context, status int) error {
	view := currentView(c, h.svc.sessions)
	return c.Render(status, web.PageQuery, web.NewQueryPage(view, h.svc.maxUploadBytes>>20, h.showSQL))
}

func (h *PageHandlerImpl) redirect(c echo.Context) error {
	return c.Redirect(http.StatusSeeOther, "/query")
}
