// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"io"

	"github.com/labstack/echo/v4"
	"github.com/natural-query/webapp/internal/models"
)

// PageHandler serves the server-rendered views and their form posts
type PageHandler interface {
	HandleLanding(c echo.Context) error
	HandleQueryView(c echo.Context) error
	HandleUploadForm(c echo.Context) error
	HandleQueryForm(c echo.Context) error
	HandleExportResults(c echo.Context) error
}

// QueryAPIHandler serves the JSON surface of the query view
type QueryAPIHandler interface {
	HandleGetState(c echo.Context) error
	HandleUpload(c echo.Context) error
	HandleQuery(c echo.Context) error
	HandleResultsMsgpack(c echo.Context) error
}

// FileHandler manages staged spreadsheets
type FileHandler interface {
	HandleRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleResendFile(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// QueryClient is the part of the backend client the handlers use.
// This allows substituting the query service in tests
type QueryClient interface {
	UploadSpreadsheet(ctx context.Context, name string, r io.Reader) (*models.UploadReceipt, error)
	Query(ctx context.Context, text string) (*models.QueryResponse, error)
}
