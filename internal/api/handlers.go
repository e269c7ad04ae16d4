// handlers.go - Upload and query flow shared by the page and JSON handlers
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/natural-query/webapp/internal/backend"
	"github.com/natural-query/webapp/internal/logging"
	"github.com/natural-query/webapp/internal/models"
	"github.com/natural-query/webapp/internal/session"
	"github.com/natural-query/webapp/internal/spreadsheet"
	"github.com/natural-query/webapp/internal/storage"
)

const (
	sessionCookieName = "nqg_session"
	sessionContextKey = "sessionID"
)

var errFileTooLarge = errors.New("file exceeds the upload limit")

// uploadOutcome is returned by the JSON upload and resend endpoints.
type uploadOutcome struct {
	File    *models.FileInfo      `json:"file"`
	Receipt *models.UploadReceipt `json:"receipt,omitempty"`
}

// queryService runs the upload and query flows against a visitor's view state.
// Every flow records its outcome in the session so the rendered view and the
// JSON state endpoint agree.
type queryService struct {
	store          storage.Store
	sessions       *session.Manager
	client         QueryClient
	maxUploadBytes int64
	logger         *slog.Logger
}

// upload validates a workbook, stages it and forwards it to the backend.
func (s *queryService) upload(ctx context.Context, sid, name string, data []byte) (*uploadOutcome, error) {
	summary, err := spreadsheet.Inspect(name, data)
	if err != nil {
		s.reject(ctx, s.sessions.RejectUpload(sid, sentence(err)))
		return nil, err
	}

	if err := s.sessions.BeginUpload(sid, name); err != nil {
		return nil, err
	}

	info, err := s.store.Save(name, bytes.NewReader(data))
	if err != nil {
		err = fmt.Errorf("staging %s: %w", name, err)
		s.reject(ctx, s.sessions.FinishUpload(sid, nil, err))
		return nil, err
	}

	if updated, err := s.store.Update(info.ID, func(f *models.FileInfo) {
		f.Format = summary.Format
		f.Sheets = summary.Sheets
		f.RowCount = summary.RowCount
	}); err == nil {
		info = updated
	}

	return s.send(ctx, sid, info, data)
}

// resend forwards a previously staged workbook to the backend again.
func (s *queryService) resend(ctx context.Context, sid, id string) (*uploadOutcome, error) {
	info, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	rc, err := s.store.Open(id)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("reading staged file %s: %w", id, err)
	}

	if err := s.sessions.BeginUpload(sid, info.Name); err != nil {
		return nil, err
	}
	return s.send(ctx, sid, info, data)
}

// send performs the backend call for an upload that already holds the busy flag.
func (s *queryService) send(ctx context.Context, sid string, info *models.FileInfo, data []byte) (*uploadOutcome, error) {
	receipt, sendErr := s.client.UploadSpreadsheet(ctx, info.Name, bytes.NewReader(data))

	status := models.FileStatusUploaded
	if sendErr != nil {
		status = models.FileStatusError
	}
	if updated, err := s.store.Update(info.ID, func(f *models.FileInfo) { f.Status = status }); err == nil {
		info = updated
	}

	s.reject(ctx, s.sessions.FinishUpload(sid, receipt, sendErr))
	if sendErr != nil {
		return nil, sendErr
	}

	s.logger.InfoContext(ctx, "spreadsheet forwarded", "file", info.Name, "id", info.ID, "rows", info.RowCount)
	return &uploadOutcome{File: info, Receipt: receipt}, nil
}

// ask sends a question to the backend. Blank text never leaves the server.
func (s *queryService) ask(ctx context.Context, sid, text string) (*models.QueryResponse, error) {
	if strings.TrimSpace(text) == "" {
		s.reject(ctx, s.sessions.RejectQuery(sid, text, backend.UserMessage(backend.ErrEmptyQuery)))
		return nil, backend.ErrEmptyQuery
	}

	if err := s.sessions.BeginQuery(sid, text); err != nil {
		return nil, err
	}

	resp, err := s.client.Query(ctx, text)
	s.reject(ctx, s.sessions.FinishQuery(sid, resp, err))
	return resp, err
}

// rejectUpload records a form problem that was caught before any backend call.
func (s *queryService) rejectUpload(ctx context.Context, sid string, err error) {
	msg := backend.UserMessage(err)
	var apiErr *APIError
	switch {
	case errors.Is(err, errFileTooLarge):
		msg = fmt.Sprintf("The file is larger than the %d MB limit.", s.maxUploadBytes>>20)
	case errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError:
		msg = "The upload could not be read. Please choose the file again."
	case errors.As(err, &apiErr):
		s.logger.ErrorContext(ctx, "upload rejected", "error", err)
	}
	s.reject(ctx, s.sessions.RejectUpload(sid, msg))
}

// reject logs a session bookkeeping failure; the session may have been evicted
// while the request was in flight.
func (s *queryService) reject(ctx context.Context, err error) {
	if err != nil {
		s.logger.WarnContext(ctx, "session update failed", "error", err)
	}
}

// readUpload pulls the "file" form field into memory, enforcing the size limit.
func readUpload(c echo.Context, maxBytes int64) (string, []byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", nil, backend.ErrNoFile
		}
		return "", nil, NewBadRequestError("invalid multipart form", err)
	}
	if fh.Filename == "" {
		return "", nil, backend.ErrNoFile
	}
	if maxBytes > 0 && fh.Size > maxBytes {
		return "", nil, errFileTooLarge
	}

	data, err := readFormFile(fh)
	if err != nil {
		return "", nil, NewInternalError("failed to read uploaded file", err)
	}
	return fh.Filename, data, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

// SessionMiddleware binds every request to a view state through a cookie,
// creating a fresh one for new or expired visitors.
func SessionMiddleware(mgr *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var id string
			if cookie, err := c.Cookie(sessionCookieName); err == nil && mgr.Touch(cookie.Value) {
				id = cookie.Value
			} else {
				id = mgr.Create().ID
				c.SetCookie(&http.Cookie{
					Name:     sessionCookieName,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			c.Set(sessionContextKey, id)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithSessionID(req.Context(), id)))
			return next(c)
		}
	}
}

func sessionID(c echo.Context) string {
	id, _ := c.Get(sessionContextKey).(string)
	return id
}

// currentView returns the visitor's view state, or an empty one if the session
// disappeared mid-request.
func currentView(c echo.Context, mgr *session.Manager) models.ViewState {
	id := sessionID(c)
	if view, ok := mgr.Get(id); ok {
		return view
	}
	return *models.NewViewState(id)
}

// sentence capitalises an error message for display.
func sentence(err error) string {
	msg := err.Error()
	if msg == "" {
		return msg
	}
	r := []rune(msg)
	r[0] = unicode.ToUpper(r[0])
	msg = string(r)
	if !strings.HasSuffix(msg, ".") {
		msg += "."
	}
	return msg
}
