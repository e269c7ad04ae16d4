// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/natural-query/webapp/internal/backend"
	"github.com/natural-query/webapp/internal/session"
	"github.com/natural-query/webapp/internal/spreadsheet"
	"github.com/natural-query/webapp/internal/storage"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string, message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Details: fmt.Sprintf("field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewPayloadTooLargeError creates a 413 error
func NewPayloadTooLargeError(limitMB int64) *APIError {
	return &APIError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    "PAYLOAD_TOO_LARGE",
		Message: fmt.Sprintf("file exceeds the %d MB limit", limitMB),
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewBackendError maps a failed call to the query service onto a 502 whose
// code tells the three failure kinds apart.
func NewBackendError(err *backend.Error) *APIError {
	apiErr := &APIError{
		Status:  http.StatusBadGateway,
		Message: err.UserMessage(),
		Details: err.Error(),
	}
	switch err.Kind {
	case backend.KindStatus:
		apiErr.Code = "BACKEND_ERROR"
	case backend.KindDecode:
		apiErr.Code = "BAD_BACKEND_RESPONSE"
	default:
		apiErr.Code = "BACKEND_UNREACHABLE"
	}
	return apiErr
}

// toAPIError converts domain errors from the layers below into API errors.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var be *backend.Error
	if errors.As(err, &be) {
		return NewBackendError(be)
	}

	switch {
	case errors.Is(err, backend.ErrNoFile):
		return NewValidationError("file", backend.UserMessage(err))
	case errors.Is(err, backend.ErrEmptyQuery):
		return NewValidationError("query", backend.UserMessage(err))
	case errors.Is(err, spreadsheet.ErrUnsupportedType),
		errors.Is(err, spreadsheet.ErrEmptyFile),
		errors.Is(err, spreadsheet.ErrCorrupt),
		errors.Is(err, spreadsheet.ErrNoRows):
		return NewValidationError("file", err.Error())
	case errors.Is(err, session.ErrBusy):
		return NewConflictError(err.Error())
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	}

	return NewInternalError("an unexpected error occurred", err)
}

// ErrorHandler returns an Echo HTTP error handler that writes APIError JSON bodies.
// Usage: e.HTTPErrorHandler = api.ErrorHandler(logger)
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var apiErr *APIError
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			apiErr = &APIError{
				Status:  httpErr.Code,
				Code:    "HTTP_ERROR",
				Message: fmt.Sprintf("%v", httpErr.Message),
			}
		} else {
			apiErr = toAPIError(err)
		}

		if apiErr.Status >= http.StatusInternalServerError {
			logger.ErrorContext(c.Request().Context(), "request failed",
				"path", c.Request().URL.Path, "code", apiErr.Code, "error", err)
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(apiErr.Status)
			return
		}
		c.JSON(apiErr.Status, apiErr)
	}
}
