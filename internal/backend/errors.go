package backend

import (
	"errors"
	"fmt"
)

// Local validation failures. Neither one reaches the network.
var (
	ErrNoFile     = errors.New("no file selected")
	ErrEmptyQuery = errors.New("query text is empty")
)

// Kind classifies a failed backend call.
type Kind string

const (
	// KindNetwork means no HTTP response arrived (dial failure, timeout, cancel).
	KindNetwork Kind = "network"
	// KindStatus means the backend answered with a non-2xx status.
	KindStatus Kind = "status"
	// KindDecode means a 2xx response carried a body that could not be understood.
	KindDecode Kind = "decode"
)

// Error is returned by every Client operation that reached for the backend and failed.
type Error struct {
	Op         string // "upload" or "query"
	Kind       Kind
	StatusCode int    // set for KindStatus
	Message    string // backend-supplied {"error": ...} text, if any
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Message != "" {
			return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.StatusCode, e.Message)
		}
		return fmt.Sprintf("%s: backend returned %d", e.Op, e.StatusCode)
	case KindDecode:
		return fmt.Sprintf("%s: malformed backend response: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: backend unreachable: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage is a sentence suitable for showing to the person at the browser.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindStatus:
		if e.Message != "" {
			return fmt.Sprintf("The query service rejected the request (%d): %s", e.StatusCode, e.Message)
		}
		return fmt.Sprintf("The query service rejected the request (status %d).", e.StatusCode)
	case KindDecode:
		return "The query service sent a response that could not be read."
	default:
		return "Could not reach the query service. Check that it is running and try again."
	}
}

// UserMessage maps any error from this package to a user-facing sentence.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.UserMessage()
	}
	switch {
	case errors.Is(err, ErrNoFile):
		return "Please choose a file to upload."
	case errors.Is(err, ErrEmptyQuery):
		return "Please type a question first."
	}
	return "Something went wrong. Please try again."
}

// IsKind reports whether err is a backend *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}
