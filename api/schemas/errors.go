package schemas

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusClientClosedRequest is the nginx convention for a client that went
// away mid-request; net/http has no constant for it.
const StatusClientClosedRequest = 499

// -- Error Taxonomy --

// ErrorKind is the stable, user-visible classification of a task failure.
type ErrorKind string

const (
	// ErrBadRequest covers validation failures before a session is acquired.
	ErrBadRequest ErrorKind = "bad_request"
	// ErrLaunch means a browser process could not be started; capacity is degraded.
	ErrLaunch ErrorKind = "launch_error"
	// ErrServiceBusy means the pool and its queue are saturated.
	ErrServiceBusy ErrorKind = "service_busy"
	// ErrSessionFailed means an isolated browsing context could not be created.
	ErrSessionFailed ErrorKind = "session_error"
	// ErrBrowserCrashed means the owning browser process died mid-task.
	ErrBrowserCrashed ErrorKind = "browser_crashed"
	// ErrTimeout means the task deadline expired before the operation finished.
	ErrTimeout ErrorKind = "timeout"
	// ErrCanceled means the client abandoned the request mid-task. The session
	// stays healthy; nobody is left to read the response.
	ErrCanceled ErrorKind = "canceled"
	// ErrNavigation covers DNS/TLS/connection failures and, in strict mode,
	// non-2xx terminal statuses.
	ErrNavigation ErrorKind = "navigation_error"
	// ErrExtraction covers selector and document-processing failures.
	ErrExtraction ErrorKind = "extraction_error"
	// ErrInternal is the fallback for unclassified failures.
	ErrInternal ErrorKind = "internal"
)

// TaskError is the one error type that crosses component boundaries. Every
// failure the gateway reports is a TaskError with a stable kind.
type TaskError struct {
	Kind    ErrorKind
	Message string
	// Status carries the terminal HTTP status of the target page when the
	// failure embeds one (strict-mode navigation errors).
	Status int
	cause  error
}

// NewTaskError builds a TaskError wrapping cause (which may be nil).
func NewTaskError(kind ErrorKind, cause error, format string, args ...interface{}) *TaskError {
	return &TaskError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   cause,
	}
}

func (e *TaskError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *TaskError) Unwrap() error { return e.cause }

// WithStatus attaches the target page's terminal HTTP status.
func (e *TaskError) WithStatus(status int) *TaskError {
	e.Status = status
	return e
}

// Retryable reports whether the caller may reasonably resubmit the task.
func (e *TaskError) Retryable() bool {
	switch e.Kind {
	case ErrServiceBusy, ErrLaunch, ErrSessionFailed, ErrBrowserCrashed:
		return true
	default:
		return false
	}
}

// HTTPStatus maps the error kind to the response status code.
func (e *TaskError) HTTPStatus() int {
	switch e.Kind {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrNavigation, ErrExtraction:
		return http.StatusUnprocessableEntity
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrCanceled:
		return StatusClientClosedRequest
	case ErrServiceBusy, ErrLaunch:
		return http.StatusServiceUnavailable
	case ErrSessionFailed, ErrBrowserCrashed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindOf classifies an arbitrary error, unwrapping to the nearest TaskError.
// Errors with no TaskError in their chain are internal.
func KindOf(err error) ErrorKind {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ErrInternal
}

// AsTaskError returns the TaskError in err's chain, or wraps err as internal.
func AsTaskError(err error) *TaskError {
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	return NewTaskError(ErrInternal, err, "unexpected failure")
}

// ErrorBody is the JSON error object returned by the gateway.
type ErrorBody struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Status    int       `json:"http_status,omitempty"`
	Retryable bool      `json:"retryable"`
}

// Body converts the error to its wire representation.
func (e *TaskError) Body() ErrorBody {
	return ErrorBody{
		Kind:      e.Kind,
		Message:   e.Message,
		Status:    e.Status,
		Retryable: e.Retryable(),
	}
}
