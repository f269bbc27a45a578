// Package backend provides the HTTP client for the listforge processing
// API: authenticated requests with single-flight token refresh, multipart
// batch upload with progress, and job status retrieval.
package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for response classification.
// Use errors.Is(err, backend.ErrUnauthorized) to check.
var (
	ErrBadRequest   = errors.New("backend: bad request")
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrForbidden    = errors.New("backend: forbidden")
	ErrNotFound     = errors.New("backend: not found")
	ErrThrottled    = errors.New("backend: throttled")
	ErrServerError  = errors.New("backend: server error")

	// ErrNoRefreshToken means a refresh was needed but no refresh token is
	// stored. Fatal: the user must log in again.
	ErrNoRefreshToken = errors.New("backend: no refresh token available")

	// ErrRefreshFailed means the refresh endpoint rejected the stored
	// refresh token. Fatal: both tokens are cleared and re-auth is required.
	ErrRefreshFailed = errors.New("backend: token refresh failed")

	// ErrUploadTimeout means the upload exceeded its wall-clock budget.
	// Distinct from a transport-level network error.
	ErrUploadTimeout = errors.New("backend: upload timed out")

	// ErrInvalidResponse means a 2xx response body could not be parsed as
	// the expected shape.
	ErrInvalidResponse = errors.New("backend: invalid response body")
)

// APIError wraps a sentinel error with the HTTP status code and the
// server-supplied message body for debugging.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend: HTTP %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("backend: HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// AuthError is returned when the refresh endpoint rejects the stored
// refresh token. It wraps ErrRefreshFailed so callers can classify it, and
// carries the underlying cause for logging.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("backend: auth refresh failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return ErrRefreshFailed
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
