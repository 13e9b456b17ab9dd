package tracker

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when the remote work item does not exist.
var ErrNotFound = errors.New("remote work item not found")

// ErrNotInitialized is returned when a tracker operation is called
// before the client was configured.
type ErrNotInitialized struct {
	Tracker string
}

func (e *ErrNotInitialized) Error() string {
	return fmt.Sprintf("%s tracker not initialized", e.Tracker)
}

// APIError is a non-2xx response from a tracker's API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsTemporary reports whether err is worth retrying: a 429 or 5xx API
// error, or a transport failure. Cancellation and ErrNotFound are not.
func IsTemporary(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, ErrNotFound)
}
