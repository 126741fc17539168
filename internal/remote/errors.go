package remote

import (
	"errors"
	"fmt"
)

// Error is returned for every failed remote call. Status is zero when no
// response was received (dial failure, timeout, cancelled context).
type Error struct {
	Status     int
	StatusText string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("remote unavailable: %s", e.Message)
	}
	return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.StatusText, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsStatus returns true if err (or any wrapped error) is an Error with the given status code.
func IsStatus(err error, code int) bool {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Status == code
	}
	return false
}

// IsUnavailable reports whether err is a transport failure or a 5xx response.
func IsUnavailable(err error) bool {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Status == 0 || remoteErr.Status >= 500
	}
	return false
}
