package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth means the token is missing, expired or rejected with 401.
	// Callers must not retry it silently.
	ErrAuth = errors.New("backend: authentication required")

	// ErrExportUnavailable means the backend has no export endpoint.
	ErrExportUnavailable = errors.New("backend: export unavailable")
)

// NetworkError wraps a transport failure. Retrying is up to the user.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("backend: %s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response other than 401.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s: status %d: %s", e.Op, e.Code, e.Body)
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
