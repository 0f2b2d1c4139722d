package attendance

import "errors"

var (
	ErrInvalidStatus = errors.New("invalid attendance status")
	ErrUnknownRecord = errors.New("unknown attendance record")
	ErrSaveInFlight  = errors.New("record save in progress")
	ErrNoRoster      = errors.New("no roster loaded")

	// ErrStaleLoad means a newer load was issued while this one was in
	// flight; its result was discarded.
	ErrStaleLoad = errors.New("roster load superseded")
)
