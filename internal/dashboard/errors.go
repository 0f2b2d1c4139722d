package dashboard

import (
	"errors"
	"net/http"

	"academy/internal/attendance"
	"academy/internal/backend"
)

// statusFor maps workflow and backend errors onto HTTP codes.
func statusFor(err error) int {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, attendance.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrUnknownRecord):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrStaleLoad), errors.Is(err, attendance.ErrSaveInFlight):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrNoRoster):
		return http.StatusPreconditionFailed
	case backend.IsNetwork(err):
		return http.StatusBadGateway
	case errors.As(err, &se):
		if se.Code >= 400 && se.Code < 500 {
			return se.Code
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// message is the text shown to the coach.
func message(err error) string {
	switch {
	case errors.Is(err, backend.ErrAuth):
		return "your session has expired, sign in again"
	case backend.IsNetwork(err):
		return "the attendance service is unreachable, check your connection and retry"
	}
	return err.Error()
}
