package api

import (
	"errors"
	"net/http"

	"quadra/internal/service"
)

var statusByError = []struct {
	err    error
	status int
}{
	{service.ErrNotFound, http.StatusNotFound},
	{service.ErrAccessDenied, http.StatusForbidden},
	{service.ErrBookingConflict, http.StatusConflict},
	{service.ErrAlreadyCancelled, http.StatusConflict},
	{service.ErrTransactionMissing, http.StatusConflict},
	{service.ErrStateChanged, http.StatusConflict},
	{service.ErrPayoutNotFailed, http.StatusConflict},
	{service.ErrDurationInvalid, http.StatusUnprocessableEntity},
	{service.ErrDayUnavailable, http.StatusUnprocessableEntity},
	{service.ErrTimeAlreadyPassed, http.StatusUnprocessableEntity},
	{service.ErrOutsideOpeningHours, http.StatusUnprocessableEntity},
	{service.ErrRefundFailed, http.StatusBadGateway},
	{service.ErrGatewayError, http.StatusBadGateway},
}

// statusFor maps a service error to an HTTP status; unknown errors are 500.
func statusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// messageFor hides internal error details behind a generic message.
func messageFor(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
