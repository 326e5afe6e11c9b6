package service

import (
	"errors"
	"fmt"

	"quadra/internal/database"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrBookingConflict     = errors.New("court is already booked for this time")
	ErrDurationInvalid     = errors.New("invalid reservation duration")
	ErrDayUnavailable      = errors.New("court is closed on this day")
	ErrTimeAlreadyPassed   = errors.New("start time has already passed")
	ErrOutsideOpeningHours = errors.New("reservation is outside opening hours")
	ErrAlreadyCancelled    = errors.New("reservation is already cancelled")
	ErrTransactionMissing  = errors.New("reservation has no payment transaction")
	ErrRefundFailed        = errors.New("refund failed")
	ErrGatewayError        = errors.New("payment gateway error")
	ErrStateChanged        = errors.New("reservation changed concurrently, retry")
	ErrPayoutNotFailed     = errors.New("payout is not in FAILED state")
)

// lookupErr maps a store miss to ErrNotFound and keeps other failures as they are.
func lookupErr(what, id string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}
