package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// Transition functions never modify their argument. Each returns a new
// snapshot so every state change can be logged and compared as a value.

// NewReservation builds the initial PENDING_PAYMENT snapshot.
func NewReservation(id string, court *Court, requesterID string, start time.Time, hours int, now time.Time, grace time.Duration) Reservation {
	return Reservation{
		ID:            id,
		CourtID:       court.ID,
		RequesterID:   requesterID,
		StartTime:     start,
		EndTime:       start.Add(time.Duration(hours) * time.Hour),
		Duration:      hours,
		TotalPrice:    court.PriceHour * int64(hours),
		StatusPayment: PaymentPending,
		StatusPayout:  PayoutPending,
		ExpiresAt:     now.Add(grace),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TransitionPayment(r Reservation, next PaymentStatus, at time.Time) (Reservation, error) {
	if !r.StatusPayment.CanTransitionTo(next) {
		return r, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, r.StatusPayment, next)
	}
	out := r
	out.StatusPayment = next
	out.UpdatedAt = at
	if next.IsTerminal() {
		out.CancelledAt = &at
	}
	return out, nil
}

func ConfirmPayment(r Reservation, transactionID string, at time.Time) (Reservation, error) {
	out, err := TransitionPayment(r, PaymentConfirmed, at)
	if err != nil {
		return r, err
	}
	out.PaymentTransactionID = &transactionID
	out.PaymentReceivedAt = &at
	return out, nil
}

// PayoutRecord carries the outcome of a successful owner payout.
type PayoutRecord struct {
	Fee           int64
	Net           int64
	TransactionID string
	At            time.Time
}

func RecordPayout(r Reservation, rec PayoutRecord) (Reservation, error) {
	if err := checkPayoutPending(r); err != nil {
		return r, err
	}
	out := r
	out.StatusPayout = PayoutSuccess
	out.SystemFeeAmount = &rec.Fee
	out.NetPayoutAmount = &rec.Net
	out.PayoutDate = &rec.At
	out.PayoutTransactionID = &rec.TransactionID
	out.UpdatedAt = rec.At
	return out, nil
}

func RecordPayoutFailure(r Reservation, at time.Time) (Reservation, error) {
	if err := checkPayoutPending(r); err != nil {
		return r, err
	}
	out := r
	out.StatusPayout = PayoutFailed
	out.UpdatedAt = at
	return out, nil
}

// ResetPayout puts a FAILED payout back to PENDING so settlement can run again.
func ResetPayout(r Reservation, at time.Time) (Reservation, error) {
	if r.StatusPayout != PayoutFailed {
		return r, fmt.Errorf("%w: payout %s -> %s", ErrInvalidTransition, r.StatusPayout, PayoutPending)
	}
	out := r
	out.StatusPayout = PayoutPending
	out.UpdatedAt = at
	return out, nil
}

func checkPayoutPending(r Reservation) error {
	if r.StatusPayment != PaymentConfirmed {
		return fmt.Errorf("%w: payout requires CONFIRMED payment, got %s", ErrInvalidTransition, r.StatusPayment)
	}
	if r.StatusPayout != PayoutPending {
		return fmt.Errorf("%w: payout %s is already resolved", ErrInvalidTransition, r.StatusPayout)
	}
	return nil
}
