package models

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING_PAYMENT"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// IsActive reports whether the status still holds the court slot.
func (s PaymentStatus) IsActive() bool {
	return s == PaymentPending || s == PaymentConfirmed
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCancelled || s == PaymentRefunded
}

// CanTransitionTo reports whether next is a legal forward move from s.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return next == PaymentConfirmed || next == PaymentCancelled
	case PaymentConfirmed:
		return next == PaymentCancelled || next == PaymentRefunded
	default:
		return false
	}
}

type PayoutStatus string

const (
	PayoutPending PayoutStatus = "PENDING"
	PayoutSuccess PayoutStatus = "SUCCESS"
	PayoutFailed  PayoutStatus = "FAILED"
)

// Reservation is a booking of a court for [StartTime, EndTime).
// Amounts are in minor currency units.
type Reservation struct {
	ID                   string        `json:"id"`
	CourtID              string        `json:"court_id"`
	RequesterID          string        `json:"requester_id"`
	StartTime            time.Time     `json:"start_time"`
	EndTime              time.Time     `json:"end_time"`
	Duration             int           `json:"duration"`
	TotalPrice           int64         `json:"total_price"`
	StatusPayment        PaymentStatus `json:"status_payment"`
	ExpiresAt            time.Time     `json:"expires_at"`
	PaymentTransactionID *string       `json:"payment_transaction_id,omitempty"`
	PaymentReceivedAt    *time.Time    `json:"payment_received_at,omitempty"`
	StatusPayout         PayoutStatus  `json:"status_payout"`
	SystemFeeAmount      *int64        `json:"system_fee_amount,omitempty"`
	NetPayoutAmount      *int64        `json:"net_payout_amount,omitempty"`
	PayoutDate           *time.Time    `json:"payout_date,omitempty"`
	PayoutTransactionID  *string       `json:"payout_transaction_id,omitempty"`
	CancelledAt          *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
	Version              int64         `json:"version"`
}

// Overlaps uses half-open interval semantics: touching slots do not overlap.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.StartTime.Before(end) && r.EndTime.After(start)
}

func (r *Reservation) HasPaymentTransaction() bool {
	return r.PaymentTransactionID != nil && *r.PaymentTransactionID != ""
}
