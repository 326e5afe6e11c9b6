package service

import (
	"context"
	"errors"
	"fmt"

	"quadra/internal/clock"
	"quadra/internal/database"
	"quadra/internal/events"
	"quadra/internal/models"
)

const (
	MsgCancelled         = "cancelled"
	MsgCancelledNoRefund = "cancelled, no refund"
	MsgRefundProcessing  = "cancelled, refund processing"
)

type CancelResult struct {
	Message     string               `json:"message"`
	FinalStatus models.PaymentStatus `json:"final_status"`
}

// CancelReservation applies the refund window policy. When the refund call
// fails the cancellation is still persisted and ErrRefundFailed is returned
// together with the result.
func (s *ReservationService) CancelReservation(ctx context.Context, requesterID, reservationID string) (*CancelResult, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, lookupErr("reservation", reservationID, err)
	}
	actor, err := s.lookup.GetUser(ctx, requesterID)
	if err != nil {
		return nil, lookupErr("user", requesterID, err)
	}
	if err := Authorize(actor, ActionCancel, nil, r); err != nil {
		return nil, err
	}
	if r.StatusPayment.IsTerminal() {
		return nil, fmt.Errorf("%w: status %s", ErrAlreadyCancelled, r.StatusPayment)
	}

	cancelExpiration(ctx, s.scheduler, s.logger, r.ID)

	now := s.clock.Now()
	prev := r.StatusPayment

	switch prev {
	case models.PaymentConfirmed:
		hoursUntilStart := clock.DiffInHours(r.StartTime, now)
		if hoursUntilStart < s.opts.RefundWindowHours {
			return s.finishCancel(ctx, r, models.PaymentCancelled, MsgCancelledNoRefund, "late_cancellation")
		}
		if !r.HasPaymentTransaction() {
			return nil, fmt.Errorf("reservation %s: %w", r.ID, ErrTransactionMissing)
		}

		refundErr := s.gateway.CreateRefund(ctx, *r.PaymentTransactionID)
		if refundErr != nil {
			s.logger.Error().Err(refundErr).
				Str("reservation_id", r.ID).
				Str("transaction_id", *r.PaymentTransactionID).
				Msg("Refund failed, cancelling without refund")
			res, err := s.finishCancel(ctx, r, models.PaymentCancelled, MsgCancelled, "refund_failed")
			if err != nil {
				return nil, err
			}
			return res, fmt.Errorf("%w: %w", ErrRefundFailed, refundErr)
		}
		res, err := s.finishCancel(ctx, r, models.PaymentRefunded, MsgRefundProcessing, "")
		if err != nil {
			s.logger.Error().Err(err).
				Str("reservation_id", r.ID).
				Str("transaction_id", *r.PaymentTransactionID).
				Msg("Refund issued but REFUNDED was not recorded, needs reconciliation")
			return nil, err
		}
		if current, err := s.store.GetReservation(ctx, r.ID); err == nil && current.StatusPayout == models.PayoutSuccess {
			s.logger.Error().
				Str("reservation_id", r.ID).
				Str("transaction_id", *r.PaymentTransactionID).
				Str("payout_transaction_id", derefString(current.PayoutTransactionID)).
				Msg("Refund issued after the owner payout, needs reconciliation")
		}
		return res, nil

	default:
		return s.finishCancel(ctx, r, models.PaymentCancelled, MsgCancelled, "requester")
	}
}

func (s *ReservationService) finishCancel(ctx context.Context, r *models.Reservation, next models.PaymentStatus, msg, reason string) (*CancelResult, error) {
	updated, err := models.TransitionPayment(*r, next, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateReservationIfStatus(ctx, &updated, r.StatusPayment); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			return nil, fmt.Errorf("reservation %s: %w", r.ID, ErrStateChanged)
		}
		return nil, fmt.Errorf("persist cancellation: %w", err)
	}

	eventType := events.EventReservationCancelled
	if next == models.PaymentRefunded {
		eventType = events.EventReservationRefunded
	}
	s.notify.transitioned(eventType, &updated, "cancel", reason)

	s.logger.Info().
		Str("reservation_id", r.ID).
		Str("from", string(r.StatusPayment)).
		Str("to", string(next)).
		Msg("Reservation cancelled")

	return &CancelResult{Message: msg, FinalStatus: next}, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
