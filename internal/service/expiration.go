package service

import (
	"context"
	"errors"
	"fmt"

	"quadra/internal/clock"
	"quadra/internal/database"
	"quadra/internal/domain"
	"quadra/internal/events"
	"quadra/internal/metrics"
	"quadra/internal/models"

	"github.com/rs/zerolog"
)

const sweepBatchSize = 100

// ExpirationHandler cancels reservations whose payment window elapsed.
type ExpirationHandler struct {
	store  domain.ReservationStore
	clock  clock.Clock
	notify notifier
	logger *zerolog.Logger
}

func NewExpirationHandler(store domain.ReservationStore, eventBus domain.EventPublisher, clk clock.Clock, logger *zerolog.Logger) *ExpirationHandler {
	return &ExpirationHandler{
		store:  store,
		clock:  clk,
		notify: notifier{events: eventBus, logger: logger},
		logger: logger,
	}
}

// HandleExpiration returns an error only when the store fails. A missing
// reservation, a resolved one, or a lost race all yield OutcomeSkipped.
func (h *ExpirationHandler) HandleExpiration(ctx context.Context, reservationID string, expected models.PaymentStatus) (Outcome, error) {
	r, err := h.store.GetReservation(ctx, reservationID)
	if errors.Is(err, database.ErrNotFound) {
		h.logger.Debug().Str("reservation_id", reservationID).Msg("Expiration for unknown reservation")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load reservation %s: %w", reservationID, err)
	}
	if r.StatusPayment != expected || r.StatusPayment != models.PaymentPending {
		return OutcomeSkipped, nil
	}

	updated, err := models.TransitionPayment(*r, models.PaymentCancelled, h.clock.Now())
	if err != nil {
		return OutcomeSkipped, nil
	}
	err = h.store.UpdateReservationIfStatus(ctx, &updated, models.PaymentPending)
	if errors.Is(err, database.ErrConcurrentModification) {
		h.logger.Info().Str("reservation_id", r.ID).Msg("Expiration lost race, reservation already resolved")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("expire reservation %s: %w", r.ID, err)
	}

	h.logger.Info().Str("reservation_id", r.ID).Time("expires_at", r.ExpiresAt).Msg("Reservation expired")
	h.notify.transitioned(events.EventReservationExpired, &updated, "expiration", "payment_timeout")
	return OutcomeExpired, nil
}

// HandleJob adapts the handler to the scheduler's job runner.
func (h *ExpirationHandler) HandleJob(ctx context.Context, job domain.Job) error {
	if job.Type != domain.JobTypeExpireReservation {
		h.logger.Warn().Str("type", job.Type).Msg("Unknown job type, dropping")
		metrics.IncJob(job.Type, "unknown")
		return nil
	}
	expected := job.ExpectedStatus
	if expected == "" {
		expected = models.PaymentPending
	}
	outcome, err := h.HandleExpiration(ctx, job.ReservationID, expected)
	metrics.IncJob(job.Type, string(outcome))
	return err
}

// SweepExpired expires every pending reservation past its deadline. It
// covers timers lost to a scheduler outage.
func (h *ExpirationHandler) SweepExpired(ctx context.Context) (int, error) {
	expired := 0
	for {
		batch, err := h.store.ListExpiredPending(ctx, h.clock.Now(), sweepBatchSize)
		if err != nil {
			return expired, fmt.Errorf("list expired reservations: %w", err)
		}

		progressed := false
		for _, r := range batch {
			outcome, err := h.HandleExpiration(ctx, r.ID, models.PaymentPending)
			if err != nil {
				return expired, err
			}
			if outcome == OutcomeExpired {
				expired++
				progressed = true
			}
		}
		if len(batch) < sweepBatchSize || !progressed {
			return expired, nil
		}
	}
}
