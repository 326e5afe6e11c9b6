package service

import (
	"context"

	"quadra/internal/domain"
	"quadra/internal/events"
	"quadra/internal/metrics"
	"quadra/internal/models"

	"github.com/rs/zerolog"
)

// Outcome reports how a background handler resolved its input. Expected
// no-op paths are outcomes, not errors.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeExpired   Outcome = "expired"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// notifier publishes reservation events and counts transitions.
type notifier struct {
	events domain.EventPublisher
	logger *zerolog.Logger
}

func (n notifier) transitioned(eventType string, r *models.Reservation, source, reason string) {
	metrics.IncTransition(string(r.StatusPayment), source)
	n.publish(eventType, r, source, reason)
}

func (n notifier) publish(eventType string, r *models.Reservation, source, reason string) {
	if n.events == nil {
		return
	}
	payload := events.NewReservationPayload(r, source)
	payload.Reason = reason
	if err := n.events.PublishJSON(eventType, payload); err != nil {
		n.logger.Error().Err(err).Str("event_type", eventType).Str("reservation_id", r.ID).Msg("publish event error")
	}
}

// cancelExpiration is best effort: a failure is logged and never blocks the
// surrounding transition.
func cancelExpiration(ctx context.Context, sched domain.Scheduler, logger *zerolog.Logger, reservationID string) {
	if sched == nil {
		return
	}
	key := models.ExpirationJobKey(reservationID)
	if err := sched.Cancel(ctx, key); err != nil {
		logger.Warn().Err(err).Str("job_key", key).Msg("Failed to cancel expiration job")
	}
}
