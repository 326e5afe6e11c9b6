package service

import (
	"context"
	"errors"
	"strings"

	"quadra/internal/clock"
	"quadra/internal/database"
	"quadra/internal/domain"
	"quadra/internal/events"
	"quadra/internal/metrics"
	"quadra/internal/models"

	"github.com/rs/zerolog"
)

const paymentTopic = "payment"

type Notification struct {
	Topic          string
	NotificationID string
}

// WebhookReconciler applies gateway payment notifications. It never returns
// an error: replays, unknown references and stale statuses are expected.
type WebhookReconciler struct {
	store     domain.ReservationStore
	gateway   domain.PaymentGateway
	scheduler domain.Scheduler
	clock     clock.Clock
	notify    notifier
	logger    *zerolog.Logger
}

func NewWebhookReconciler(
	store domain.ReservationStore,
	gateway domain.PaymentGateway,
	scheduler domain.Scheduler,
	eventBus domain.EventPublisher,
	clk clock.Clock,
	logger *zerolog.Logger,
) *WebhookReconciler {
	return &WebhookReconciler{
		store:     store,
		gateway:   gateway,
		scheduler: scheduler,
		clock:     clk,
		notify:    notifier{events: eventBus, logger: logger},
		logger:    logger,
	}
}

func (w *WebhookReconciler) Reconcile(ctx context.Context, n Notification) Outcome {
	outcome := w.reconcile(ctx, n)
	metrics.IncWebhook(string(outcome))
	return outcome
}

func (w *WebhookReconciler) reconcile(ctx context.Context, n Notification) Outcome {
	if !strings.EqualFold(strings.TrimSpace(n.Topic), paymentTopic) || strings.TrimSpace(n.NotificationID) == "" {
		return OutcomeIgnored
	}

	txn, err := w.gateway.FetchTransactionDetails(ctx, n.NotificationID)
	if err != nil {
		w.logger.Error().Err(err).Str("notification_id", n.NotificationID).Msg("Failed to fetch transaction details")
		return OutcomeFailed
	}
	if txn.ExternalReference == "" {
		w.logger.Warn().Str("notification_id", n.NotificationID).Msg("Transaction has no external reference")
		return OutcomeSkipped
	}

	log := w.logger.With().
		Str("reservation_id", txn.ExternalReference).
		Str("transaction_id", txn.ID).
		Str("gateway_status", txn.Status).
		Logger()

	r, err := w.store.GetReservation(ctx, txn.ExternalReference)
	if errors.Is(err, database.ErrNotFound) {
		log.Warn().Msg("Webhook for unknown reservation")
		return OutcomeSkipped
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load reservation")
		return OutcomeFailed
	}
	if r.StatusPayment != models.PaymentPending {
		log.Debug().Str("status", string(r.StatusPayment)).Msg("Reservation already resolved")
		return OutcomeSkipped
	}

	now := w.clock.Now()
	switch txn.Status {
	case domain.TxnApproved:
		cancelExpiration(ctx, w.scheduler, w.logger, r.ID)

		updated, err := models.ConfirmPayment(*r, txn.ID, now)
		if err != nil {
			return OutcomeSkipped
		}
		if outcome, ok := w.persist(ctx, &log, &updated); !ok {
			return outcome
		}
		log.Info().Msg("Payment confirmed")
		w.notify.transitioned(events.EventReservationConfirmed, &updated, "webhook", "")
		return OutcomeConfirmed

	case domain.TxnRejected:
		updated, err := models.TransitionPayment(*r, models.PaymentCancelled, now)
		if err != nil {
			return OutcomeSkipped
		}
		if outcome, ok := w.persist(ctx, &log, &updated); !ok {
			return outcome
		}
		cancelExpiration(ctx, w.scheduler, w.logger, r.ID)
		log.Info().Msg("Payment rejected, reservation cancelled")
		w.notify.transitioned(events.EventReservationCancelled, &updated, "webhook", "payment_rejected")
		return OutcomeCancelled

	default:
		return OutcomeSkipped
	}
}

func (w *WebhookReconciler) persist(ctx context.Context, log *zerolog.Logger, updated *models.Reservation) (Outcome, bool) {
	err := w.store.UpdateReservationIfStatus(ctx, updated, models.PaymentPending)
	if errors.Is(err, database.ErrConcurrentModification) {
		log.Info().Msg("Webhook lost race, reservation already resolved")
		return OutcomeSkipped, false
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to persist webhook transition")
		return OutcomeFailed, false
	}
	return "", true
}
