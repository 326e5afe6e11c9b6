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

// SettlementService pays court owners their share of confirmed reservations.
type SettlementService struct {
	store   domain.ReservationStore
	lookup  domain.Lookup
	gateway domain.PaymentGateway
	fees    FeeCalculator
	queue   domain.PayoutQueue
	clock   clock.Clock
	notify  notifier
	logger  *zerolog.Logger
}

func NewSettlementService(
	store domain.ReservationStore,
	lookup domain.Lookup,
	gateway domain.PaymentGateway,
	fees FeeCalculator,
	eventBus domain.EventPublisher,
	clk clock.Clock,
	logger *zerolog.Logger,
) *SettlementService {
	return &SettlementService{
		store:   store,
		lookup:  lookup,
		gateway: gateway,
		fees:    fees,
		clock:   clk,
		notify:  notifier{events: eventBus, logger: logger},
		logger:  logger,
	}
}

// SetPayoutQueue wires the queue used by RetryFailedPayout. The worker that
// implements it depends on this service, hence the setter.
func (s *SettlementService) SetPayoutQueue(q domain.PayoutQueue) {
	s.queue = q
}

func (s *SettlementService) Fees() FeeCalculator {
	return s.fees
}

// SettleReservation pays out a single reservation. Unmet preconditions are
// silent no-ops so redelivery is harmless; only gateway and store failures
// are returned, for the caller's retry policy.
func (s *SettlementService) SettleReservation(ctx context.Context, reservationID string) error {
	log := s.logger.With().Str("reservation_id", reservationID).Logger()

	r, err := s.store.GetReservation(ctx, reservationID)
	if errors.Is(err, database.ErrNotFound) {
		log.Debug().Msg("Settlement skipped: reservation not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reservation %s: %w", reservationID, err)
	}
	if r.StatusPayout != models.PayoutPending {
		log.Debug().Str("payout", string(r.StatusPayout)).Msg("Settlement skipped: payout already resolved")
		return nil
	}
	if r.StatusPayment != models.PaymentConfirmed {
		log.Debug().Str("payment", string(r.StatusPayment)).Msg("Settlement skipped: payment not confirmed")
		return nil
	}

	court, err := s.lookup.GetCourt(ctx, r.CourtID)
	if errors.Is(err, database.ErrNotFound) {
		log.Warn().Str("court_id", r.CourtID).Msg("Settlement skipped: court not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load court %s: %w", r.CourtID, err)
	}
	if !court.IsActive {
		log.Warn().Str("court_id", court.ID).Msg("Settlement skipped: court inactive")
		return nil
	}

	owner, err := s.lookup.GetUser(ctx, court.OwnerID)
	if errors.Is(err, database.ErrNotFound) {
		log.Warn().Str("owner_id", court.OwnerID).Msg("Settlement skipped: owner not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load owner %s: %w", court.OwnerID, err)
	}
	if !owner.HasRole(models.RoleOwner) {
		log.Warn().Str("owner_id", owner.ID).Str("role", string(owner.Role)).Msg("Settlement skipped: not an owner")
		return nil
	}
	if court.PayoutDestination == "" {
		log.Warn().Str("court_id", court.ID).Msg("Settlement skipped: no payout destination")
		return nil
	}

	fee, net := s.fees.Split(r.TotalPrice)
	res, payErr := s.gateway.MakePayout(ctx, domain.PayoutRequest{
		Amount:      net,
		Destination: court.PayoutDestination,
		Description: fmt.Sprintf("Payout for reservation %s at %s", r.ID, court.Name),
		// a redelivery of the same attempt reuses the key; a retry after FAILED
		// carries a new version and so a new key
		IdempotencyKey: fmt.Sprintf("payout-%s-%d", r.ID, r.Version),
	})
	if payErr == nil && res.Status == domain.TxnRejected {
		payErr = fmt.Errorf("payout %s rejected by gateway", res.TransactionID)
	}
	now := s.clock.Now()

	if payErr != nil {
		metrics.IncPayout("failed")
		failed, err := models.RecordPayoutFailure(*r, now)
		if err == nil {
			if err := s.store.UpdateReservationIfPayout(ctx, &failed, models.PayoutPending); err != nil {
				log.Error().Err(err).Msg("Failed to persist payout failure")
			} else {
				s.notify.publish(events.EventPayoutFailed, &failed, "settlement", payErr.Error())
			}
		}
		log.Error().Err(payErr).Int64("net", net).Msg("Payout failed")
		return fmt.Errorf("%w: %w", ErrGatewayError, payErr)
	}

	settled, err := models.RecordPayout(*r, models.PayoutRecord{
		Fee:           fee,
		Net:           net,
		TransactionID: res.TransactionID,
		At:            now,
	})
	if err != nil {
		return err
	}
	err = s.store.UpdateReservationIfPayout(ctx, &settled, models.PayoutPending)
	if errors.Is(err, database.ErrConcurrentModification) {
		log.Warn().Str("payout_transaction_id", res.TransactionID).Msg("Payout already recorded by another worker")
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist payout for %s: %w", r.ID, err)
	}

	metrics.IncPayout("success")
	s.notify.publish(events.EventPayoutSucceeded, &settled, "settlement", "")
	log.Info().
		Int64("total", r.TotalPrice).
		Int64("fee", fee).
		Int64("net", net).
		Str("payout_transaction_id", res.TransactionID).
		Str("payout_status", res.Status).
		Msg("Payout completed")
	s.checkPaymentStillConfirmed(ctx, r.ID, res.TransactionID)
	return nil
}

// checkPaymentStillConfirmed flags a payout that raced a cancellation: the
// owner got paid for a reservation that is no longer CONFIRMED.
func (s *SettlementService) checkPaymentStillConfirmed(ctx context.Context, reservationID, payoutTxn string) {
	current, err := s.store.GetReservation(ctx, reservationID)
	if err != nil || current.StatusPayment == models.PaymentConfirmed {
		return
	}
	s.logger.Error().
		Str("reservation_id", reservationID).
		Str("payment", string(current.StatusPayment)).
		Str("payout_transaction_id", payoutTxn).
		Msg("Payout sent for a reservation cancelled meanwhile, needs reconciliation")
}

// ResumeFailedPayout puts a FAILED payout back to PENDING ahead of an
// automatic retry. Any other payout state is left alone.
func (s *SettlementService) ResumeFailedPayout(ctx context.Context, reservationID string) error {
	r, err := s.store.GetReservation(ctx, reservationID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reservation %s: %w", reservationID, err)
	}
	if r.StatusPayout != models.PayoutFailed {
		return nil
	}

	reset, err := models.ResetPayout(*r, s.clock.Now())
	if err != nil {
		return nil
	}
	err = s.store.UpdateReservationIfPayout(ctx, &reset, models.PayoutFailed)
	if err != nil && !errors.Is(err, database.ErrConcurrentModification) {
		return fmt.Errorf("resume payout for %s: %w", r.ID, err)
	}
	return nil
}

// RetryFailedPayout moves a FAILED payout back to PENDING and queues it again.
func (s *SettlementService) RetryFailedPayout(ctx context.Context, actorID, reservationID string) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, lookupErr("reservation", reservationID, err)
	}
	actor, err := s.lookup.GetUser(ctx, actorID)
	if err != nil {
		return nil, lookupErr("user", actorID, err)
	}
	court, err := s.lookup.GetCourt(ctx, r.CourtID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, lookupErr("court", r.CourtID, err)
	}
	if err := Authorize(actor, ActionRetryPayout, court, r); err != nil {
		return nil, err
	}

	reset, err := models.ResetPayout(*r, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPayoutNotFailed, r.StatusPayout)
	}
	err = s.store.UpdateReservationIfPayout(ctx, &reset, models.PayoutFailed)
	if errors.Is(err, database.ErrConcurrentModification) {
		return nil, fmt.Errorf("reservation %s: %w", r.ID, ErrStateChanged)
	}
	if err != nil {
		return nil, fmt.Errorf("reset payout: %w", err)
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, r.ID); err != nil {
			// the scan picks up PENDING payouts anyway
			s.logger.Warn().Err(err).Str("reservation_id", r.ID).Msg("Failed to enqueue payout retry")
		}
	}
	s.logger.Info().Str("reservation_id", r.ID).Str("actor_id", actor.ID).Msg("Payout retry requested")
	return &reset, nil
}
