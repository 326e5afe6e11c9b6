package worker

import (
	"context"
	"fmt"
	"time"

	"quadra/internal/clock"
	"quadra/internal/domain"
	"quadra/internal/events"
	"quadra/internal/metrics"

	"github.com/rs/zerolog"
)

const scanBatchSize = 200

// SettlementScheduler finds confirmed reservations that finished playing and
// queues their payouts.
type SettlementScheduler struct {
	store    domain.ReservationStore
	queue    domain.PayoutQueue
	clock    clock.Clock
	interval time.Duration
	logger   *zerolog.Logger
}

func NewSettlementScheduler(store domain.ReservationStore, queue domain.PayoutQueue, clk clock.Clock, interval time.Duration, logger *zerolog.Logger) *SettlementScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SettlementScheduler{
		store:    store,
		queue:    queue,
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

func (s *SettlementScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("Settlement scheduler started")
	for {
		if _, err := s.Scan(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Settlement scan failed")
		}
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Settlement scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Scan enqueues every settleable reservation and returns how many it queued.
func (s *SettlementScheduler) Scan(ctx context.Context) (int, error) {
	due, err := s.store.ListSettleable(ctx, s.clock.Now(), scanBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list settleable reservations: %w", err)
	}

	queued := 0
	for _, r := range due {
		if err := s.queue.Enqueue(ctx, r.ID); err != nil {
			s.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("Failed to enqueue payout")
			continue
		}
		queued++
	}
	if queued > 0 {
		metrics.IncJob("settlement_scan", "queued")
		s.logger.Info().Int("queued", queued).Msg("Payouts queued")
	}
	return queued, nil
}

// OnConfirmed queues a payout as soon as payment is confirmed. It is
// subscribed to the event bus when settlement runs on confirmation.
func OnConfirmed(queue domain.PayoutQueue, logger *zerolog.Logger) events.EventHandler {
	return func(event *events.Event) error {
		var payload events.ReservationEventPayload
		if err := event.Decode(&payload); err != nil {
			return fmt.Errorf("decode %s: %w", event.Type, err)
		}
		if err := queue.Enqueue(context.Background(), payload.ReservationID); err != nil {
			logger.Error().Err(err).Str("reservation_id", payload.ReservationID).Msg("Failed to enqueue payout on confirmation")
			return err
		}
		return nil
	}
}
