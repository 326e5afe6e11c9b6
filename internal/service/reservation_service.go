package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quadra/internal/clock"
	"quadra/internal/database"
	"quadra/internal/domain"
	"quadra/internal/events"
	"quadra/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ReservationOptions struct {
	GracePeriod       time.Duration
	RefundWindowHours float64
}

// ReservationService serves the requester-facing operations: create, read
// and cancel.
type ReservationService struct {
	store     domain.ReservationStore
	lookup    domain.Lookup
	gateway   domain.PaymentGateway
	scheduler domain.Scheduler
	conflicts *ConflictChecker
	clock     clock.Clock
	notify    notifier
	opts      ReservationOptions
	logger    *zerolog.Logger
}

func NewReservationService(
	store domain.ReservationStore,
	lookup domain.Lookup,
	gateway domain.PaymentGateway,
	scheduler domain.Scheduler,
	eventBus domain.EventPublisher,
	clk clock.Clock,
	opts ReservationOptions,
	logger *zerolog.Logger,
) *ReservationService {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = models.DefaultPaymentGracePeriod
	}
	if opts.RefundWindowHours <= 0 {
		opts.RefundWindowHours = models.DefaultRefundWindowHours
	}
	return &ReservationService{
		store:     store,
		lookup:    lookup,
		gateway:   gateway,
		scheduler: scheduler,
		conflicts: NewConflictChecker(store),
		clock:     clk,
		notify:    notifier{events: eventBus, logger: logger},
		opts:      opts,
		logger:    logger,
	}
}

type CreateReservationRequest struct {
	RequesterID string
	CourtID     string
	StartTime   time.Time
	Duration    int
}

type CreateReservationResult struct {
	Reservation  *models.Reservation
	PreferenceID string
	PaymentLink  string
}

func (s *ReservationService) CreateReservation(ctx context.Context, req CreateReservationRequest) (*CreateReservationResult, error) {
	requester, err := s.lookup.GetUser(ctx, req.RequesterID)
	if err != nil {
		return nil, lookupErr("user", req.RequesterID, err)
	}
	court, err := s.lookup.GetCourt(ctx, req.CourtID)
	if err != nil {
		return nil, lookupErr("court", req.CourtID, err)
	}
	if !court.IsActive {
		return nil, fmt.Errorf("court %s: %w", court.ID, ErrNotFound)
	}
	if err := Authorize(requester, ActionCreate, court, nil); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	start := req.StartTime.UTC()
	if err := validateSlot(court, start, req.Duration, now); err != nil {
		return nil, err
	}
	end := start.Add(time.Duration(req.Duration) * time.Hour)

	if err := s.conflicts.Check(ctx, court.ID, start, end); err != nil {
		return nil, err
	}

	r := models.NewReservation(uuid.NewString(), court, requester.ID, start, req.Duration, now, s.opts.GracePeriod)
	if err := s.store.CreateReservationWithLock(ctx, &r); err != nil {
		if errors.Is(err, database.ErrOverlap) {
			return nil, fmt.Errorf("%w: %v", ErrBookingConflict, err)
		}
		return nil, fmt.Errorf("create reservation: %w", err)
	}

	s.logger.Info().
		Str("reservation_id", r.ID).
		Str("court_id", r.CourtID).
		Str("requester_id", r.RequesterID).
		Time("start", r.StartTime).
		Int("hours", r.Duration).
		Int64("total", r.TotalPrice).
		Msg("Reservation created")

	s.armExpiration(ctx, &r, now)
	s.notify.transitioned(events.EventReservationCreated, &r, "create", "")

	desc := fmt.Sprintf("%s, %s, %dh", court.Name, r.StartTime.Format("2006-01-02 15:04"), r.Duration)
	pref, err := s.gateway.CreatePaymentPreference(ctx, r.TotalPrice, desc, r.ID)
	if err != nil {
		// the reservation stays pending and expires on its own
		s.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("Failed to create payment preference")
		return nil, fmt.Errorf("%w: %w", ErrGatewayError, err)
	}

	return &CreateReservationResult{
		Reservation:  &r,
		PreferenceID: pref.ID,
		PaymentLink:  pref.InitPoint,
	}, nil
}

// armExpiration logs scheduling failures; the expiration sweep still catches
// reservations whose timer was never armed.
func (s *ReservationService) armExpiration(ctx context.Context, r *models.Reservation, now time.Time) {
	if s.scheduler == nil {
		return
	}
	job := domain.Job{
		Type:           domain.JobTypeExpireReservation,
		ReservationID:  r.ID,
		ExpectedStatus: models.PaymentPending,
	}
	key := models.ExpirationJobKey(r.ID)
	if err := s.scheduler.Schedule(ctx, key, job, r.ExpiresAt.Sub(now)); err != nil {
		s.logger.Warn().Err(err).Str("job_key", key).Msg("Failed to schedule expiration job")
	}
}

func validateSlot(court *models.Court, start time.Time, hours int, now time.Time) error {
	maxHours := court.MaxDurationHours
	if maxHours <= 0 {
		maxHours = models.DefaultMaxDurationHours
	}
	if hours < 1 || hours > maxHours {
		return fmt.Errorf("%w: %d hours, allowed 1..%d", ErrDurationInvalid, hours, maxHours)
	}
	if clock.IsBefore(start, now) {
		return ErrTimeAlreadyPassed
	}
	if !court.IsOpenOn(start.Weekday()) {
		return fmt.Errorf("%w: %s", ErrDayUnavailable, start.Weekday())
	}

	open, closing, err := court.OpeningWindow(start)
	if err != nil {
		return err
	}
	end := start.Add(time.Duration(hours) * time.Hour)
	if clock.IsBefore(start, open) || clock.IsAfter(end, closing) {
		return fmt.Errorf("%w: open %s-%s", ErrOutsideOpeningHours, court.OpenTime, court.CloseTime)
	}
	return nil
}

// GetReservation returns a reservation visible to actorID.
func (s *ReservationService) GetReservation(ctx context.Context, actorID, reservationID string) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, lookupErr("reservation", reservationID, err)
	}
	actor, err := s.lookup.GetUser(ctx, actorID)
	if err != nil {
		return nil, lookupErr("user", actorID, err)
	}

	var court *models.Court
	if r.RequesterID != actor.ID {
		court, err = s.lookup.GetCourt(ctx, r.CourtID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, lookupErr("court", r.CourtID, err)
		}
	}
	if err := Authorize(actor, ActionView, court, r); err != nil {
		return nil, err
	}
	return r, nil
}
