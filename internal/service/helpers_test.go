package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"quadra/internal/clock"
	"quadra/internal/database"
	"quadra/internal/domain"
	"quadra/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Monday
var baseNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreatePaymentPreference(ctx context.Context, amount int64, description, reservationID string) (*domain.Preference, error) {
	args := m.Called(ctx, amount, description, reservationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Preference), args.Error(1)
}
func (m *mockGateway) FetchTransactionDetails(ctx context.Context, notificationID string) (*domain.Transaction, error) {
	args := m.Called(ctx, notificationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}
func (m *mockGateway) CreateRefund(ctx context.Context, transactionID string) error {
	return m.Called(ctx, transactionID).Error(0)
}
func (m *mockGateway) MakePayout(ctx context.Context, req domain.PayoutRequest) (*domain.PayoutResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PayoutResult), args.Error(1)
}

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) Schedule(ctx context.Context, key string, job domain.Job, delay time.Duration) error {
	return m.Called(ctx, key, job, delay).Error(0)
}
func (m *mockScheduler) Cancel(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, reservationID string) error {
	return m.Called(ctx, reservationID).Error(0)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishJSON(eventType string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type testEnv struct {
	db        *database.DB
	clock     *clock.Manual
	gateway   *mockGateway
	scheduler *mockScheduler
	events    *recordingPublisher
	logger    *zerolog.Logger
	court     *models.Court
	owner     *models.User
	player    *models.User
	admin     *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	env := &testEnv{
		db:        db,
		clock:     clock.NewManual(baseNow),
		gateway:   &mockGateway{},
		scheduler: &mockScheduler{},
		events:    &recordingPublisher{},
		logger:    &logger,
		owner:     &models.User{ID: "owner-1", Name: "Olga", Role: models.RoleOwner},
		player:    &models.User{ID: "player-1", Name: "Pavel", Role: models.RolePlayer},
		admin:     &models.User{ID: "admin-1", Name: "Ada", Role: models.RoleAdmin},
	}
	for _, u := range []*models.User{env.owner, env.player, env.admin} {
		require.NoError(t, db.UpsertUser(ctx, u))
	}

	env.court = &models.Court{
		ID:        "court-1",
		OwnerID:   env.owner.ID,
		Name:      "Center Court",
		PriceHour: 100,
		OpenTime:  "08:00",
		CloseTime: "22:00",
		OpenDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
		},
		MaxDurationHours:  4,
		IsActive:          true,
		PayoutDestination: "acct_owner",
	}
	require.NoError(t, db.UpsertCourt(ctx, env.court))
	return env
}

func (e *testEnv) reservationService() *ReservationService {
	return NewReservationService(e.db, e.db, e.gateway, e.scheduler, e.events, e.clock,
		ReservationOptions{GracePeriod: 5 * time.Minute, RefundWindowHours: 24}, e.logger)
}

func (e *testEnv) expirationHandler() *ExpirationHandler {
	return NewExpirationHandler(e.db, e.events, e.clock, e.logger)
}

func (e *testEnv) webhookReconciler() *WebhookReconciler {
	return NewWebhookReconciler(e.db, e.gateway, e.scheduler, e.events, e.clock, e.logger)
}

func (e *testEnv) settlementService() *SettlementService {
	return NewSettlementService(e.db, e.db, e.gateway, NewFeeCalculator(500), e.events, e.clock, e.logger)
}

// insertReservation stores a reservation for the player in the given status.
func (e *testEnv) insertReservation(t *testing.T, id string, start time.Time, hours int, status models.PaymentStatus) *models.Reservation {
	t.Helper()
	now := e.clock.Now()
	r := models.NewReservation(id, e.court, e.player.ID, start, hours, now, 5*time.Minute)

	var err error
	switch status {
	case models.PaymentConfirmed:
		r, err = models.ConfirmPayment(r, "txn-"+id, now)
	case models.PaymentCancelled, models.PaymentRefunded:
		if status == models.PaymentRefunded {
			r, err = models.ConfirmPayment(r, "txn-"+id, now)
			require.NoError(t, err)
		}
		r, err = models.TransitionPayment(r, status, now)
	}
	require.NoError(t, err)
	require.NoError(t, e.db.CreateReservation(context.Background(), &r))
	return &r
}

func (e *testEnv) reload(t *testing.T, id string) *models.Reservation {
	t.Helper()
	r, err := e.db.GetReservation(context.Background(), id)
	require.NoError(t, err)
	return r
}
