package database

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quadra/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedCourt(t *testing.T, db *DB) *models.Court {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: "owner-1", Name: "Owner", Role: models.RoleOwner}))
	court := &models.Court{
		ID:                "court-1",
		OwnerID:           "owner-1",
		Name:              "Center Court",
		PriceHour:         100,
		OpenTime:          "08:00",
		CloseTime:         "22:00",
		OpenDays:          []time.Weekday{time.Monday, time.Wednesday, time.Saturday},
		MaxDurationHours:  3,
		IsActive:          true,
		PayoutDestination: "acct_owner",
	}
	require.NoError(t, db.UpsertCourt(ctx, court))
	return court
}

func newReservation(id string, court *models.Court, start time.Time, hours int) *models.Reservation {
	now := time.Now().UTC()
	r := models.NewReservation(id, court, "player-1", start, hours, now, 5*time.Minute)
	return &r
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.NoError(t, db.PingContext(context.Background()))
}

func TestNewDB_Error(t *testing.T) {
	logger := zerolog.Nop()
	_, err := NewDB(t.TempDir(), &logger)
	assert.Error(t, err)
}

func TestReservationRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	court := seedCourt(t, db)

	start := time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)
	r := newReservation("r1", court, start, 2)
	require.NoError(t, db.CreateReservation(ctx, r))
	assert.Equal(t, int64(1), r.Version)

	got, err := db.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.True(t, start.Equal(got.StartTime))
	assert.True(t, start.Add(2*time.Hour).Equal(got.EndTime))
	assert.Equal(t, int64(200), got.TotalPrice)
	assert.Equal(t, models.PaymentPending, got.StatusPayment)
	assert.Equal(t, models.PayoutPending, got.StatusPayout)
	assert.Nil(t, got.PaymentTransactionID)
	assert.Nil(t, got.SystemFeeAmount)

	_, err = db.GetReservation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindOverlapping(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	court := seedCourt(t, db)

	start := time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateReservation(ctx, newReservation("r1", court, start, 2)))

	cancelled := newReservation("r2", court, start.Add(4*time.Hour), 1)
	cancelled.StatusPayment = models.PaymentCancelled
	require.NoError(t, db.CreateReservation(ctx, cancelled))

	tests := []struct {
		name       string
		start, end time.Time
		wantID     string
	}{
		{"inside", start.Add(30 * time.Minute), start.Add(90 * time.Minute), "r1"},
		{"straddles start", start.Add(-time.Hour), start.Add(time.Hour), "r1"},
		{"touches end", start.Add(2 * time.Hour), start.Add(3 * time.Hour), ""},
		{"touches start", start.Add(-time.Hour), start, ""},
		{"cancelled slot is free", start.Add(4 * time.Hour), start.Add(5 * time.Hour), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.FindOverlapping(ctx, court.ID, tt.start, tt.end)
			require.NoError(t, err)
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}

	other, err := db.FindOverlapping(ctx, "court-2", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestCreateReservationWithLock_Concurrent(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "concurrency.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	court := seedCourt(t, db)
	start := time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)

	const numGoroutines = 10
	var wg sync.WaitGroup
	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := newReservation(string(rune('a'+i)), court, start.Add(time.Duration(i%2)*30*time.Minute), 1)
			results <- db.CreateReservationWithLock(context.Background(), r)
		}(i)
	}
	wg.Wait()
	close(results)

	success, overlaps := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case assert.ErrorIs(t, err, ErrOverlap):
			overlaps++
		}
	}
	assert.Equal(t, 1, success, "only one reservation may hold the slot")
	assert.Equal(t, numGoroutines-1, overlaps)
}

func TestUpdateReservationIfStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	court := seedCourt(t, db)
	now := time.Now().UTC()

	r := newReservation("r1", court, now.Add(48*time.Hour), 1)
	require.NoError(t, db.CreateReservation(ctx, r))

	confirmed, err := models.ConfirmPayment(*r, "txn-1", now)
	require.NoError(t, err)
	expired, err := models.TransitionPayment(*r, models.PaymentCancelled, now)
	require.NoError(t, err)

	// both writers read PENDING_PAYMENT; only the first may win
	require.NoError(t, db.UpdateReservationIfStatus(ctx, &confirmed, models.PaymentPending))
	err = db.UpdateReservationIfStatus(ctx, &expired, models.PaymentPending)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err := db.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentConfirmed, got.StatusPayment)
	require.NotNil(t, got.PaymentTransactionID)
	assert.Equal(t, "txn-1", *got.PaymentTransactionID)
	assert.Equal(t, int64(2), got.Version)
}

func TestUpdateReservation_Version(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	court := seedCourt(t, db)
	now := time.Now().UTC()

	r := newReservation("r1", court, now.Add(48*time.Hour), 1)
	require.NoError(t, db.CreateReservation(ctx, r))

	stale := *r
	next, err := models.TransitionPayment(*r, models.PaymentCancelled, now)
	require.NoError(t, err)
	require.NoError(t, db.UpdateReservation(ctx, &next))
	assert.Equal(t, int64(2), next.Version)

	stale.StatusPayment = models.PaymentConfirmed
	assert.ErrorIs(t, db.UpdateReservation(ctx, &stale), ErrConcurrentModification)
}

func TestUpdateReservationIfPayout(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	court := seedCourt(t, db)
	now := time.Now().UTC()

	r := newReservation("r1", court, now.Add(-48*time.Hour), 10)
	confirmed, err := models.ConfirmPayment(*r, "txn-1", now)
	require.NoError(t, err)
	require.NoError(t, db.CreateReservation(ctx, &confirmed))

	paid, err := models.RecordPayout(confirmed, models.PayoutRecord{Fee: 50, Net: 950, TransactionID: "po-1", At: now})
	require.NoError(t, err)
	require.NoError(t, db.UpdateReservationIfPayout(ctx, &paid, models.PayoutPending))
	assert.ErrorIs(t, db.UpdateReservationIfPayout(ctx, &paid, models.PayoutPending), ErrConcurrentModification)

	got, err := db.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutSuccess, got.StatusPayout)
	assert.Equal(t, int64(50), *got.SystemFeeAmount)
	assert.Equal(t, int64(950), *got.NetPayoutAmount)
	assert.Equal(t, "po-1", *got.PayoutTransactionID)
	assert.Equal(t, "txn-1", *got.PaymentTransactionID)
	assert.NotNil(t, got.PayoutDate)
}

func TestConditionalUpdates_KeepOtherSide(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	court := seedCourt(t, db)
	now := time.Now().UTC()

	r := newReservation("r1", court, now.Add(48*time.Hour), 10)
	confirmed, err := models.ConfirmPayment(*r, "txn-1", now)
	require.NoError(t, err)
	require.NoError(t, db.CreateReservation(ctx, &confirmed))

	// both snapshots come from the same CONFIRMED/PENDING read
	paid, err := models.RecordPayout(confirmed, models.PayoutRecord{Fee: 50, Net: 950, TransactionID: "po-1", At: now})
	require.NoError(t, err)
	refunded, err := models.TransitionPayment(confirmed, models.PaymentRefunded, now)
	require.NoError(t, err)

	require.NoError(t, db.UpdateReservationIfPayout(ctx, &paid, models.PayoutPending))
	require.NoError(t, db.UpdateReservationIfStatus(ctx, &refunded, models.PaymentConfirmed))

	got, err := db.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, got.StatusPayment)
	assert.Equal(t, models.PayoutSuccess, got.StatusPayout)
	require.NotNil(t, got.PayoutTransactionID)
	assert.Equal(t, "po-1", *got.PayoutTransactionID)
	assert.Equal(t, int64(950), *got.NetPayoutAmount)
	assert.NotNil(t, got.CancelledAt)
	assert.Equal(t, int64(3), got.Version)

	// a stale full write loses against both
	assert.ErrorIs(t, db.UpdateReservation(ctx, &confirmed), ErrConcurrentModification)
}

func TestListQueries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	court := seedCourt(t, db)
	now := time.Now().UTC()

	expired := newReservation("expired", court, now.Add(24*time.Hour), 1)
	expired.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, db.CreateReservation(ctx, expired))

	fresh := newReservation("fresh", court, now.Add(26*time.Hour), 1)
	require.NoError(t, db.CreateReservation(ctx, fresh))

	played := newReservation("played", court, now.Add(-5*time.Hour), 2)
	played.StatusPayment = models.PaymentConfirmed
	require.NoError(t, db.CreateReservation(ctx, played))

	list, err := db.ListExpiredPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "expired", list[0].ID)

	settle, err := db.ListSettleable(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, settle, 1)
	assert.Equal(t, "played", settle[0].ID)

	owned, err := db.ListReservationsByOwner(ctx, "owner-1", now.Add(-24*time.Hour), now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Len(t, owned, 3)

	none, err := db.ListReservationsByOwner(ctx, "someone-else", now.Add(-24*time.Hour), now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCourtsAndUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	court := seedCourt(t, db)

	got, err := db.GetCourt(ctx, court.ID)
	require.NoError(t, err)
	assert.Equal(t, court.OpenDays, got.OpenDays)
	assert.Equal(t, "acct_owner", got.PayoutDestination)
	assert.True(t, got.IsActive)

	court.IsActive = false
	require.NoError(t, db.UpsertCourt(ctx, court))
	got, err = db.GetCourt(ctx, court.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = db.GetCourt(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	owner, err := db.GetUser(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, owner.Role)

	_, err = db.GetUser(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close()

	ctx := context.Background()
	_, err = db.GetReservation(ctx, "r1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = db.FindOverlapping(ctx, "c", time.Now(), time.Now())
	assert.Error(t, err)

	assert.Error(t, db.CreateReservationWithLock(ctx, &models.Reservation{}))
	_, _, err = db.CreatePayoutJob(ctx, "r1")
	assert.Error(t, err)
}

func TestDecodeDays(t *testing.T) {
	days, err := decodeDays("0, 6")
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Sunday, time.Saturday}, days)

	_, err = decodeDays("7")
	assert.Error(t, err)

	assert.Equal(t, "1,3", encodeDays([]time.Weekday{time.Monday, time.Wednesday}))
}
