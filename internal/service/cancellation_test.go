package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"quadra/internal/domain"
	"quadra/internal/events"
	"quadra/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCancelReservation_Pending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.insertReservation(t, "r-1", baseNow.Add(30*time.Hour), 1, models.PaymentPending)
	env.scheduler.On("Cancel", ctx, "expire:r-1").Return(nil).Once()

	res, err := env.reservationService().CancelReservation(ctx, env.player.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, MsgCancelled, res.Message)
	assert.Equal(t, models.PaymentCancelled, res.FinalStatus)

	stored := env.reload(t, r.ID)
	assert.Equal(t, models.PaymentCancelled, stored.StatusPayment)
	require.NotNil(t, stored.CancelledAt)
	env.scheduler.AssertExpectations(t)
	env.gateway.AssertNotCalled(t, "CreateRefund", ctx, "txn-r-1")
}

func TestCancelReservation_RefundWindow(t *testing.T) {
	tests := []struct {
		name        string
		untilStart  time.Duration
		wantRefund  bool
		wantStatus  models.PaymentStatus
		wantMessage string
	}{
		{"30h ahead", 30 * time.Hour, true, models.PaymentRefunded, MsgRefundProcessing},
		{"exactly 24h", 24 * time.Hour, true, models.PaymentRefunded, MsgRefundProcessing},
		{"23.999h", 24*time.Hour - 3600*time.Millisecond, false, models.PaymentCancelled, MsgCancelledNoRefund},
		{"10h ahead", 10 * time.Hour, false, models.PaymentCancelled, MsgCancelledNoRefund},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			r := env.insertReservation(t, "r-1", baseNow.Add(tt.untilStart), 1, models.PaymentConfirmed)
			env.scheduler.On("Cancel", ctx, "expire:r-1").Return(nil)
			if tt.wantRefund {
				env.gateway.On("CreateRefund", ctx, "txn-r-1").Return(nil).Once()
			}

			res, err := env.reservationService().CancelReservation(ctx, env.player.ID, r.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.FinalStatus)
			assert.Equal(t, tt.wantMessage, res.Message)
			assert.Equal(t, tt.wantStatus, env.reload(t, r.ID).StatusPayment)

			if tt.wantRefund {
				env.gateway.AssertNumberOfCalls(t, "CreateRefund", 1)
				assert.Equal(t, []string{events.EventReservationRefunded}, env.events.types())
			} else {
				env.gateway.AssertNotCalled(t, "CreateRefund", ctx, "txn-r-1")
				assert.Equal(t, []string{events.EventReservationCancelled}, env.events.types())
			}
		})
	}
}

func TestCancelReservation_RefundFailureStillCancels(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.insertReservation(t, "r-1", baseNow.Add(48*time.Hour), 1, models.PaymentConfirmed)
	env.scheduler.On("Cancel", ctx, "expire:r-1").Return(nil)
	env.gateway.On("CreateRefund", ctx, "txn-r-1").Return(errors.New("gateway timeout"))

	res, err := env.reservationService().CancelReservation(ctx, env.player.ID, r.ID)
	require.ErrorIs(t, err, ErrRefundFailed)
	assert.Contains(t, err.Error(), "gateway timeout")
	require.NotNil(t, res)
	assert.Equal(t, models.PaymentCancelled, res.FinalStatus)
	assert.Equal(t, models.PaymentCancelled, env.reload(t, r.ID).StatusPayment)
}

func TestCancelReservation_TransactionMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.insertReservation(t, "r-1", baseNow.Add(48*time.Hour), 1, models.PaymentConfirmed)

	// drop the transaction id behind the engine's back
	_, err := env.db.ExecContext(ctx, `UPDATE reservations SET payment_transaction_id = NULL WHERE id = ?`, r.ID)
	require.NoError(t, err)
	env.scheduler.On("Cancel", ctx, "expire:r-1").Return(nil)

	_, err = env.reservationService().CancelReservation(ctx, env.player.ID, r.ID)
	assert.ErrorIs(t, err, ErrTransactionMissing)
	assert.Equal(t, models.PaymentConfirmed, env.reload(t, r.ID).StatusPayment)
}

func TestCancelReservation_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.reservationService()
	cancelled := env.insertReservation(t, "r-c", baseNow.Add(30*time.Hour), 1, models.PaymentCancelled)
	refunded := env.insertReservation(t, "r-r", baseNow.Add(40*time.Hour), 1, models.PaymentRefunded)
	pending := env.insertReservation(t, "r-p", baseNow.Add(50*time.Hour), 1, models.PaymentPending)

	_, err := svc.CancelReservation(ctx, env.player.ID, cancelled.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	_, err = svc.CancelReservation(ctx, env.player.ID, refunded.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	_, err = svc.CancelReservation(ctx, env.owner.ID, pending.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = svc.CancelReservation(ctx, env.player.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	env.scheduler.AssertNotCalled(t, "Cancel", ctx, "expire:r-p")
}

func TestCancelReservation_JobCancelFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.insertReservation(t, "r-1", baseNow.Add(30*time.Hour), 1, models.PaymentPending)
	env.scheduler.On("Cancel", ctx, "expire:r-1").Return(errors.New("redis down"))

	res, err := env.reservationService().CancelReservation(ctx, env.player.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCancelled, res.FinalStatus)
}

func TestCancelReservation_SettledDuringRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.insertReservation(t, "r-1", baseNow.Add(48*time.Hour), 2, models.PaymentConfirmed)
	env.scheduler.On("Cancel", ctx, "expire:r-1").Return(nil)
	env.gateway.On("MakePayout", ctx, mock.Anything).
		Return(&domain.PayoutResult{TransactionID: "po-1", Status: domain.TxnApproved}, nil).Once()

	// settlement records the payout while the refund call is in flight
	env.gateway.On("CreateRefund", ctx, "txn-r-1").Run(func(mock.Arguments) {
		require.NoError(t, env.settlementService().SettleReservation(ctx, r.ID))
	}).Return(nil).Once()

	res, err := env.reservationService().CancelReservation(ctx, env.player.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, res.FinalStatus)

	stored := env.reload(t, r.ID)
	assert.Equal(t, models.PaymentRefunded, stored.StatusPayment)
	assert.Equal(t, models.PayoutSuccess, stored.StatusPayout, "payout must not move back to PENDING")
	require.NotNil(t, stored.PayoutTransactionID)
	assert.Equal(t, "po-1", *stored.PayoutTransactionID)
	require.NotNil(t, stored.NetPayoutAmount)
	assert.Equal(t, int64(190), *stored.NetPayoutAmount)
	require.NotNil(t, stored.SystemFeeAmount)
	assert.Equal(t, int64(10), *stored.SystemFeeAmount)
}

func TestCancelReservation_ConcurrentCancelAfterRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.insertReservation(t, "r-1", baseNow.Add(48*time.Hour), 1, models.PaymentConfirmed)
	env.scheduler.On("Cancel", ctx, "expire:r-1").Return(nil)

	// a second cancellation lands while the first one waits on the refund
	env.gateway.On("CreateRefund", ctx, "txn-r-1").Run(func(mock.Arguments) {
		stored := env.reload(t, r.ID)
		cancelled, err := models.TransitionPayment(*stored, models.PaymentCancelled, env.clock.Now())
		require.NoError(t, err)
		require.NoError(t, env.db.UpdateReservationIfStatus(ctx, &cancelled, models.PaymentConfirmed))
	}).Return(nil).Once()

	_, err := env.reservationService().CancelReservation(ctx, env.player.ID, r.ID)
	require.ErrorIs(t, err, ErrStateChanged)
	assert.Equal(t, models.PaymentCancelled, env.reload(t, r.ID).StatusPayment)
}
