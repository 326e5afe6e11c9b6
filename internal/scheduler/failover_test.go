package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"quadra/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Schedule(ctx context.Context, key string, job domain.Job, delay time.Duration) error {
	return m.Called(ctx, key, job, delay).Error(0)
}

func (m *mockRunner) Cancel(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockRunner) Run(ctx context.Context, _ domain.JobHandler) error {
	<-ctx.Done()
	return nil
}

func TestFailoverScheduler(t *testing.T) {
	primary := new(mockRunner)
	fallback := new(mockRunner)
	logger := zerolog.New(io.Discard)
	sched := NewFailoverScheduler(primary, fallback, &logger)
	ctx := context.Background()
	job := expireJob("r1")
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return now }

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Schedule", ctx, "k1", job, time.Minute).Return(nil).Once()
		fallback.On("Cancel", ctx, "k1").Return(nil).Once()

		assert.NoError(t, sched.Schedule(ctx, "k1", job, time.Minute))
		assert.False(t, sched.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Schedule", ctx, "k2", job, time.Minute).Return(errors.New("conn refused")).Once()
		fallback.On("Schedule", ctx, "k2", job, time.Minute).Return(nil).Once()

		assert.NoError(t, sched.Schedule(ctx, "k2", job, time.Minute))
		assert.True(t, sched.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDownSkipsPrimary", func(t *testing.T) {
		fallback.On("Schedule", ctx, "k3", job, time.Minute).Return(nil).Once()
		fallback.On("Cancel", ctx, "k3").Return(nil).Once()

		assert.NoError(t, sched.Schedule(ctx, "k3", job, time.Minute))
		assert.NoError(t, sched.Cancel(ctx, "k3"))
		primary.AssertNotCalled(t, "Schedule", ctx, "k3", job, time.Minute)
		primary.AssertNotCalled(t, "Cancel", ctx, "k3")
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		sched.now = func() time.Time { return now.Add(2 * time.Minute) }
		primary.On("Schedule", ctx, "k4", job, time.Minute).Return(nil).Once()
		fallback.On("Cancel", ctx, "k4").Return(nil).Once()

		assert.NoError(t, sched.Schedule(ctx, "k4", job, time.Minute))
		assert.False(t, sched.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("CancelHitsBoth", func(t *testing.T) {
		primary.On("Cancel", ctx, "k5").Return(errors.New("timeout")).Once()
		fallback.On("Cancel", ctx, "k5").Return(nil).Once()

		err := sched.Cancel(ctx, "k5")
		assert.ErrorContains(t, err, "timeout")
		assert.True(t, sched.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("RunStopsWithContext", func(t *testing.T) {
		runCtx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sched.Run(runCtx, nil) }()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not return")
		}
	})
}
