package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"quadra/internal/domain"
	"quadra/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisScheduler(t *testing.T) (*RedisScheduler, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zerolog.New(io.Discard)
	return NewRedisScheduler(client, 10*time.Millisecond, &logger), s
}

func expireJob(id string) domain.Job {
	return domain.Job{Type: domain.JobTypeExpireReservation, ReservationID: id, ExpectedStatus: models.PaymentPending}
}

func TestRedisScheduler_ScheduleCancel(t *testing.T) {
	sched, _ := newRedisScheduler(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return base }

	key := models.ExpirationJobKey("r1")
	require.NoError(t, sched.Schedule(ctx, key, expireJob("r1"), 5*time.Minute))

	due, ok, err := sched.DueAt(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, base.Add(5*time.Minute).Equal(due))

	t.Run("RescheduleOverwrites", func(t *testing.T) {
		require.NoError(t, sched.Schedule(ctx, key, expireJob("r1"), 10*time.Minute))
		due, ok, err := sched.DueAt(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, base.Add(10*time.Minute).Equal(due))

		n, err := sched.client.ZCard(ctx, sched.dueKey).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("CancelIsIdempotent", func(t *testing.T) {
		require.NoError(t, sched.Cancel(ctx, key))
		require.NoError(t, sched.Cancel(ctx, key))
		require.NoError(t, sched.Cancel(ctx, "expire:never-scheduled"))

		_, ok, err := sched.DueAt(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRedisScheduler_Poll(t *testing.T) {
	sched, _ := newRedisScheduler(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return base }

	require.NoError(t, sched.Schedule(ctx, "expire:due", expireJob("due"), -time.Second))
	require.NoError(t, sched.Schedule(ctx, "expire:later", expireJob("later"), time.Hour))

	var got []string
	handler := func(_ context.Context, job domain.Job) error {
		got = append(got, job.ReservationID)
		return nil
	}

	n, err := sched.poll(ctx, handler)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"due"}, got)

	// claimed jobs never fire twice
	n, err = sched.poll(ctx, handler)
	require.NoError(t, err)
	assert.Zero(t, n)

	sched.now = func() time.Time { return base.Add(2 * time.Hour) }
	n, err = sched.poll(ctx, handler)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"due", "later"}, got)
}

func TestRedisScheduler_HandlerErrorReschedules(t *testing.T) {
	sched, _ := newRedisScheduler(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return base }

	require.NoError(t, sched.Schedule(ctx, "expire:r1", expireJob("r1"), 0))
	_, err := sched.poll(ctx, func(context.Context, domain.Job) error { return errors.New("db locked") })
	require.NoError(t, err)

	due, ok, err := sched.DueAt(ctx, "expire:r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, base.Add(sched.retryDelay).Equal(due))
}

func TestRedisScheduler_Run(t *testing.T) {
	sched, _ := newRedisScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan domain.Job, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx, func(_ context.Context, job domain.Job) error {
			fired <- job
			return nil
		})
	}()

	require.NoError(t, sched.Schedule(ctx, "expire:r2", expireJob("r2"), 0))

	select {
	case job := <-fired:
		assert.Equal(t, "r2", job.ReservationID)
		assert.Equal(t, models.PaymentPending, job.ExpectedStatus)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
	}

	cancel()
	<-done
}

func TestRedisScheduler_ConnectionError(t *testing.T) {
	sched, s := newRedisScheduler(t)
	s.Close()

	err := sched.Schedule(context.Background(), "expire:x", expireJob("x"), time.Minute)
	assert.Error(t, err)
	assert.Error(t, sched.Cancel(context.Background(), "expire:x"))
}

func TestRedisScheduler_NilClient(t *testing.T) {
	logger := zerolog.Nop()
	sched := NewRedisScheduler(nil, 0, &logger)
	assert.Error(t, sched.Schedule(context.Background(), "k", domain.Job{}, 0))
	assert.Error(t, sched.Cancel(context.Background(), "k"))
}

