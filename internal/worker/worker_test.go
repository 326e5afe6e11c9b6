package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"quadra/internal/clock"
	"quadra/internal/database"
	"quadra/internal/events"
	"quadra/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeSettler struct {
	mu       sync.Mutex
	settled  []string
	resumed  []string
	failures int
}

func (f *fakeSettler) SettleReservation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled = append(f.settled, id)
	if f.failures > 0 {
		f.failures--
		return errors.New("gateway unavailable")
	}
	return nil
}

func (f *fakeSettler) ResumeFailedPayout(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeSettler) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.settled)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func newTestWorker(t *testing.T, db *database.DB, settler Settler, client *redis.Client) *SettlementWorker {
	t.Helper()
	logger := zerolog.New(io.Discard)
	return NewSettlementWorker(db, settler, client, RetryPolicy{MaxRetries: 3, InitialDelay: time.Minute}, &logger)
}

func TestEnqueueAndProcessSuccess(t *testing.T) {
	db := newTestDB(t)
	settler := &fakeSettler{}
	w := newTestWorker(t, db, settler, nil)
	ctx := context.Background()

	if err := w.Enqueue(ctx, "r-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// an open job is not duplicated
	if err := w.Enqueue(ctx, "r-1"); err != nil {
		t.Fatalf("enqueue again: %v", err)
	}

	job, ok := w.tryLocalQueue()
	if !ok {
		t.Fatalf("expected job in local queue")
	}
	if _, ok := w.tryLocalQueue(); ok {
		t.Fatalf("expected a single queued job")
	}
	w.processJob(ctx, &job)

	stored, err := db.GetPayoutJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != models.JobStatusCompleted {
		t.Fatalf("expected status=completed, got %s", stored.Status)
	}
	if stored.ProcessedAt == nil {
		t.Fatalf("expected processed_at to be set")
	}
	if settler.calls() != 1 {
		t.Fatalf("expected one settlement, got %d", settler.calls())
	}

	// a duplicate delivery of a completed job is dropped
	w.processJob(ctx, &job)
	if settler.calls() != 1 {
		t.Fatalf("completed job was settled again")
	}
}

func TestProcessRetryThenDeadLetter(t *testing.T) {
	db := newTestDB(t)
	client, mr := newTestRedis(t)
	settler := &fakeSettler{failures: 10}
	w := newTestWorker(t, db, settler, client)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if err := w.Enqueue(ctx, "r-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, ok := w.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected job in redis queue")
	}

	w.processJob(ctx, &job)
	stored, _ := db.GetPayoutJob(ctx, job.ID)
	if stored.Status != models.JobStatusRetry || stored.RetryCount != 1 {
		t.Fatalf("expected retry #1, got %s/%d", stored.Status, stored.RetryCount)
	}
	if stored.NextRetryAt == nil || !stored.NextRetryAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected next_retry_at %v", stored.NextRetryAt)
	}
	if stored.LastError == nil || *stored.LastError != "gateway unavailable" {
		t.Fatalf("unexpected last_error %v", stored.LastError)
	}

	// not due yet
	w.processJob(ctx, stored)
	if settler.calls() != 1 {
		t.Fatalf("retry ran before its time")
	}

	now = now.Add(time.Minute)
	w.processJob(ctx, stored)
	stored, _ = db.GetPayoutJob(ctx, job.ID)
	if stored.Status != models.JobStatusRetry || stored.RetryCount != 2 {
		t.Fatalf("expected retry #2, got %s/%d", stored.Status, stored.RetryCount)
	}
	if len(settler.resumed) != 1 {
		t.Fatalf("expected failed payout to be resumed before retry, got %d", len(settler.resumed))
	}

	now = now.Add(time.Hour)
	w.processJob(ctx, stored)
	stored, _ = db.GetPayoutJob(ctx, job.ID)
	if stored.Status != models.JobStatusFailed {
		t.Fatalf("expected failed after retries exhausted, got %s", stored.Status)
	}

	dead, err := mr.List(PayoutDeadLetterKey)
	if err != nil {
		t.Fatalf("deadletter list: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(dead))
	}
	var deadJob models.PayoutJob
	if err := json.Unmarshal([]byte(dead[0]), &deadJob); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if deadJob.ReservationID != "r-1" {
		t.Fatalf("unexpected dead letter %+v", deadJob)
	}
}

func TestRedisFailureFallsBackToMemory(t *testing.T) {
	db := newTestDB(t)
	client, mr := newTestRedis(t)
	w := newTestWorker(t, db, &fakeSettler{}, client)
	mr.Close()

	if err := w.Enqueue(context.Background(), "r-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := w.tryLocalQueue(); !ok {
		t.Fatalf("expected fallback to local queue")
	}
}

func TestStartDrainsPolledJobs(t *testing.T) {
	db := newTestDB(t)
	settler := &fakeSettler{}
	w := newTestWorker(t, db, settler, nil)
	w.pollInterval = 10 * time.Millisecond

	// persisted but never handed over, as after a restart
	if _, _, err := db.CreatePayoutJob(context.Background(), "r-1"); err != nil {
		t.Fatalf("create job: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for settler.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if settler.calls() != 1 {
		t.Fatalf("expected polled job to be settled once, got %d", settler.calls())
	}
}

func TestSettlementSchedulerScan(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	settler := &fakeSettler{}
	w := newTestWorker(t, db, settler, nil)
	logger := zerolog.New(io.Discard)

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	court := &models.Court{ID: "c", OwnerID: "o", Name: "C", PriceHour: 100, OpenTime: "08:00", CloseTime: "22:00", IsActive: true}
	if err := db.UpsertCourt(ctx, court); err != nil {
		t.Fatalf("court: %v", err)
	}
	insert := func(id string, start time.Time, confirm bool) {
		r := models.NewReservation(id, court, "p", start, 1, base, 5*time.Minute)
		if confirm {
			var err error
			if r, err = models.ConfirmPayment(r, "txn-"+id, base); err != nil {
				t.Fatalf("confirm: %v", err)
			}
		}
		if err := db.CreateReservation(ctx, &r); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	insert("played", base.Add(-3*time.Hour), true)
	insert("upcoming", base.Add(3*time.Hour), true)
	insert("unpaid", base.Add(-5*time.Hour), false)

	s := NewSettlementScheduler(db, w, clock.NewManual(base), time.Hour, &logger)
	n, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 queued payout, got %d", n)
	}
	job, ok := w.tryLocalQueue()
	if !ok || job.ReservationID != "played" {
		t.Fatalf("expected job for played reservation, got %+v", job)
	}
}

func TestOnConfirmed(t *testing.T) {
	db := newTestDB(t)
	w := newTestWorker(t, db, &fakeSettler{}, nil)
	logger := zerolog.New(io.Discard)

	bus := events.NewEventBus()
	bus.Subscribe(events.EventReservationConfirmed, OnConfirmed(w, &logger))
	if err := bus.PublishJSON(events.EventReservationConfirmed, events.ReservationEventPayload{ReservationID: "r-9"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	job, ok := w.tryLocalQueue()
	if !ok || job.ReservationID != "r-9" {
		t.Fatalf("expected payout job for r-9, got %+v", job)
	}
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}.withDefaults()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := p.NextDelay(i + 1); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
	if p.MaxRetries != 5 {
		t.Fatalf("expected default max retries 5, got %d", p.MaxRetries)
	}
	if !p.Exhausted(5) || p.Exhausted(4) {
		t.Fatalf("unexpected exhaustion boundary")
	}
}
