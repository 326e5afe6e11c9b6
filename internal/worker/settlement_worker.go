package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quadra/internal/domain"
	"quadra/internal/metrics"
	"quadra/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	PayoutQueueKey      = "payouts:queue"
	PayoutDeadLetterKey = "payouts:deadletter"

	jobTypePayout = "payout"
)

// Settler pays out one reservation. Returning an error asks for a retry.
// A failed attempt leaves the payout FAILED, so a retry resumes it first.
type Settler interface {
	SettleReservation(ctx context.Context, reservationID string) error
	ResumeFailedPayout(ctx context.Context, reservationID string) error
}

// SettlementWorker delivers payout jobs at least once. Jobs are persisted
// first, then handed over through Redis or a local channel; the database
// poll picks up whatever both of those lose.
type SettlementWorker struct {
	jobs          domain.PayoutJobStore
	settler       Settler
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.PayoutJob
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	now           func() time.Time
	logger        *zerolog.Logger
}

func NewSettlementWorker(jobs domain.PayoutJobStore, settler Settler, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SettlementWorker {
	return &SettlementWorker{
		jobs:          jobs,
		settler:       settler,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan models.PayoutJob, models.WorkerQueueSize),
		redisQueueKey: PayoutQueueKey,
		deadLetterKey: PayoutDeadLetterKey,
		pollInterval:  2 * time.Second,
		batchSize:     20,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger,
	}
}

// Enqueue implements domain.PayoutQueue. A reservation with an open job is
// not queued twice.
func (w *SettlementWorker) Enqueue(ctx context.Context, reservationID string) error {
	if reservationID == "" {
		return errors.New("reservation id is required")
	}

	job, created, err := w.jobs.CreatePayoutJob(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("persist payout job: %w", err)
	}
	if !created {
		w.logger.Debug().Str("reservation_id", reservationID).Int64("job_id", job.ID).Msg("Payout job already open")
		return nil
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, job); err != nil {
			w.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("Redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- *job:
	default:
		w.logger.Warn().Int64("job_id", job.ID).Msg("In-memory queue full, job left to polling")
	}
	return nil
}

// Start runs the main loop until ctx is done.
func (w *SettlementWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Settlement worker started")
	defer w.logger.Info().Msg("Settlement worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if j, ok := w.tryLocalQueue(); ok {
			w.processJob(ctx, &j)
			continue
		}

		if j, ok := w.tryRedis(ctx); ok {
			w.processJob(ctx, &j)
			continue
		}

		jobs, err := w.jobs.GetPendingPayoutJobs(ctx, w.now(), w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to fetch pending payout jobs")
			w.sleep(ctx)
			continue
		}
		if len(jobs) == 0 {
			w.sleep(ctx)
			continue
		}
		for i := range jobs {
			w.processJob(ctx, &jobs[i])
		}
	}
}

func (w *SettlementWorker) sleep(ctx context.Context) {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *SettlementWorker) tryLocalQueue() (models.PayoutJob, bool) {
	select {
	case j := <-w.queue:
		return j, true
	default:
		return models.PayoutJob{}, false
	}
}

func (w *SettlementWorker) tryRedis(ctx context.Context) (models.PayoutJob, bool) {
	if w.redis == nil {
		return models.PayoutJob{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error().Err(err).Msg("Redis BRPOP error")
		}
		return models.PayoutJob{}, false
	}
	if len(res) != 2 {
		return models.PayoutJob{}, false
	}
	var job models.PayoutJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode payout job from redis")
		return models.PayoutJob{}, false
	}
	return job, true
}

// processJob re-reads the job so a copy delivered by both Redis and the poll
// runs once, and a retry is not attempted before its time.
func (w *SettlementWorker) processJob(ctx context.Context, job *models.PayoutJob) {
	current, err := w.jobs.GetPayoutJob(ctx, job.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to reload payout job")
		return
	}
	switch current.Status {
	case models.JobStatusPending:
	case models.JobStatusRetry:
		if current.NextRetryAt != nil && current.NextRetryAt.After(w.now()) {
			return
		}
	default:
		return
	}

	log := w.logger.With().Int64("job_id", current.ID).Str("reservation_id", current.ReservationID).Logger()

	if current.Status == models.JobStatusRetry {
		if err := w.settler.ResumeFailedPayout(ctx, current.ReservationID); err != nil {
			w.retryOrFail(ctx, &log, current, err)
			return
		}
	}

	if err := w.settler.SettleReservation(ctx, current.ReservationID); err != nil {
		metrics.IncJob(jobTypePayout, "error")
		w.retryOrFail(ctx, &log, current, err)
		return
	}

	metrics.IncJob(jobTypePayout, "completed")
	if err := w.jobs.UpdatePayoutJobStatus(ctx, current.ID, models.JobStatusCompleted, "", nil); err != nil {
		log.Error().Err(err).Msg("Failed to mark payout job completed")
	}
}

func (w *SettlementWorker) retryOrFail(ctx context.Context, log *zerolog.Logger, job *models.PayoutJob, cause error) {
	attempt := job.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		log.Error().Err(cause).Int("attempt", attempt).Msg("Payout job exhausted retries")
		if err := w.jobs.UpdatePayoutJobStatus(ctx, job.ID, models.JobStatusFailed, cause.Error(), nil); err != nil {
			log.Error().Err(err).Msg("Failed to mark payout job failed")
		}
		w.pushDeadLetter(ctx, log, job)
		return
	}

	next := w.now().Add(w.retryPolicy.NextDelay(attempt))
	log.Warn().Err(cause).Int("attempt", attempt).Time("next_retry_at", next).Msg("Payout job will be retried")
	if err := w.jobs.UpdatePayoutJobStatus(ctx, job.ID, models.JobStatusRetry, cause.Error(), &next); err != nil {
		log.Error().Err(err).Msg("Failed to mark payout job for retry")
	}
}

func (w *SettlementWorker) pushRedis(ctx context.Context, key string, job *models.PayoutJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *SettlementWorker) pushDeadLetter(ctx context.Context, log *zerolog.Logger, job *models.PayoutJob) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, w.deadLetterKey, job); err != nil {
		log.Error().Err(err).Msg("Dead letter push failed")
	}
}
