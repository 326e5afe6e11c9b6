package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quadra/internal/config"
	"quadra/internal/domain"
	"quadra/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultDueKey     = "scheduler:due"
	defaultPayloadKey = "scheduler:jobs"
	defaultBatch      = 100
)

// claimScript pops every due job atomically, so a job fires on exactly one
// poller even when several processes share the Redis instance.
var claimScript = redis.NewScript(`
local keys = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, k in ipairs(keys) do
  redis.call('ZREM', KEYS[1], k)
  local payload = redis.call('HGET', KEYS[2], k)
  redis.call('HDEL', KEYS[2], k)
  if payload then
    table.insert(out, k)
    table.insert(out, payload)
  end
end
return out
`)

// NewRedisClient создает клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// RedisScheduler keeps due times in a sorted set and payloads in a hash.
type RedisScheduler struct {
	client       *redis.Client
	dueKey       string
	payloadKey   string
	pollInterval time.Duration
	retryDelay   time.Duration
	batch        int
	logger       *zerolog.Logger
	now          func() time.Time
}

func NewRedisScheduler(client *redis.Client, pollInterval time.Duration, logger *zerolog.Logger) *RedisScheduler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &RedisScheduler{
		client:       client,
		dueKey:       defaultDueKey,
		payloadKey:   defaultPayloadKey,
		pollInterval: pollInterval,
		retryDelay:   30 * time.Second,
		batch:        defaultBatch,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *RedisScheduler) Schedule(ctx context.Context, key string, job domain.Job, delay time.Duration) error {
	if s.client == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	due := s.now().Add(delay).UnixMilli()

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.payloadKey, key, data)
		p.ZAdd(ctx, s.dueKey, redis.Z{Score: float64(due), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", key, err)
	}
	return nil
}

func (s *RedisScheduler) Cancel(ctx context.Context, key string) error {
	if s.client == nil {
		return errors.New("redis client is nil")
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.dueKey, key)
		p.HDel(ctx, s.payloadKey, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", key, err)
	}
	return nil
}

// DueAt reports when key fires; ok is false when no job is pending under key.
func (s *RedisScheduler) DueAt(ctx context.Context, key string) (time.Time, bool, error) {
	score, err := s.client.ZScore(ctx, s.dueKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)), true, nil
}

func (s *RedisScheduler) Run(ctx context.Context, handler domain.JobHandler) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.logger.Info().Dur("poll_interval", s.pollInterval).Msg("Redis scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Redis scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.poll(ctx, handler); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("Failed to poll due jobs")
			}
		}
	}
}

// poll claims and runs every due job once; it returns how many ran.
func (s *RedisScheduler) poll(ctx context.Context, handler domain.JobHandler) (int, error) {
	res, err := claimScript.Run(ctx, s.client, []string{s.dueKey, s.payloadKey},
		s.now().UnixMilli(), s.batch).StringSlice()
	if err != nil {
		return 0, fmt.Errorf("failed to claim jobs: %w", err)
	}

	ran := 0
	for i := 0; i+1 < len(res); i += 2 {
		key, payload := res[i], res[i+1]

		var job domain.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("Dropping malformed job")
			metrics.IncJob("unknown", "malformed")
			continue
		}

		ran++
		if err := handler(ctx, job); err != nil {
			metrics.IncJob(job.Type, "error")
			s.logger.Error().Err(err).Str("key", key).Str("type", job.Type).
				Dur("retry_in", s.retryDelay).Msg("Job handler failed, rescheduling")
			if rerr := s.Schedule(ctx, key, job, s.retryDelay); rerr != nil {
				s.logger.Error().Err(rerr).Str("key", key).Msg("Failed to reschedule job")
			}
			continue
		}
		metrics.IncJob(job.Type, "ok")
	}
	return ran, nil
}
