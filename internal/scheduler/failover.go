package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"quadra/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverScheduler prefers the primary (Redis) and arms jobs in the
// fallback (memory) while the primary is failing. The primary is retried
// once per recoveryInterval.
type FailoverScheduler struct {
	primary   Runner
	fallback  Runner
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverScheduler(primary, fallback Runner, logger *zerolog.Logger) *FailoverScheduler {
	return &FailoverScheduler{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *FailoverScheduler) markDown(err error) {
	if !s.isDown.Swap(true) {
		s.logger.Error().Err(err).Msg("Primary scheduler failed, falling back to memory")
	}
	s.lastCheck.Store(s.now().UnixNano())
}

func (s *FailoverScheduler) usePrimary() bool {
	if !s.isDown.Load() {
		return true
	}
	return s.now().Sub(time.Unix(0, s.lastCheck.Load())) > recoveryInterval
}

func (s *FailoverScheduler) Schedule(ctx context.Context, key string, job domain.Job, delay time.Duration) error {
	if s.usePrimary() {
		err := s.primary.Schedule(ctx, key, job, delay)
		if err == nil {
			if s.isDown.Swap(false) {
				s.logger.Info().Msg("Primary scheduler recovered")
			}
			// a stale copy may have been armed while the primary was down
			_ = s.fallback.Cancel(ctx, key)
			return nil
		}
		s.markDown(err)
	}
	return s.fallback.Schedule(ctx, key, job, delay)
}

// Cancel removes key from both backends since it may be armed in either.
func (s *FailoverScheduler) Cancel(ctx context.Context, key string) error {
	fallbackErr := s.fallback.Cancel(ctx, key)
	if !s.usePrimary() {
		return fallbackErr
	}
	if err := s.primary.Cancel(ctx, key); err != nil {
		s.markDown(err)
		return errors.Join(err, fallbackErr)
	}
	return fallbackErr
}

// Run dispatches jobs from both backends until ctx is done.
func (s *FailoverScheduler) Run(ctx context.Context, handler domain.JobHandler) error {
	var (
		wg   sync.WaitGroup
		errs [2]error
	)
	for i, r := range []Runner{s.primary, s.fallback} {
		wg.Add(1)
		go func(i int, r Runner) {
			defer wg.Done()
			errs[i] = r.Run(ctx, handler)
		}(i, r)
	}
	wg.Wait()
	return errors.Join(errs[0], errs[1])
}
