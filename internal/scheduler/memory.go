package scheduler

import (
	"context"
	"sync"
	"time"

	"quadra/internal/domain"
	"quadra/internal/metrics"

	"github.com/rs/zerolog"
)

type armed struct {
	timer *time.Timer
	seq   uint64
}

// MemoryScheduler arms in-process timers. Jobs do not survive a restart.
type MemoryScheduler struct {
	mu      sync.Mutex
	timers  map[string]*armed
	seq     uint64
	early   []domain.Job
	handler domain.JobHandler
	ctx     context.Context
	logger  *zerolog.Logger
}

func NewMemoryScheduler(logger *zerolog.Logger) *MemoryScheduler {
	return &MemoryScheduler{
		timers: make(map[string]*armed),
		logger: logger,
	}
}

func (s *MemoryScheduler) Schedule(_ context.Context, key string, job domain.Job, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.timers[key]; ok {
		a.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.timers[key] = &armed{
		seq:   seq,
		timer: time.AfterFunc(delay, func() { s.fire(key, seq, job) }),
	}
	return nil
}

func (s *MemoryScheduler) Cancel(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.timers[key]; ok {
		a.timer.Stop()
		delete(s.timers, key)
	}
	return nil
}

// Pending reports whether a job is armed under key.
func (s *MemoryScheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

func (s *MemoryScheduler) fire(key string, seq uint64, job domain.Job) {
	s.mu.Lock()
	if a, ok := s.timers[key]; !ok || a.seq != seq {
		// replaced or cancelled after the timer already started
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	handler, ctx := s.handler, s.ctx
	if handler == nil {
		s.early = append(s.early, job)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.dispatch(ctx, handler, job)
}

func (s *MemoryScheduler) dispatch(ctx context.Context, handler domain.JobHandler, job domain.Job) {
	if ctx.Err() != nil {
		return
	}
	if err := handler(ctx, job); err != nil {
		metrics.IncJob(job.Type, "error")
		s.logger.Error().Err(err).Str("type", job.Type).Str("reservation_id", job.ReservationID).Msg("Job handler failed")
		return
	}
	metrics.IncJob(job.Type, "ok")
}

func (s *MemoryScheduler) Run(ctx context.Context, handler domain.JobHandler) error {
	s.mu.Lock()
	s.handler, s.ctx = handler, ctx
	early := s.early
	s.early = nil
	s.mu.Unlock()

	for _, job := range early {
		s.dispatch(ctx, handler, job)
	}

	<-ctx.Done()

	s.mu.Lock()
	for key, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, key)
	}
	s.handler = nil
	s.mu.Unlock()
	return nil
}
