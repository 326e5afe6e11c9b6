package scheduler

import (
	"context"

	"quadra/internal/domain"
)

// Runner is a Scheduler that also dispatches fired jobs to a handler until
// ctx is cancelled.
type Runner interface {
	domain.Scheduler
	Run(ctx context.Context, handler domain.JobHandler) error
}
