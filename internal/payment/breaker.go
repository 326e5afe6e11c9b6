package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quadra/internal/config"
	"quadra/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// guard bounds every gateway call with a timeout and trips a circuit
// breaker after repeated failures. A timeout counts as a failure.
type guard struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func newGuard(name string, cfg config.PaymentConfig, logger *zerolog.Logger) *guard {
	bc := cfg.Breaker
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Payment gateway circuit breaker state changed")
		},
	})
	return &guard{cb: cb, timeout: cfg.Timeout}
}

func (g *guard) do(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()
	res, err := g.cb.Execute(func() (interface{}, error) {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		return fn(callCtx)
	})

	result := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "rejected"
		err = fmt.Errorf("%s: %w: %v", op, ErrGatewayUnavailable, err)
	case err != nil:
		result = "error"
	}
	metrics.ObserveGateway(op, result, time.Since(start).Seconds())
	return res, err
}
