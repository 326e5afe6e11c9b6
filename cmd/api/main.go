package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"quadra/internal/api"
	"quadra/internal/clock"
	"quadra/internal/config"
	"quadra/internal/database"
	"quadra/internal/domain"
	"quadra/internal/events"
	"quadra/internal/logging"
	"quadra/internal/metrics"
	"quadra/internal/payment"
	"quadra/internal/report"
	"quadra/internal/scheduler"
	"quadra/internal/service"
	"quadra/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	gateway, err := payment.New(cfg.Payment, logging.Component(logger, "payment"))
	if err != nil {
		return fmt.Errorf("init payment gateway: %w", err)
	}

	bus := initEventBus(cfg, logger)
	if bus.amqp != nil {
		defer bus.amqp.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, logger)

	clk := clock.System{}
	sched := initScheduler(cfg, redisClient, logger)

	reservations := service.NewReservationService(db, db, gateway, sched, bus, clk, service.ReservationOptions{
		GracePeriod:       cfg.Booking.PaymentGracePeriod,
		RefundWindowHours: cfg.Booking.RefundWindowHours,
	}, logging.Component(logger, "reservations"))
	expirations := service.NewExpirationHandler(db, bus, clk, logging.Component(logger, "expiration"))
	webhooks := service.NewWebhookReconciler(db, gateway, sched, bus, clk, logging.Component(logger, "webhook"))

	fees := service.NewFeeCalculator(cfg.Settlement.FeeRateBasisPoints)
	settlement := service.NewSettlementService(db, db, gateway, fees, bus, clk, logging.Component(logger, "settlement"))
	payouts := worker.NewSettlementWorker(db, settlement, redisClient,
		worker.RetryPolicyFromConfig(cfg.Settlement.Retry), logging.Component(logger, "payout-worker"))
	settlement.SetPayoutQueue(payouts)
	if cfg.Settlement.Trigger == config.TriggerOnConfirm {
		bus.Subscribe(events.EventReservationConfirmed, worker.OnConfirmed(payouts, logger))
	}
	settlementScheduler := worker.NewSettlementScheduler(db, payouts, clk, cfg.Settlement.ScanInterval,
		logging.Component(logger, "settlement-scheduler"))

	backup := database.NewBackupService(db, cfg.Database.Path, cfg.Backup, logging.Component(logger, "backup"))

	var wg sync.WaitGroup
	goBackground := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			logger.Debug().Str("task", name).Msg("background task stopped")
		}()
	}

	goBackground("scheduler", func(ctx context.Context) {
		if err := sched.Run(ctx, expirations.HandleJob); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("scheduler stopped")
		}
	})
	goBackground("expiration-sweep", func(ctx context.Context) {
		sweepExpired(ctx, expirations, cfg.Booking.SweepInterval, logger)
	})
	goBackground("payout-worker", payouts.Start)
	goBackground("settlement-scheduler", settlementScheduler.Start)
	goBackground("backup", backup.Start)

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Reservations: reservations,
		Webhooks:     webhooks,
		Settlement:   settlement,
		Reports:      report.NewBuilder(db, db, fees, clk, logging.Component(logger, "report")),
		Clock:        clk,
	}, logger)

	err = serve(ctx, httpServer, cfg, logger)
	stop()
	wg.Wait()
	logger.Info().Msg("API server stopped")
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := scheduler.NewRedisClient(cfg.Redis)
	if err := scheduler.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initScheduler prefers Redis with an in-memory fallback; without Redis the
// memory scheduler runs alone and the sweep covers restarts.
func initScheduler(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) scheduler.Runner {
	memory := scheduler.NewMemoryScheduler(logging.Component(logger, "scheduler-memory"))
	if redisClient == nil || cfg.Scheduler.Backend == "memory" {
		logger.Warn().Msg("using in-memory scheduler; pending expirations are recovered by the sweep")
		return memory
	}
	primary := scheduler.NewRedisScheduler(redisClient, cfg.Scheduler.PollInterval, logging.Component(logger, "scheduler-redis"))
	return scheduler.NewFailoverScheduler(primary, memory, logging.Component(logger, "scheduler"))
}

type eventBus struct {
	*events.EventBus
	amqp *events.AMQPPublisher
}

var _ domain.EventPublisher = eventBus{}

func initEventBus(cfg *config.Config, logger *zerolog.Logger) eventBus {
	bus := eventBus{EventBus: events.NewEventBus()}
	bus.OnError(func(event *events.Event, err error) {
		logger.Error().Err(err).Str("event_type", event.Type).Msg("event handler failed")
	})

	if cfg.Events.AMQPURL == "" {
		return bus
	}
	publisher, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unavailable, events stay in-process")
		return bus
	}
	bus.SubscribeAll(publisher.Handler())
	bus.amqp = publisher
	logger.Info().Str("exchange", cfg.Events.Exchange).Msg("rabbitmq event publishing enabled")
	return bus
}

func sweepExpired(ctx context.Context, h *service.ExpirationHandler, interval time.Duration, logger *zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.SweepExpired(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("expiration sweep failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("expired", n).Msg("expiration sweep")
			}
		}
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("http server stopped")
	}

	timeout := cfg.API.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	return serveErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
