package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"quadra/internal/clock"
	"quadra/internal/config"
	"quadra/internal/metrics"
	"quadra/internal/report"
	"quadra/internal/service"

	"github.com/rs/zerolog"
)

const (
	webhookPath = "/api/v1/webhooks/payment"
	healthPath  = "/healthz"
)

// Services are the use cases the HTTP surface exposes.
type Services struct {
	Reservations *service.ReservationService
	Webhooks     *service.WebhookReconciler
	Settlement   *service.SettlementService
	Reports      *report.Builder
	Clock        clock.Clock
}

// HTTPServer is the public JSON API of the reservation engine.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	auth   *HTTPAuth
	server *http.Server
	logger *zerolog.Logger
	stop   context.CancelFunc
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	if svc.Clock == nil {
		svc.Clock = clock.System{}
	}
	l := logger.With().Str("component", "http").Logger()
	srv := &HTTPServer{cfg: cfg, svc: svc, logger: &l}
	srv.auth = NewHTTPAuth(cfg, webhookPath, healthPath)

	mux := http.NewServeMux()
	srv.route(mux, "POST /api/v1/reservations", "create_reservation", srv.handleCreateReservation)
	srv.route(mux, "GET /api/v1/reservations/{id}", "get_reservation", srv.handleGetReservation)
	srv.route(mux, "POST /api/v1/reservations/{id}/cancel", "cancel_reservation", srv.handleCancelReservation)
	srv.route(mux, "POST /api/v1/reservations/{id}/payout/retry", "retry_payout", srv.handleRetryPayout)
	srv.route(mux, "POST "+webhookPath, "payment_webhook", srv.handleWebhook)
	srv.route(mux, "GET /api/v1/owners/me/report", "owner_report", srv.handleOwnerReport)
	mux.HandleFunc("GET "+healthPath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	readTimeout := cfg.HTTP.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}
	writeTimeout := cfg.HTTP.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}
	return srv
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	go s.evictLimiters(ctx)

	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) evictLimiters(ctx context.Context) {
	ticker := time.NewTicker(limiterIdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.auth.limiter.evictIdle(); n > 0 {
				s.logger.Debug().Int("evicted", n).Msg("Idle rate limiters dropped")
			}
		}
	}
}

// route registers h under pattern and counts responses per endpoint.
func (s *HTTPServer) route(mux *http.ServeMux, pattern, endpoint string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.IncHTTP(endpoint, strconv.Itoa(rec.status))
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		ev := s.logger.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = s.logger.Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", clientIP(r)).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// writeServiceError logs unexpected failures and maps the rest to client statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, messageFor(err, status))
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
