package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quadra/internal/clock"
	"quadra/internal/models"
	"quadra/internal/payment"
	"quadra/internal/report"
	"quadra/internal/service"
)

const maxWebhookBody = 64 << 10

type createReservationRequest struct {
	CourtID   string `json:"court_id"`
	StartTime string `json:"start_time"`
	Duration  int    `json:"duration"`
}

type createReservationResponse struct {
	Reservation  *models.Reservation `json:"reservation"`
	PaymentLink  string              `json:"payment_link"`
	PreferenceID string              `json:"preference_id,omitempty"`
}

func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var body createReservationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	body.CourtID = strings.TrimSpace(body.CourtID)
	if body.CourtID == "" {
		writeError(w, http.StatusBadRequest, "court_id is required")
		return
	}
	start, err := clock.Parse(body.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_time; expected RFC3339")
		return
	}

	res, err := s.svc.Reservations.CreateReservation(r.Context(), service.CreateReservationRequest{
		RequesterID: userID,
		CourtID:     body.CourtID,
		StartTime:   start,
		Duration:    body.Duration,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createReservationResponse{
		Reservation:  res.Reservation,
		PaymentLink:  res.PaymentLink,
		PreferenceID: res.PreferenceID,
	})
}

func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	res, err := s.svc.Reservations.GetReservation(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	res, err := s.svc.Reservations.CancelReservation(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		// the cancellation is persisted even when the refund call failed
		if res != nil && errors.Is(err, service.ErrRefundFailed) {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"message":      res.Message,
				"final_status": res.FinalStatus,
				"error":        service.ErrRefundFailed.Error(),
			})
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleRetryPayout(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	res, err := s.svc.Settlement.RetryFailedPayout(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// handleWebhook always answers 200 so the gateway does not redeliver
// notifications the engine has already judged.
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	n := parseNotification(r)
	outcome := s.svc.Webhooks.Reconcile(r.Context(), n)
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// parseNotification reads topic and id from the query string, falling back
// to the JSON body. Query values win.
func parseNotification(r *http.Request) service.Notification {
	q := r.URL.Query()
	n := service.Notification{
		Topic:          payment.NotificationTopic(firstNonEmpty(q.Get("topic"), q.Get("type"))),
		NotificationID: firstNonEmpty(q.Get("id"), q.Get("data.id")),
	}
	if n.Topic != "" && n.NotificationID != "" {
		return n
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return n
	}
	var body struct {
		Topic string `json:"topic"`
		Type  string `json:"type"`
		ID    any    `json:"id"`
		Data  struct {
			ID     any `json:"id"`
			Object struct {
				ID any `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		return n
	}

	if n.Topic == "" {
		n.Topic = payment.NotificationTopic(firstNonEmpty(body.Topic, body.Type))
	}
	if n.NotificationID == "" {
		n.NotificationID = firstNonEmpty(
			payment.ParseNotificationID(body.Data.ID),
			payment.ParseNotificationID(body.Data.Object.ID),
			payment.ParseNotificationID(body.ID),
		)
	}
	return n
}

func (s *HTTPServer) handleOwnerReport(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	from, to, err := reportPeriod(r, s.svc.Clock.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := s.svc.Reports.Build(r.Context(), userID, r.URL.Query().Get("owner"), from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteXLSX(rep, &buf); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rep.FileName()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// reportPeriod reads from/to as YYYY-MM-DD; the default is the current month.
// The to date is inclusive.
func reportPeriod(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	if v := strings.TrimSpace(q.Get("from")); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date format; expected YYYY-MM-DD")
		}
		from = d
		if q.Get("to") == "" {
			to = from.AddDate(0, 1, 0)
		}
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date format; expected YYYY-MM-DD")
		}
		to = d.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
