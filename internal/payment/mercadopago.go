package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"quadra/internal/config"
	"quadra/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// MercadoPagoClient talks to the Mercado Pago REST API.
type MercadoPagoClient struct {
	baseURL    string
	token      string
	currency   string
	notifyURL  string
	successURL string
	cancelURL  string
	httpClient *http.Client
	guard      *guard
	logger     *zerolog.Logger
}

func NewMercadoPagoClient(cfg config.PaymentConfig, logger *zerolog.Logger) *MercadoPagoClient {
	return &MercadoPagoClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.AccessToken,
		currency:   cfg.Currency,
		notifyURL:  cfg.NotificationURL,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		httpClient: &http.Client{},
		guard:      newGuard("mercadopago", cfg, logger),
		logger:     logger,
	}
}

type mpItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type mpPreferenceRequest struct {
	Items             []mpItem          `json:"items"`
	ExternalReference string            `json:"external_reference"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	BackURLs          map[string]string `json:"back_urls,omitempty"`
}

type mpPreferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// amounts are minor units internally and decimal on the wire
func toDecimal(minor int64) float64 {
	return float64(minor) / 100
}

func (c *MercadoPagoClient) CreatePaymentPreference(ctx context.Context, amount int64, description, reservationID string) (*domain.Preference, error) {
	body := mpPreferenceRequest{
		Items: []mpItem{{
			ID:         reservationID,
			Title:      description,
			Quantity:   1,
			UnitPrice:  toDecimal(amount),
			CurrencyID: c.currency,
		}},
		ExternalReference: reservationID,
		NotificationURL:   c.notifyURL,
	}
	if c.successURL != "" || c.cancelURL != "" {
		body.BackURLs = map[string]string{"success": c.successURL, "failure": c.cancelURL}
	}

	res, err := c.guard.do(ctx, "create_preference", func(ctx context.Context) (interface{}, error) {
		var resp mpPreferenceResponse
		if err := c.doJSON(ctx, http.MethodPost, "/checkout/preferences", "", body, &resp); err != nil {
			return nil, err
		}
		return &domain.Preference{ID: resp.ID, InitPoint: resp.InitPoint}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("mercadopago: create preference: %w", err)
	}
	return res.(*domain.Preference), nil
}

type mpPayment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	ExternalReference string      `json:"external_reference"`
}

func (c *MercadoPagoClient) FetchTransactionDetails(ctx context.Context, notificationID string) (*domain.Transaction, error) {
	res, err := c.guard.do(ctx, "fetch_transaction", func(ctx context.Context) (interface{}, error) {
		var p mpPayment
		if err := c.doJSON(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(notificationID), "", nil, &p); err != nil {
			return nil, err
		}
		return &domain.Transaction{
			ID:                p.ID.String(),
			ExternalReference: p.ExternalReference,
			Status:            normalizeMercadoPagoStatus(p.Status),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("mercadopago: fetch payment %s: %w", notificationID, err)
	}
	return res.(*domain.Transaction), nil
}

func normalizeMercadoPagoStatus(status string) string {
	switch strings.ToLower(status) {
	case "approved":
		return domain.TxnApproved
	case "rejected", "cancelled":
		return domain.TxnRejected
	case "pending", "in_process", "authorized":
		return domain.TxnPending
	default:
		return strings.ToLower(status)
	}
}

// Payouts report their own vocabulary; an unknown status is kept as is and
// treated as accepted.
func normalizeMercadoPagoPayoutStatus(status string) string {
	switch strings.ToLower(status) {
	case "approved", "processed", "completed", "paid":
		return domain.TxnApproved
	case "rejected", "failed", "cancelled", "canceled", "returned":
		return domain.TxnRejected
	case "pending", "in_process", "in_progress":
		return domain.TxnPending
	default:
		return strings.ToLower(status)
	}
}

func (c *MercadoPagoClient) CreateRefund(ctx context.Context, transactionID string) error {
	// one key per refund intent; a retried HTTP call inside the same intent reuses it
	key := "refund-" + transactionID
	_, err := c.guard.do(ctx, "refund", func(ctx context.Context) (interface{}, error) {
		return nil, c.doJSON(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(transactionID)+"/refunds", key, struct{}{}, nil)
	})
	if err != nil {
		return fmt.Errorf("mercadopago: refund %s: %w", transactionID, err)
	}
	return nil
}

type mpPayoutRequest struct {
	Amount            float64 `json:"amount"`
	CurrencyID        string  `json:"currency_id"`
	ReceiverID        string  `json:"receiver_id"`
	Description       string  `json:"description"`
	ExternalReference string  `json:"external_reference,omitempty"`
}

type mpPayoutResponse struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
}

func (c *MercadoPagoClient) MakePayout(ctx context.Context, req domain.PayoutRequest) (*domain.PayoutResult, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	body := mpPayoutRequest{
		Amount:            toDecimal(req.Amount),
		CurrencyID:        c.currency,
		ReceiverID:        req.Destination,
		Description:       req.Description,
		ExternalReference: key,
	}

	res, err := c.guard.do(ctx, "payout", func(ctx context.Context) (interface{}, error) {
		var resp mpPayoutResponse
		if err := c.doJSON(ctx, http.MethodPost, "/v1/payouts", key, body, &resp); err != nil {
			return nil, err
		}
		if resp.ID == "" {
			return nil, errors.New("payout response has no id")
		}
		return &domain.PayoutResult{TransactionID: resp.ID.String(), Status: normalizeMercadoPagoPayoutStatus(resp.Status)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("mercadopago: payout to %s: %w", req.Destination, err)
	}
	return res.(*domain.PayoutResult), nil
}

func (c *MercadoPagoClient) doJSON(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// ParseNotificationID accepts numeric and string ids as sent by the gateway.
func ParseNotificationID(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
