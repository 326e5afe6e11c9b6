package payment

import (
	"context"
	"fmt"
	"strings"

	"quadra/internal/config"
	"quadra/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const stripeReservationKey = "reservation_id"

// StripeClient implements the gateway on Stripe Checkout. Webhook
// notifications carry a PaymentIntent id.
type StripeClient struct {
	api        *client.API
	currency   string
	successURL string
	cancelURL  string
	guard      *guard
	logger     *zerolog.Logger
}

func NewStripeClient(cfg config.PaymentConfig, logger *zerolog.Logger) *StripeClient {
	var backends *stripe.Backends
	if cfg.BaseURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:               stripe.String(strings.TrimRight(cfg.BaseURL, "/")),
				MaxNetworkRetries: stripe.Int64(0),
				LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
			}),
		}
	}
	return &StripeClient{
		api:        client.New(cfg.AccessToken, backends),
		currency:   strings.ToLower(cfg.Currency),
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		guard:      newGuard("stripe", cfg, logger),
		logger:     logger,
	}
}

func (s *StripeClient) CreatePaymentPreference(ctx context.Context, amount int64, description, reservationID string) (*domain.Preference, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(reservationID),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.currency),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{stripeReservationKey: reservationID},
		},
	}

	res, err := s.guard.do(ctx, "create_preference", func(ctx context.Context) (interface{}, error) {
		params.Context = ctx
		sess, err := s.api.CheckoutSessions.New(params)
		if err != nil {
			return nil, err
		}
		return &domain.Preference{ID: sess.ID, InitPoint: sess.URL}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return res.(*domain.Preference), nil
}

func (s *StripeClient) FetchTransactionDetails(ctx context.Context, notificationID string) (*domain.Transaction, error) {
	res, err := s.guard.do(ctx, "fetch_transaction", func(ctx context.Context) (interface{}, error) {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		pi, err := s.api.PaymentIntents.Get(notificationID, params)
		if err != nil {
			return nil, err
		}
		return &domain.Transaction{
			ID:                pi.ID,
			ExternalReference: pi.Metadata[stripeReservationKey],
			Status:            normalizeStripeStatus(pi.Status),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: get payment intent %s: %w", notificationID, err)
	}
	return res.(*domain.Transaction), nil
}

func normalizeStripeStatus(status stripe.PaymentIntentStatus) string {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.TxnApproved
	case stripe.PaymentIntentStatusCanceled:
		return domain.TxnRejected
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresCapture:
		return domain.TxnPending
	default:
		return string(status)
	}
}

func (s *StripeClient) CreateRefund(ctx context.Context, transactionID string) error {
	_, err := s.guard.do(ctx, "refund", func(ctx context.Context) (interface{}, error) {
		params := &stripe.RefundParams{PaymentIntent: stripe.String(transactionID)}
		params.Context = ctx
		params.SetIdempotencyKey("refund-" + transactionID)
		r, err := s.api.Refunds.New(params)
		if err != nil {
			return nil, err
		}
		s.logger.Debug().Str("refund_id", r.ID).Str("status", string(r.Status)).Msg("Stripe refund created")
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("stripe: refund %s: %w", transactionID, err)
	}
	return nil
}

func (s *StripeClient) MakePayout(ctx context.Context, req domain.PayoutRequest) (*domain.PayoutResult, error) {
	res, err := s.guard.do(ctx, "payout", func(ctx context.Context) (interface{}, error) {
		params := &stripe.TransferParams{
			Amount:      stripe.Int64(req.Amount),
			Currency:    stripe.String(s.currency),
			Destination: stripe.String(req.Destination),
			Description: stripe.String(req.Description),
		}
		params.Context = ctx
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}
		t, err := s.api.Transfers.New(params)
		if err != nil {
			return nil, err
		}
		status := domain.TxnApproved
		if t.Reversed {
			status = domain.TxnRejected
		}
		return &domain.PayoutResult{TransactionID: t.ID, Status: status}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: transfer to %s: %w", req.Destination, err)
	}
	return res.(*domain.PayoutResult), nil
}
