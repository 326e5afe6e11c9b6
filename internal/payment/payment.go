// Package payment holds the payment gateway adapters.
package payment

import (
	"fmt"
	"strings"

	"quadra/internal/config"
	"quadra/internal/domain"

	"github.com/rs/zerolog"
)

// New builds the gateway selected by cfg.Provider.
func New(cfg config.PaymentConfig, logger *zerolog.Logger) (domain.PaymentGateway, error) {
	switch cfg.Provider {
	case config.ProviderMercadoPago:
		return NewMercadoPagoClient(cfg, logger), nil
	case config.ProviderStripe:
		return NewStripeClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// TopicPayment is the notification topic carrying a payment id.
const TopicPayment = "payment"

// NotificationTopic maps a gateway event type onto TopicPayment where it
// refers to a payment. Stripe sends PaymentIntent events as
// "payment_intent.<outcome>". Other types pass through unchanged.
func NotificationTopic(eventType string) string {
	t := strings.TrimSpace(eventType)
	if strings.HasPrefix(strings.ToLower(t), "payment_intent.") {
		return TopicPayment
	}
	return t
}
