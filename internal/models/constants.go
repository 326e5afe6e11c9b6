package models

import "time"

const (
	// DefaultPaymentGracePeriod окно оплаты после создания брони
	DefaultPaymentGracePeriod = 5 * time.Minute

	// DefaultRefundWindowHours cancellations at least this far ahead of start are refunded
	DefaultRefundWindowHours = 24

	// DefaultFeeRateBasisPoints platform fee, 500 bp = 5%
	DefaultFeeRateBasisPoints = 500

	DefaultMaxDurationHours = 4

	// WorkerQueueSize размер локальной очереди воркера
	WorkerQueueSize = 1000

	expirationKeyPrefix = "expire:"
)

// ExpirationJobKey is the stable scheduler key for a reservation's payment timeout.
func ExpirationJobKey(reservationID string) string {
	return expirationKeyPrefix + reservationID
}
