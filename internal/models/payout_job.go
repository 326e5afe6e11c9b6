package models

import "time"

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusRetry      = "retry"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// PayoutJob is a persisted settlement request for one reservation.
type PayoutJob struct {
	ID            int64      `json:"id"`
	ReservationID string     `json:"reservation_id"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
}
