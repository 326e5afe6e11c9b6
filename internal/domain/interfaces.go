package domain

import (
	"context"
	"time"

	"quadra/internal/models"
)

type ReservationStore interface {
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	FindOverlapping(ctx context.Context, courtID string, start, end time.Time) (*models.Reservation, error)
	CreateReservation(ctx context.Context, r *models.Reservation) error
	CreateReservationWithLock(ctx context.Context, r *models.Reservation) error
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	UpdateReservationIfStatus(ctx context.Context, r *models.Reservation, expected models.PaymentStatus) error
	UpdateReservationIfPayout(ctx context.Context, r *models.Reservation, expected models.PayoutStatus) error
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.Reservation, error)
	ListSettleable(ctx context.Context, endedBefore time.Time, limit int) ([]*models.Reservation, error)
	ListReservationsByOwner(ctx context.Context, ownerID string, from, to time.Time) ([]*models.Reservation, error)
}

// Lookup gives read-only access to the catalog and identity data the engine needs.
type Lookup interface {
	GetCourt(ctx context.Context, id string) (*models.Court, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type PayoutJobStore interface {
	CreatePayoutJob(ctx context.Context, reservationID string) (*models.PayoutJob, bool, error)
	GetPayoutJob(ctx context.Context, id int64) (*models.PayoutJob, error)
	GetPendingPayoutJobs(ctx context.Context, now time.Time, limit int) ([]models.PayoutJob, error)
	GetFailedPayoutJobs(ctx context.Context) ([]models.PayoutJob, error)
	UpdatePayoutJobStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Gateway transaction statuses after normalisation.
const (
	TxnApproved = "approved"
	TxnRejected = "rejected"
	TxnPending  = "pending"
)

type Preference struct {
	ID        string
	InitPoint string
}

type Transaction struct {
	ID                string
	ExternalReference string
	Status            string
}

type PayoutRequest struct {
	Amount         int64
	Destination    string
	Description    string
	IdempotencyKey string
}

type PayoutResult struct {
	TransactionID string
	Status        string
}

type PaymentGateway interface {
	CreatePaymentPreference(ctx context.Context, amount int64, description, reservationID string) (*Preference, error)
	FetchTransactionDetails(ctx context.Context, notificationID string) (*Transaction, error)
	CreateRefund(ctx context.Context, transactionID string) error
	MakePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
}

const JobTypeExpireReservation = "expire_reservation"

// Job is the payload of a delayed job.
type Job struct {
	Type           string               `json:"type"`
	ReservationID  string               `json:"reservation_id"`
	ExpectedStatus models.PaymentStatus `json:"expected_status"`
}

// JobHandler runs a fired job.
type JobHandler func(ctx context.Context, job Job) error

// Scheduler arms one-shot jobs under stable keys. Scheduling an existing key
// replaces it; cancelling an absent key is not an error.
type Scheduler interface {
	Schedule(ctx context.Context, key string, job Job, delay time.Duration) error
	Cancel(ctx context.Context, key string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type PayoutQueue interface {
	Enqueue(ctx context.Context, reservationID string) error
}
