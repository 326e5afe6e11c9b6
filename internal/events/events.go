package events

import (
	"encoding/json"
	"sync"
	"time"

	"quadra/internal/models"

	"github.com/google/uuid"
)

const (
	EventReservationCreated   = "reservation.created"
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationExpired   = "reservation.expired"
	EventReservationCancelled = "reservation.cancelled"
	EventReservationRefunded  = "reservation.refunded"
	EventPayoutSucceeded      = "payout.succeeded"
	EventPayoutFailed         = "payout.failed"
)

// AllEventTypes lists every type published by the engine.
var AllEventTypes = []string{
	EventReservationCreated,
	EventReservationConfirmed,
	EventReservationExpired,
	EventReservationCancelled,
	EventReservationRefunded,
	EventPayoutSucceeded,
	EventPayoutFailed,
}

// ReservationEventPayload is the reservation snapshot sent to consumers.
type ReservationEventPayload struct {
	ReservationID string               `json:"reservation_id"`
	CourtID       string               `json:"court_id"`
	RequesterID   string               `json:"requester_id"`
	StatusPayment models.PaymentStatus `json:"status_payment"`
	StatusPayout  models.PayoutStatus  `json:"status_payout"`
	StartTime     time.Time            `json:"start_time"`
	EndTime       time.Time            `json:"end_time"`
	TotalPrice    int64                `json:"total_price"`
	NetPayout     *int64               `json:"net_payout,omitempty"`
	Source        string               `json:"source,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

func NewReservationPayload(r *models.Reservation, source string) ReservationEventPayload {
	return ReservationEventPayload{
		ReservationID: r.ID,
		CourtID:       r.CourtID,
		RequesterID:   r.RequesterID,
		StatusPayment: r.StatusPayment,
		StatusPayout:  r.StatusPayout,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		TotalPrice:    r.TotalPrice,
		NetPayout:     r.NetPayoutAmount,
		Source:        source,
	}
}

// Event IDs are unique per publish; consumers use them to drop redeliveries.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

type EventHandler func(event *Event) error

// ErrorHandler observes handler failures; nil discards them.
type ErrorHandler func(event *Event, err error)

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	wildcard    []EventHandler
	onError     ErrorHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

func (b *EventBus) OnError(h ErrorHandler) {
	b.mu.Lock()
	b.onError = h
	b.mu.Unlock()
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, handler)
}

func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.wildcard...)
	onError := b.onError
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	// Handlers run synchronously; caller decides concurrency model.
	for _, handler := range handlers {
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
