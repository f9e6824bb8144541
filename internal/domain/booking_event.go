package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type BookingEventType string

const (
	BookingEventTypeCreated   BookingEventType = "created"
	BookingEventTypeConfirmed BookingEventType = "confirmed"
	BookingEventTypeCancelled BookingEventType = "cancelled"
	BookingEventTypeExpired   BookingEventType = "expired"
	BookingEventTypeFailed    BookingEventType = "failed"
	BookingEventTypeRefunded  BookingEventType = "refunded"
)

// BookingEvent is one row of the transition audit trail. Bookings are never
// hard-deleted, so the trail is the full history of a booking's life.
type BookingEvent struct {
	ID        uuid.UUID
	BookingID uuid.UUID
	EventType BookingEventType
	Actor     string
	Payload   json.RawMessage
	CreatedAt time.Time
}
