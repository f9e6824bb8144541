package domain

import (
	"time"

	"github.com/google/uuid"
)

// Refund is one gateway-acknowledged refund against a confirmed booking.
// Partial refunds append multiple rows; the booking's RefundedAmount is the
// running total.
type Refund struct {
	ID              uuid.UUID
	BookingID       uuid.UUID
	GatewayRefundID string
	Amount          int64
	Currency        Currency
	CreatedAt       time.Time
}
