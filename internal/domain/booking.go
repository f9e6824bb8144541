package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingState string

const (
	BookingStatePending   BookingState = "pending"
	BookingStateConfirmed BookingState = "confirmed"
	BookingStateCancelled BookingState = "cancelled"
	BookingStateExpired   BookingState = "expired"
	BookingStateFailed    BookingState = "failed"
	BookingStateRefunded  BookingState = "refunded"
)

// allowedTransitions is the whole state machine. Anything not listed here
// is rejected, including every transition out of a terminal state.
var allowedTransitions = map[BookingState][]BookingState{
	BookingStatePending:   {BookingStateConfirmed, BookingStateCancelled, BookingStateExpired, BookingStateFailed},
	BookingStateConfirmed: {BookingStateRefunded},
}

func CanTransition(from, to BookingState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s BookingState) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Booking is a ticket hold and its settlement record. Amount and FeeAmount
// are snapshotted in minor units at hold creation and never recomputed.
// Version gates every state write; see the repository's UpdateState.
type Booking struct {
	ID               uuid.UUID
	EventID          uuid.UUID
	UserID           uuid.UUID
	TicketCount      int
	Amount           int64
	FeeAmount        int64
	Currency         Currency
	State            BookingState
	GatewayOrderID   *string
	GatewayPaymentID *string
	IdempotencyKey   string
	FailureReason    *string
	RefundedAmount   int64
	SweepAttempts    int
	NeedsReview      bool
	CreatedAt        time.Time
	HoldExpiresAt    time.Time
	UpdatedAt        time.Time
	Version          int64
}

// HoldExpired reports whether the hold deadline has passed. Only a pending
// booking can be logically expired; once the state moved on, the deadline
// is irrelevant.
func (b *Booking) HoldExpired(now time.Time) bool {
	return b.State == BookingStatePending && now.After(b.HoldExpiresAt)
}
