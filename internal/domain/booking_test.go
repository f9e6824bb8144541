package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from BookingState
		to   BookingState
		want bool
	}{
		{"pending to confirmed", BookingStatePending, BookingStateConfirmed, true},
		{"pending to cancelled", BookingStatePending, BookingStateCancelled, true},
		{"pending to expired", BookingStatePending, BookingStateExpired, true},
		{"pending to failed", BookingStatePending, BookingStateFailed, true},
		{"pending to refunded is never direct", BookingStatePending, BookingStateRefunded, false},
		{"confirmed to refunded", BookingStateConfirmed, BookingStateRefunded, true},
		{"confirmed to cancelled is a refund, not a cancel", BookingStateConfirmed, BookingStateCancelled, false},
		{"confirmed to failed after capture", BookingStateConfirmed, BookingStateFailed, false},
		{"no revert to pending", BookingStateConfirmed, BookingStatePending, false},
		{"expired is terminal", BookingStateExpired, BookingStateConfirmed, false},
		{"cancelled is terminal", BookingStateCancelled, BookingStateRefunded, false},
		{"refunded is terminal", BookingStateRefunded, BookingStateConfirmed, false},
		{"failed is terminal", BookingStateFailed, BookingStateConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, BookingStatePending.IsTerminal())
	assert.False(t, BookingStateConfirmed.IsTerminal())
	assert.True(t, BookingStateCancelled.IsTerminal())
	assert.True(t, BookingStateRefunded.IsTerminal())
	assert.True(t, BookingStateExpired.IsTerminal())
	assert.True(t, BookingStateFailed.IsTerminal())
}

func TestHoldExpired(t *testing.T) {
	now := time.Now().UTC()
	b := &Booking{State: BookingStatePending, HoldExpiresAt: now.Add(15 * time.Minute)}

	assert.False(t, b.HoldExpired(now))
	assert.False(t, b.HoldExpired(now.Add(15*time.Minute)))
	assert.True(t, b.HoldExpired(now.Add(16*time.Minute)))

	// confirmed bookings never expire, whatever the deadline says
	b.State = BookingStateConfirmed
	assert.False(t, b.HoldExpired(now.Add(24*time.Hour)))
}
