package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickethub/booking-core/internal/domain"
)

func TestQuoteHold(t *testing.T) {
	event := &domain.Event{TicketPrice: 50000, Currency: domain.CurrencyINR}

	tests := []struct {
		name        string
		feePct      float64
		ticketCount int
		wantSub     int64
		wantFee     int64
		wantTotal   int64
		wantErr     error
	}{
		{
			name:        "two tickets with 3.5% fee",
			feePct:      0.035,
			ticketCount: 2,
			wantSub:     100000,
			wantFee:     3500,
			wantTotal:   103500,
		},
		{
			name:        "single ticket rounds fee to minor unit",
			feePct:      0.035,
			ticketCount: 1,
			wantSub:     50000,
			wantFee:     1750,
			wantTotal:   51750,
		},
		{
			name:        "zero fee",
			feePct:      0,
			ticketCount: 3,
			wantSub:     150000,
			wantFee:     0,
			wantTotal:   150000,
		},
		{
			name:        "zero tickets",
			feePct:      0.035,
			ticketCount: 0,
			wantErr:     domain.ErrInvalidTicketCount,
		},
		{
			name:        "negative tickets",
			feePct:      0.035,
			ticketCount: -1,
			wantErr:     domain.ErrInvalidTicketCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewService(tt.feePct).QuoteHold(event, tt.ticketCount)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, q.Subtotal)
			assert.Equal(t, tt.wantFee, q.FeeAmount)
			assert.Equal(t, tt.wantTotal, q.Total)
			assert.Equal(t, domain.CurrencyINR, q.Currency)
		})
	}
}

func TestQuoteHoldRejectsFreeEvent(t *testing.T) {
	_, err := NewService(0.035).QuoteHold(&domain.Event{TicketPrice: 0}, 1)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}
