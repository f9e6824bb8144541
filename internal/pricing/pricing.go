package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tickethub/booking-core/internal/domain"
)

// Quote is the amount side of a hold, fixed at creation time. All amounts
// are integral minor units of the event's currency.
type Quote struct {
	Subtotal  int64
	FeeAmount int64
	Total     int64
	Currency  domain.Currency
	FeePct    decimal.Decimal
}

// Service computes hold totals from the catalog price. The convenience fee
// is a flat percentage of the ticket subtotal, rounded half-up to a minor
// unit, never negative.
type Service struct {
	feePct decimal.Decimal
}

func NewService(feePct float64) *Service {
	return &Service{feePct: decimal.NewFromFloat(feePct)}
}

func (s *Service) QuoteHold(event *domain.Event, ticketCount int) (*Quote, error) {
	if ticketCount <= 0 {
		return nil, fmt.Errorf("QuoteHold: %w", domain.ErrInvalidTicketCount)
	}
	if event.TicketPrice <= 0 {
		return nil, fmt.Errorf("QuoteHold: %w", domain.ErrInvalidAmount)
	}

	subtotal := decimal.NewFromInt(event.TicketPrice).Mul(decimal.NewFromInt(int64(ticketCount)))
	fee := subtotal.Mul(s.feePct).Round(0)
	if fee.IsNegative() {
		fee = decimal.Zero
	}

	total := subtotal.Add(fee)

	return &Quote{
		Subtotal:  subtotal.IntPart(),
		FeeAmount: fee.IntPart(),
		Total:     total.IntPart(),
		Currency:  event.Currency,
		FeePct:    s.feePct,
	}, nil
}
