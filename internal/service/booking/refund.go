package booking

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/logging"
	"github.com/tickethub/booking-core/internal/repository"
)

// Cancel voids an unpaid hold. A confirmed booking cannot be cancelled;
// money already moved, so that path is a refund.
func (s *Service) Cancel(ctx context.Context, bookingID, userID uuid.UUID) (*domain.Booking, error) {
	log := logging.FromContext(ctx)

	b, err := s.GetBookingForUser(ctx, bookingID, userID)
	if err != nil {
		return nil, fmt.Errorf("Cancel: %w", err)
	}

	cancelled, err := s.transition(ctx, b.ID, transitionSpec{
		event: domain.BookingEventTypeCancelled,
		actor: "user:" + userID.String(),
		guard: func(b *domain.Booking) (repository.StateUpdate, error) {
			if b.State == domain.BookingStateCancelled {
				return repository.StateUpdate{}, errAlreadyApplied
			}
			if !domain.CanTransition(b.State, domain.BookingStateCancelled) {
				return repository.StateUpdate{}, fmt.Errorf("cancel from %s: %w", b.State, domain.ErrInvalidTransition)
			}
			return repository.StateUpdate{State: domain.BookingStateCancelled}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Cancel: %w", err)
	}

	log.Info("booking cancelled", "booking_id", cancelled.ID)
	return cancelled, nil
}

type RefundRequest struct {
	BookingID uuid.UUID
	UserID    uuid.UUID
	// Amount in minor units; nil means refund everything not yet refunded.
	Amount *int64
}

// Refund asks the gateway to return money for a confirmed booking, then
// records the acknowledged refund. Partial refunds accumulate on
// RefundedAmount and each one appends a refund row; the state moves to
// refunded on the first.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*domain.Booking, error) {
	log := logging.FromContext(ctx)

	b, err := s.GetBookingForUser(ctx, req.BookingID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}

	if b.State != domain.BookingStateConfirmed && b.State != domain.BookingStateRefunded {
		return nil, fmt.Errorf("Refund: booking is %s: %w", b.State, domain.ErrInvalidTransition)
	}
	if b.GatewayPaymentID == nil {
		return nil, fmt.Errorf("Refund: no captured payment: %w", domain.ErrInvalidTransition)
	}

	remaining := b.Amount - b.RefundedAmount
	amount := remaining
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 {
		return nil, fmt.Errorf("Refund: %w", domain.ErrInvalidAmount)
	}
	if amount > remaining {
		return nil, fmt.Errorf("Refund: %w", domain.ErrRefundExceedsPaid)
	}

	ack, err := s.gateway.CreateRefund(ctx, *b.GatewayPaymentID, amount)
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}

	refunded, err := s.recordRefund(ctx, b.ID, ack.ID, amount, "user:"+req.UserID.String())
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}

	log.Info("refund recorded",
		"booking_id", refunded.ID,
		"gateway_refund_id", ack.ID,
		"amount", amount,
		"refunded_total", refunded.RefundedAmount,
	)
	return refunded, nil
}

// ApplyRefundCreated handles a refund.created webhook, which also covers
// refunds initiated on the gateway dashboard. Replays dedup on the unique
// gateway refund id.
func (s *Service) ApplyRefundCreated(ctx context.Context, gatewayOrderID, gatewayRefundID string, amount int64) (*domain.Booking, error) {
	b, err := s.bookings.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("ApplyRefundCreated: %w", err)
	}

	existing, err := s.refunds.GetByBookingID(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("ApplyRefundCreated: %w", err)
	}
	for _, rf := range existing {
		if rf.GatewayRefundID == gatewayRefundID {
			return b, nil
		}
	}

	if b.State != domain.BookingStateConfirmed && b.State != domain.BookingStateRefunded {
		return nil, fmt.Errorf("ApplyRefundCreated: booking is %s: %w", b.State, domain.ErrInvalidTransition)
	}

	refunded, err := s.recordRefund(ctx, b.ID, gatewayRefundID, amount, "gateway")
	if err != nil {
		return nil, fmt.Errorf("ApplyRefundCreated: %w", err)
	}
	return refunded, nil
}

func (s *Service) recordRefund(ctx context.Context, bookingID uuid.UUID, gatewayRefundID string, amount int64, actor string) (*domain.Booking, error) {
	payload, _ := json.Marshal(map[string]any{
		"gateway_refund_id": gatewayRefundID,
		"amount":            amount,
	})

	var currency domain.Currency

	return s.transition(ctx, bookingID, transitionSpec{
		event:   domain.BookingEventTypeRefunded,
		actor:   actor,
		payload: payload,
		guard: func(b *domain.Booking) (repository.StateUpdate, error) {
			// refunded -> refunded is allowed for follow-up partial refunds;
			// everything else must come from confirmed
			if b.State != domain.BookingStateRefunded && !domain.CanTransition(b.State, domain.BookingStateRefunded) {
				return repository.StateUpdate{}, fmt.Errorf("refund from %s: %w", b.State, domain.ErrInvalidTransition)
			}
			if b.RefundedAmount+amount > b.Amount {
				return repository.StateUpdate{}, fmt.Errorf("refund total exceeds amount: %w", domain.ErrRefundExceedsPaid)
			}
			currency = b.Currency
			total := b.RefundedAmount + amount
			return repository.StateUpdate{
				State:          domain.BookingStateRefunded,
				RefundedAmount: &total,
			}, nil
		},
		extra: func(ctx context.Context, tx *sql.Tx) error {
			return s.refunds.Create(ctx, tx, &domain.Refund{
				ID:              uuid.New(),
				BookingID:       bookingID,
				GatewayRefundID: gatewayRefundID,
				Amount:          amount,
				Currency:        currency,
				CreatedAt:       time.Now().UTC(),
			})
		},
	})
}
