package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/gateway"
	"github.com/tickethub/booking-core/internal/logging"
	"github.com/tickethub/booking-core/internal/repository"
)

type VerifyPaymentRequest struct {
	BookingID        uuid.UUID
	UserID           uuid.UUID
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// VerifyPayment confirms a pending booking from the client-relayed gateway
// callback. Guard order matters: state and hold expiry are checked before
// the signature, so a valid signature arriving after the hold died is
// rejected as an invalid transition, not accepted late.
func (s *Service) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*domain.Booking, error) {
	log := logging.FromContext(ctx)

	b, err := s.GetBookingForUser(ctx, req.BookingID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("VerifyPayment: %w", err)
	}

	if b.State == domain.BookingStateConfirmed && b.GatewayPaymentID != nil && *b.GatewayPaymentID == req.GatewayPaymentID {
		return b, nil
	}
	if b.State != domain.BookingStatePending {
		return nil, fmt.Errorf("VerifyPayment: booking is %s: %w", b.State, domain.ErrInvalidTransition)
	}
	if b.HoldExpired(time.Now().UTC()) {
		log.Warn("verification attempted on expired hold", "booking_id", b.ID)
		return nil, fmt.Errorf("VerifyPayment: hold expired: %w", domain.ErrInvalidTransition)
	}
	if b.GatewayOrderID == nil || *b.GatewayOrderID != req.GatewayOrderID {
		log.Warn("verification order mismatch", "booking_id", b.ID, "gateway_order_id", req.GatewayOrderID)
		return nil, fmt.Errorf("VerifyPayment: order mismatch: %w", domain.ErrInvalidTransition)
	}

	if !gateway.VerifyPaymentSignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature, s.cfg.PaymentSecret) {
		log.Warn("payment signature verification failed", "booking_id", b.ID)
		return nil, fmt.Errorf("VerifyPayment: %w", domain.ErrInvalidSignature)
	}

	confirmed, err := s.confirm(ctx, b.ID, req.GatewayPaymentID, "user:"+req.UserID.String())
	if err != nil {
		return nil, fmt.Errorf("VerifyPayment: %w", err)
	}

	log.Info("payment verified",
		"booking_id", confirmed.ID,
		"gateway_order_id", req.GatewayOrderID,
		"gateway_payment_id", req.GatewayPaymentID,
	)
	return confirmed, nil
}

// ApplyPaymentCaptured handles a payment.captured webhook. A capture that
// lands after the hold expired cannot confirm the booking; the booking is
// flagged so an operator can refund the stray capture.
func (s *Service) ApplyPaymentCaptured(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*domain.Booking, error) {
	log := logging.FromContext(ctx)

	b, err := s.bookings.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("ApplyPaymentCaptured: %w", err)
	}

	if b.State == domain.BookingStateConfirmed && b.GatewayPaymentID != nil && *b.GatewayPaymentID == gatewayPaymentID {
		return b, nil
	}

	if b.HoldExpired(time.Now().UTC()) {
		log.Warn("payment captured for expired hold, flagging for review",
			"booking_id", b.ID,
			"gateway_payment_id", gatewayPaymentID,
		)
		if err := s.bookings.FlagForReview(ctx, b.ID); err != nil {
			return nil, fmt.Errorf("ApplyPaymentCaptured: %w", err)
		}
		return nil, fmt.Errorf("ApplyPaymentCaptured: captured after expiry: %w", domain.ErrInvalidTransition)
	}

	confirmed, err := s.confirm(ctx, b.ID, gatewayPaymentID, "gateway")
	if err != nil {
		return nil, fmt.Errorf("ApplyPaymentCaptured: %w", err)
	}
	return confirmed, nil
}

func (s *Service) confirm(ctx context.Context, bookingID uuid.UUID, gatewayPaymentID, actor string) (*domain.Booking, error) {
	payload, _ := json.Marshal(map[string]string{"gateway_payment_id": gatewayPaymentID})

	return s.transition(ctx, bookingID, transitionSpec{
		event:   domain.BookingEventTypeConfirmed,
		actor:   actor,
		payload: payload,
		guard: func(b *domain.Booking) (repository.StateUpdate, error) {
			if b.State == domain.BookingStateConfirmed && b.GatewayPaymentID != nil && *b.GatewayPaymentID == gatewayPaymentID {
				return repository.StateUpdate{}, errAlreadyApplied
			}
			if !domain.CanTransition(b.State, domain.BookingStateConfirmed) {
				return repository.StateUpdate{}, fmt.Errorf("confirm from %s: %w", b.State, domain.ErrInvalidTransition)
			}
			if b.HoldExpired(time.Now().UTC()) {
				return repository.StateUpdate{}, fmt.Errorf("confirm after expiry: %w", domain.ErrInvalidTransition)
			}
			return repository.StateUpdate{
				State:            domain.BookingStateConfirmed,
				GatewayPaymentID: &gatewayPaymentID,
			}, nil
		},
	})
}

// ApplyPaymentFailed handles a payment.failed webhook. A failure delivered
// after a capture confirmed the booking is rejected by the guard; webhook
// delivery order is not trusted.
func (s *Service) ApplyPaymentFailed(ctx context.Context, gatewayOrderID, reason string) (*domain.Booking, error) {
	b, err := s.bookings.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("ApplyPaymentFailed: %w", err)
	}

	payload, _ := json.Marshal(map[string]string{"reason": reason})

	failed, err := s.transition(ctx, b.ID, transitionSpec{
		event:   domain.BookingEventTypeFailed,
		actor:   "gateway",
		payload: payload,
		guard: func(b *domain.Booking) (repository.StateUpdate, error) {
			if b.State == domain.BookingStateFailed {
				return repository.StateUpdate{}, errAlreadyApplied
			}
			if !domain.CanTransition(b.State, domain.BookingStateFailed) {
				return repository.StateUpdate{}, fmt.Errorf("fail from %s: %w", b.State, domain.ErrInvalidTransition)
			}
			r := reason
			return repository.StateUpdate{
				State:         domain.BookingStateFailed,
				FailureReason: &r,
			}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ApplyPaymentFailed: %w", err)
	}
	return failed, nil
}

// ExpireHold moves an overdue pending booking to expired. Called by the
// reconciler sweep; losing the race to a concurrent confirmation is benign
// and surfaces as ErrInvalidTransition.
func (s *Service) ExpireHold(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	expired, err := s.transition(ctx, bookingID, transitionSpec{
		event: domain.BookingEventTypeExpired,
		actor: "system",
		guard: func(b *domain.Booking) (repository.StateUpdate, error) {
			if b.State == domain.BookingStateExpired {
				return repository.StateUpdate{}, errAlreadyApplied
			}
			if !b.HoldExpired(time.Now().UTC()) {
				return repository.StateUpdate{}, fmt.Errorf("hold not expired: %w", domain.ErrInvalidTransition)
			}
			return repository.StateUpdate{State: domain.BookingStateExpired}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ExpireHold: %w", err)
	}
	return expired, nil
}
