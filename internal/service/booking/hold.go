package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/gateway"
	"github.com/tickethub/booking-core/internal/logging"
)

type CreateHoldRequest struct {
	EventID        uuid.UUID
	UserID         uuid.UUID
	TicketCount    int
	IdempotencyKey string
}

// CreateHold reserves tickets as a pending booking and asks the gateway for
// a payment order. The amount is snapshotted from the catalog price at this
// moment and never recomputed. Retries carrying the same idempotency key
// return the original booking and never create a second gateway order.
func (s *Service) CreateHold(ctx context.Context, req CreateHoldRequest) (*domain.Booking, error) {
	log := logging.FromContext(ctx)

	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("CreateHold: idempotency key required: %w", domain.ErrInvalidArgument)
	}
	if req.TicketCount <= 0 {
		return nil, fmt.Errorf("CreateHold: %w", domain.ErrInvalidTicketCount)
	}

	if existing, err := s.bookings.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		log.Info("idempotent replay", "booking_id", existing.ID, "idempotency_key", req.IdempotencyKey)
		return s.awaitGatewayOrder(ctx, existing)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("CreateHold: %w", err)
	}

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("CreateHold: user: %w", err)
	}
	if user.Status != domain.UserStatusActive {
		return nil, fmt.Errorf("CreateHold: user %s is %s: %w", user.ID, user.Status, domain.ErrInvalidArgument)
	}

	event, err := s.events.GetByID(ctx, req.EventID)
	if err != nil {
		return nil, fmt.Errorf("CreateHold: event: %w", err)
	}
	if event.Status != domain.EventStatusOnSale {
		return nil, fmt.Errorf("CreateHold: %w", domain.ErrEventNotOnSale)
	}

	quote, err := s.pricing.QuoteHold(event, req.TicketCount)
	if err != nil {
		return nil, fmt.Errorf("CreateHold: %w", err)
	}

	now := time.Now().UTC()
	b := &domain.Booking{
		ID:             uuid.New(),
		EventID:        event.ID,
		UserID:         user.ID,
		TicketCount:    req.TicketCount,
		Amount:         quote.Total,
		FeeAmount:      quote.FeeAmount,
		Currency:       quote.Currency,
		State:          domain.BookingStatePending,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		HoldExpiresAt:  now.Add(s.cfg.HoldDuration),
		UpdatedAt:      now,
		Version:        0,
	}

	if err := s.insertHold(ctx, b); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			// lost the insert race; the winner's booking is the answer
			existing, readErr := s.bookings.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if readErr != nil {
				return nil, fmt.Errorf("CreateHold: %w", readErr)
			}
			log.Info("idempotent replay (race)", "booking_id", existing.ID, "idempotency_key", req.IdempotencyKey)
			return s.awaitGatewayOrder(ctx, existing)
		}
		return nil, fmt.Errorf("CreateHold: %w", err)
	}

	log.Info("hold created",
		"booking_id", b.ID,
		"event_id", b.EventID,
		"user_id", b.UserID,
		"ticket_count", b.TicketCount,
		"amount", b.Amount,
		"currency", b.Currency,
		"hold_expires_at", b.HoldExpiresAt,
	)

	return s.attachGatewayOrder(ctx, b)
}

func (s *Service) insertHold(ctx context.Context, b *domain.Booking) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insertHold: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.bookings.Create(ctx, tx, b); err != nil {
		return fmt.Errorf("insertHold: %w", err)
	}

	audit := &domain.BookingEvent{
		ID:        uuid.New(),
		BookingID: b.ID,
		EventType: domain.BookingEventTypeCreated,
		Actor:     "user:" + b.UserID.String(),
		CreatedAt: b.CreatedAt,
	}
	if err := s.audit.Create(ctx, tx, audit); err != nil {
		return fmt.Errorf("insertHold: audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insertHold: commit: %w", err)
	}
	return nil
}

const (
	orderWaitInterval = 100 * time.Millisecond
	orderWaitAttempts = 20
)

// awaitGatewayOrder resolves a replayed hold that carries no gateway order
// yet. Order creation belongs to the caller that inserted the booking, so a
// concurrent replay waits for that caller's order id to land rather than
// calling the gateway itself. Only when the wait budget runs out, meaning
// the creator died between insert and attach, does the replay take over.
func (s *Service) awaitGatewayOrder(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	if b.GatewayOrderID != nil || b.State != domain.BookingStatePending {
		return b, nil
	}

	for range orderWaitAttempts {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("awaitGatewayOrder: %w", ctx.Err())
		case <-time.After(orderWaitInterval):
		}

		updated, err := s.bookings.GetByID(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("awaitGatewayOrder: %w", err)
		}
		if updated.GatewayOrderID != nil || updated.State != domain.BookingStatePending {
			return updated, nil
		}
		b = updated
	}

	return s.attachGatewayOrder(ctx, b)
}

// attachGatewayOrder creates the gateway order for a fresh hold and records
// its id via the set-once write. Losing that write means another creator
// attached first; the booking keeps the id that landed and our order is
// logged as stray so an operator can void it.
func (s *Service) attachGatewayOrder(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	if b.GatewayOrderID != nil || b.State != domain.BookingStatePending {
		return b, nil
	}

	log := logging.FromContext(ctx)

	order, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		Amount:   b.Amount,
		Currency: b.Currency,
		Receipt:  b.ID.String(),
		Notes: map[string]string{
			"booking_id": b.ID.String(),
			"event_id":   b.EventID.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("attachGatewayOrder: %w", err)
	}

	if err := s.bookings.SetGatewayOrder(ctx, b.ID, order.ID); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			log.Warn("stray gateway order, another creator attached first",
				"booking_id", b.ID,
				"stray_order_id", order.ID,
			)
			updated, readErr := s.bookings.GetByID(ctx, b.ID)
			if readErr != nil {
				return nil, fmt.Errorf("attachGatewayOrder: %w", readErr)
			}
			return updated, nil
		}
		return nil, fmt.Errorf("attachGatewayOrder: %w", err)
	}

	log.Info("gateway order attached", "booking_id", b.ID, "gateway_order_id", order.ID)

	updated, err := s.bookings.GetByID(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("attachGatewayOrder: %w", err)
	}
	return updated, nil
}
