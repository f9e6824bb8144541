package booking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/gateway"
	"github.com/tickethub/booking-core/internal/logging"
	"github.com/tickethub/booking-core/internal/pricing"
	"github.com/tickethub/booking-core/internal/repository"
)

type bookingRepo interface {
	Create(ctx context.Context, tx *sql.Tx, b *domain.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Booking, error)
	GetByGatewayOrderID(ctx context.Context, orderID string) (*domain.Booking, error)
	UpdateState(ctx context.Context, tx *sql.Tx, id uuid.UUID, expectedVersion int64, upd repository.StateUpdate) error
	SetGatewayOrder(ctx context.Context, id uuid.UUID, orderID string) error
	FlagForReview(ctx context.Context, id uuid.UUID) error
}

type eventRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error)
}

type userRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type auditRepo interface {
	Create(ctx context.Context, tx *sql.Tx, event *domain.BookingEvent) error
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.BookingEvent, error)
}

type refundRepo interface {
	Create(ctx context.Context, tx *sql.Tx, refund *domain.Refund) error
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.Refund, error)
}

type gatewayClient interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error)
	CreateRefund(ctx context.Context, paymentID string, amount int64) (*gateway.Refund, error)
}

type quoter interface {
	QuoteHold(event *domain.Event, ticketCount int) (*pricing.Quote, error)
}

// Config is the tuning surface of the state machine.
type Config struct {
	HoldDuration  time.Duration
	PaymentSecret string
	CASMaxRetries int
}

// Service owns every booking state transition. All writes go through the
// version-gated compare-and-swap in transition; nothing else mutates
// bookings.
type Service struct {
	bookings bookingRepo
	events   eventRepo
	users    userRepo
	audit    auditRepo
	refunds  refundRepo
	gateway  gatewayClient
	pricing  quoter
	db       *sql.DB
	cfg      Config
}

func NewService(
	bookings bookingRepo,
	events eventRepo,
	users userRepo,
	audit auditRepo,
	refunds refundRepo,
	gw gatewayClient,
	quotes quoter,
	db *sql.DB,
	cfg Config,
) *Service {
	if cfg.CASMaxRetries <= 0 {
		cfg.CASMaxRetries = 5
	}
	return &Service{
		bookings: bookings,
		events:   events,
		users:    users,
		audit:    audit,
		refunds:  refunds,
		gateway:  gw,
		pricing:  quotes,
		db:       db,
		cfg:      cfg,
	}
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetBooking: %w", err)
	}
	return b, nil
}

// GetBookingForUser hides other users' bookings behind NotFound.
func (s *Service) GetBookingForUser(ctx context.Context, id, userID uuid.UUID) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetBookingForUser: %w", err)
	}
	if b.UserID != userID {
		return nil, fmt.Errorf("GetBookingForUser: %w", domain.ErrNotFound)
	}
	return b, nil
}

func (s *Service) GetBookingHistory(ctx context.Context, bookingID uuid.UUID) ([]domain.BookingEvent, error) {
	events, err := s.audit.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("GetBookingHistory: %w", err)
	}
	return events, nil
}

func (s *Service) GetRefunds(ctx context.Context, bookingID uuid.UUID) ([]domain.Refund, error) {
	refunds, err := s.refunds.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("GetRefunds: %w", err)
	}
	return refunds, nil
}

// errAlreadyApplied signals that the intended outcome is already visible in
// the stored state, so the caller's transition is an idempotent no-op.
var errAlreadyApplied = errors.New("transition already applied")

// transitionSpec describes one attempted state transition. guard inspects a
// freshly read booking and either returns the update to apply, reports
// errAlreadyApplied, or fails with ErrInvalidTransition. extra, when set,
// runs inside the same transaction as the state write.
type transitionSpec struct {
	event   domain.BookingEventType
	actor   string
	payload json.RawMessage
	guard   func(b *domain.Booking) (repository.StateUpdate, error)
	extra   func(ctx context.Context, tx *sql.Tx) error
}

// transition is the compare-and-swap loop: read, guard, conditional write.
// On a version conflict it rereads and re-evaluates the guard against fresh
// state, so a race that already produced the intended outcome converges to
// a successful no-op instead of an error.
func (s *Service) transition(ctx context.Context, bookingID uuid.UUID, spec transitionSpec) (*domain.Booking, error) {
	log := logging.FromContext(ctx)

	for attempt := 0; attempt < s.cfg.CASMaxRetries; attempt++ {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return nil, fmt.Errorf("transition: %w", err)
		}

		upd, err := spec.guard(b)
		if err != nil {
			if errors.Is(err, errAlreadyApplied) {
				return b, nil
			}
			return nil, fmt.Errorf("transition: %w", err)
		}

		applied, err := s.applyTransition(ctx, b, upd, spec)
		if err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				log.Debug("transition lost version race, retrying",
					"booking_id", bookingID,
					"attempt", attempt+1,
				)
				continue
			}
			return nil, fmt.Errorf("transition: %w", err)
		}
		return applied, nil
	}

	return nil, fmt.Errorf("transition: retries exhausted for booking %s: %w", bookingID, domain.ErrVersionConflict)
}

func (s *Service) applyTransition(ctx context.Context, b *domain.Booking, upd repository.StateUpdate, spec transitionSpec) (*domain.Booking, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("applyTransition: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.bookings.UpdateState(ctx, tx, b.ID, b.Version, upd); err != nil {
		return nil, fmt.Errorf("applyTransition: %w", err)
	}

	now := time.Now().UTC()
	audit := &domain.BookingEvent{
		ID:        uuid.New(),
		BookingID: b.ID,
		EventType: spec.event,
		Actor:     spec.actor,
		Payload:   spec.payload,
		CreatedAt: now,
	}
	if err := s.audit.Create(ctx, tx, audit); err != nil {
		return nil, fmt.Errorf("applyTransition: audit: %w", err)
	}

	if spec.extra != nil {
		if err := spec.extra(ctx, tx); err != nil {
			return nil, fmt.Errorf("applyTransition: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("applyTransition: commit: %w", err)
	}

	updated := *b
	updated.State = upd.State
	updated.Version = b.Version + 1
	updated.UpdatedAt = now
	if upd.GatewayPaymentID != nil {
		updated.GatewayPaymentID = upd.GatewayPaymentID
	}
	if upd.FailureReason != nil {
		updated.FailureReason = upd.FailureReason
	}
	if upd.RefundedAmount != nil {
		updated.RefundedAmount = *upd.RefundedAmount
	}
	return &updated, nil
}
