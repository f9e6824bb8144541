package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/domain"
)

const bookingColumns = `id, event_id, user_id, ticket_count, amount, fee_amount, currency,
	state, gateway_order_id, gateway_payment_id, idempotency_key, failure_reason,
	refunded_amount, sweep_attempts, needs_review, created_at, hold_expires_at,
	updated_at, version`

type BookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create inserts a new pending booking. A second insert carrying the same
// idempotency key fails with ErrDuplicateKey; the caller resolves the
// replay by reading the existing record back.
func (r *BookingRepository) Create(ctx context.Context, tx *sql.Tx, b *domain.Booking) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (
			id, event_id, user_id, ticket_count, amount, fee_amount, currency,
			state, gateway_order_id, gateway_payment_id, idempotency_key, failure_reason,
			refunded_amount, sweep_attempts, needs_review, created_at, hold_expires_at,
			updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		)`,
		b.ID, b.EventID, b.UserID, b.TicketCount, b.Amount, b.FeeAmount, b.Currency,
		b.State, b.GatewayOrderID, b.GatewayPaymentID, b.IdempotencyKey, b.FailureReason,
		b.RefundedAmount, b.SweepAttempts, b.NeedsReview, b.CreatedAt, b.HoldExpiresAt,
		b.UpdatedAt, b.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id,
	)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return b, nil
}

func (r *BookingRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Booking, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE idempotency_key = $1`, key,
	)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByIdempotencyKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByIdempotencyKey: %w", err)
	}
	return b, nil
}

func (r *BookingRepository) GetByGatewayOrderID(ctx context.Context, orderID string) (*domain.Booking, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE gateway_order_id = $1`, orderID,
	)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByGatewayOrderID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByGatewayOrderID: %w", err)
	}
	return b, nil
}

// StateUpdate carries the fields a transition may set alongside the new
// state. Nil fields are left untouched.
type StateUpdate struct {
	State            domain.BookingState
	GatewayPaymentID *string
	FailureReason    *string
	RefundedAmount   *int64
}

// UpdateState is the compare-and-swap at the heart of the state machine:
// the write only lands if version still matches expectedVersion, and every
// successful write bumps version by one. Returns ErrVersionConflict when a
// concurrent writer got there first and ErrNotFound for unknown ids.
func (r *BookingRepository) UpdateState(ctx context.Context, tx *sql.Tx, id uuid.UUID, expectedVersion int64, upd StateUpdate) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET
			state = $1,
			gateway_payment_id = COALESCE($2, gateway_payment_id),
			failure_reason = COALESCE($3, failure_reason),
			refunded_amount = COALESCE($4, refunded_amount),
			version = version + 1,
			updated_at = now()
		WHERE id = $5 AND version = $6`,
		upd.State, upd.GatewayPaymentID, upd.FailureReason, upd.RefundedAmount,
		id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("UpdateState: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateState: rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("UpdateState: existence check: %w", err)
		}
		if !exists {
			return fmt.Errorf("UpdateState: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("UpdateState: %w", domain.ErrVersionConflict)
	}
	return nil
}

// SetGatewayOrder records the order id returned by the gateway. The id is
// set-once: a write against a booking that already carries a different
// order id affects no rows and reports a conflict.
func (r *BookingRepository) SetGatewayOrder(ctx context.Context, id uuid.UUID, orderID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET gateway_order_id = $1, updated_at = now()
		WHERE id = $2 AND gateway_order_id IS NULL`,
		orderID, id,
	)
	if err != nil {
		return fmt.Errorf("SetGatewayOrder: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SetGatewayOrder: rows affected: %w", err)
	}
	if rows == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("SetGatewayOrder: %w", err)
		}
		if existing.GatewayOrderID != nil && *existing.GatewayOrderID == orderID {
			return nil
		}
		return fmt.Errorf("SetGatewayOrder: order already set: %w", domain.ErrVersionConflict)
	}
	return nil
}

// FindExpiredPending returns pending bookings whose hold deadline passed,
// oldest first, bounded by limit. The reconciler calls this every sweep;
// anything it misses is picked up on the next pass.
func (r *BookingRepository) FindExpiredPending(ctx context.Context, now time.Time, maxSweepAttempts, limit int) ([]domain.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		WHERE state = $1 AND hold_expires_at < $2 AND sweep_attempts < $3 AND NOT needs_review
		ORDER BY hold_expires_at LIMIT $4`,
		domain.BookingStatePending, now, maxSweepAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("FindExpiredPending: %w", err)
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("FindExpiredPending: scan: %w", err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindExpiredPending: rows: %w", err)
	}
	return bookings, nil
}

// RecordSweepFailure bumps the per-booking retry counter and flags the
// booking for manual review once maxAttempts is reached.
func (r *BookingRepository) RecordSweepFailure(ctx context.Context, id uuid.UUID, maxAttempts int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET
			sweep_attempts = sweep_attempts + 1,
			needs_review = (sweep_attempts + 1 >= $1),
			updated_at = now()
		WHERE id = $2`,
		maxAttempts, id,
	)
	if err != nil {
		return fmt.Errorf("RecordSweepFailure: %w", err)
	}
	return nil
}

func (r *BookingRepository) FlagForReview(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET needs_review = TRUE, updated_at = now() WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("FlagForReview: %w", err)
	}
	return nil
}

func scanBooking(s scanner) (*domain.Booking, error) {
	var b domain.Booking
	err := s.Scan(
		&b.ID, &b.EventID, &b.UserID, &b.TicketCount, &b.Amount, &b.FeeAmount, &b.Currency,
		&b.State, &b.GatewayOrderID, &b.GatewayPaymentID, &b.IdempotencyKey, &b.FailureReason,
		&b.RefundedAmount, &b.SweepAttempts, &b.NeedsReview, &b.CreatedAt, &b.HoldExpiresAt,
		&b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
