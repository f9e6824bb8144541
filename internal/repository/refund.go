package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/domain"
)

const refundColumns = `id, booking_id, gateway_refund_id, amount, currency, created_at`

type RefundRepository struct {
	db *sql.DB
}

func NewRefundRepository(db *sql.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

// Create appends a gateway-acknowledged refund row. gateway_refund_id is
// unique so a replayed refund.created webhook cannot double-record.
func (r *RefundRepository) Create(ctx context.Context, tx *sql.Tx, refund *domain.Refund) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO refunds (id, booking_id, gateway_refund_id, amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		refund.ID, refund.BookingID, refund.GatewayRefundID, refund.Amount,
		refund.Currency, refund.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *RefundRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.Refund, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+refundColumns+` FROM refunds
		WHERE booking_id = $1 ORDER BY created_at`, bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByBookingID: %w", err)
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		var rf domain.Refund
		if err := rows.Scan(
			&rf.ID, &rf.BookingID, &rf.GatewayRefundID, &rf.Amount,
			&rf.Currency, &rf.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("GetByBookingID: scan: %w", err)
		}
		refunds = append(refunds, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByBookingID: rows: %w", err)
	}
	return refunds, nil
}
