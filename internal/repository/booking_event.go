package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/domain"
)

const bookingEventColumns = `id, booking_id, event_type, actor, payload, created_at`

type BookingEventRepository struct {
	db *sql.DB
}

func NewBookingEventRepository(db *sql.DB) *BookingEventRepository {
	return &BookingEventRepository{db: db}
}

func (r *BookingEventRepository) Create(ctx context.Context, tx *sql.Tx, event *domain.BookingEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO booking_events (id, booking_id, event_type, actor, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.BookingID, event.EventType, event.Actor,
		event.Payload, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *BookingEventRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.BookingEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingEventColumns+` FROM booking_events
		WHERE booking_id = $1 ORDER BY created_at`, bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByBookingID: %w", err)
	}
	defer rows.Close()

	var events []domain.BookingEvent
	for rows.Next() {
		e, err := scanBookingEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByBookingID: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByBookingID: rows: %w", err)
	}
	return events, nil
}

func scanBookingEvent(s scanner) (*domain.BookingEvent, error) {
	var e domain.BookingEvent
	err := s.Scan(
		&e.ID, &e.BookingID, &e.EventType, &e.Actor,
		&e.Payload, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
