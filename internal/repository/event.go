package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/domain"
)

const eventColumns = `id, name, venue, ticket_price, currency, status, starts_at, created_at`

// EventRepository is read-only: the event catalog is owned elsewhere and
// this core only snapshots prices at hold creation.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id,
	)

	var e domain.Event
	err := row.Scan(
		&e.ID, &e.Name, &e.Venue, &e.TicketPrice, &e.Currency,
		&e.Status, &e.StartsAt, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return &e, nil
}
