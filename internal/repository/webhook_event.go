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

const webhookEventColumns = `id, gateway_event_id, event_type, payload, payload_hash,
	attempts, last_error, needs_review, received_at, processed_at`

type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create stores an inbound gateway event. The unique index on
// gateway_event_id makes redelivery a ErrDuplicateKey, which ingestion
// treats as already-received.
func (r *WebhookEventRepository) Create(ctx context.Context, event *domain.WebhookEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (
			id, gateway_event_id, event_type, payload, payload_hash,
			attempts, last_error, needs_review, received_at, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.GatewayEventID, event.EventType, event.Payload, event.PayloadHash,
		event.Attempts, event.LastError, event.NeedsReview, event.ReceivedAt, event.ProcessedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *WebhookEventRepository) GetByGatewayEventID(ctx context.Context, gatewayEventID string) (*domain.WebhookEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE gateway_event_id = $1`,
		gatewayEventID,
	)
	e, err := scanWebhookEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByGatewayEventID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByGatewayEventID: %w", err)
	}
	return e, nil
}

func (r *WebhookEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE id = $1`, id,
	)
	e, err := scanWebhookEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return e, nil
}

// FindUnprocessed returns stored events that never completed their
// transition and are older than the grace period, oldest first.
func (r *WebhookEventRepository) FindUnprocessed(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]domain.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE processed_at IS NULL AND received_at < $1 AND attempts < $2 AND NOT needs_review
		ORDER BY received_at LIMIT $3`,
		olderThan, maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("FindUnprocessed: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("FindUnprocessed: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindUnprocessed: rows: %w", err)
	}
	return events, nil
}

// MarkProcessed stamps processed_at exactly once. A second call is a no-op,
// which is what makes event processing idempotent end to end.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, note *string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET
			processed_at = now(),
			attempts = attempts + 1,
			last_error = $1
		WHERE id = $2 AND processed_at IS NULL`,
		note, id,
	)
	if err != nil {
		return fmt.Errorf("MarkProcessed: %w", err)
	}
	return nil
}

// RecordFailure bumps the attempt counter after a transient processing
// error and flags the event for manual review when maxAttempts is reached.
func (r *WebhookEventRepository) RecordFailure(ctx context.Context, id uuid.UUID, cause string, maxAttempts int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET
			attempts = attempts + 1,
			last_error = $1,
			needs_review = (attempts + 1 >= $2)
		WHERE id = $3 AND processed_at IS NULL`,
		cause, maxAttempts, id,
	)
	if err != nil {
		return fmt.Errorf("RecordFailure: %w", err)
	}
	return nil
}

// FlagForReview marks an event that must not be retried automatically,
// e.g. a redelivery whose payload hash no longer matches the stored body.
func (r *WebhookEventRepository) FlagForReview(ctx context.Context, id uuid.UUID, cause string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET needs_review = TRUE, last_error = $1 WHERE id = $2`,
		cause, id,
	)
	if err != nil {
		return fmt.Errorf("FlagForReview: %w", err)
	}
	return nil
}

func scanWebhookEvent(s scanner) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	err := s.Scan(
		&e.ID, &e.GatewayEventID, &e.EventType, &e.Payload, &e.PayloadHash,
		&e.Attempts, &e.LastError, &e.NeedsReview, &e.ReceivedAt, &e.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
