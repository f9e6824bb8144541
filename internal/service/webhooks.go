package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/logging"
)

type bookingMachine interface {
	ApplyPaymentCaptured(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*domain.Booking, error)
	ApplyPaymentFailed(ctx context.Context, gatewayOrderID, reason string) (*domain.Booking, error)
	ApplyRefundCreated(ctx context.Context, gatewayOrderID, gatewayRefundID string, amount int64) (*domain.Booking, error)
}

type processorEventRepo interface {
	MarkProcessed(ctx context.Context, id uuid.UUID, note *string) error
	RecordFailure(ctx context.Context, id uuid.UUID, cause string, maxAttempts int) error
	FlagForReview(ctx context.Context, id uuid.UUID, cause string) error
}

// WebhookProcessor turns a durably stored gateway event into a booking
// transition. Ingestion runs it right after the 200 ack; the reconciler
// replays anything that did not finish.
type WebhookProcessor struct {
	events      processorEventRepo
	machine     bookingMachine
	logger      *slog.Logger
	maxAttempts int
}

func NewWebhookProcessor(events processorEventRepo, machine bookingMachine, logger *slog.Logger, maxAttempts int) *WebhookProcessor {
	return &WebhookProcessor{
		events:      events,
		machine:     machine,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// gatewayEventPayload is the body shape the gateway posts. Only the fields
// a transition needs are read; the full raw body stays on the stored event.
type gatewayEventPayload struct {
	Payload struct {
		OrderID   string `json:"order_id"`
		PaymentID string `json:"payment_id"`
		RefundID  string `json:"refund_id"`
		Amount    int64  `json:"amount"`
		Reason    string `json:"reason"`
	} `json:"payload"`
}

// ProcessAsync applies the event on a detached context so a slow transition
// cannot hold up the webhook response already sent to the gateway.
func (p *WebhookProcessor) ProcessAsync(event domain.WebhookEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		ctx = logging.WithLogger(ctx, p.logger)

		if err := p.Process(ctx, event); err != nil {
			p.logger.Error("webhook processing failed",
				"webhook_event_id", event.ID,
				"gateway_event_id", event.GatewayEventID,
				"error", err,
			)
		}
	}()
}

// Process is idempotent: a processed event is a no-op, a guard rejection is
// a final decision recorded on the event, and only transient failures leave
// the event unprocessed for the reconciler to retry.
func (p *WebhookProcessor) Process(ctx context.Context, event domain.WebhookEvent) error {
	if event.ProcessedAt != nil {
		return nil
	}

	var payload gatewayEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		p.logger.Error("malformed webhook payload", "webhook_event_id", event.ID, "error", err)
		return p.events.FlagForReview(ctx, event.ID, "malformed payload")
	}

	if !domain.KnownWebhookEventType(event.EventType) {
		p.logger.Info("ignoring unknown webhook event type",
			"webhook_event_id", event.ID,
			"event_type", event.EventType,
		)
		note := "ignored: unknown event type"
		return p.events.MarkProcessed(ctx, event.ID, &note)
	}

	err := p.dispatch(ctx, event, payload)
	if err == nil {
		return p.events.MarkProcessed(ctx, event.ID, nil)
	}

	// Guard rejections and unknown orders are final: the state machine has
	// spoken and retrying will not change its mind. Record and move on.
	if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn("webhook event rejected by state machine",
			"webhook_event_id", event.ID,
			"gateway_event_id", event.GatewayEventID,
			"event_type", event.EventType,
			"error", err,
		)
		note := err.Error()
		return p.events.MarkProcessed(ctx, event.ID, &note)
	}

	if recErr := p.events.RecordFailure(ctx, event.ID, err.Error(), p.maxAttempts); recErr != nil {
		return fmt.Errorf("Process: %w (record failure: %v)", err, recErr)
	}
	return fmt.Errorf("Process: %w", err)
}

func (p *WebhookProcessor) dispatch(ctx context.Context, event domain.WebhookEvent, payload gatewayEventPayload) error {
	switch event.EventType {
	case domain.WebhookEventTypePaymentCaptured:
		_, err := p.machine.ApplyPaymentCaptured(ctx, payload.Payload.OrderID, payload.Payload.PaymentID)
		return err
	case domain.WebhookEventTypePaymentFailed:
		_, err := p.machine.ApplyPaymentFailed(ctx, payload.Payload.OrderID, payload.Payload.Reason)
		return err
	case domain.WebhookEventTypeRefundCreated:
		_, err := p.machine.ApplyRefundCreated(ctx, payload.Payload.OrderID, payload.Payload.RefundID, payload.Payload.Amount)
		return err
	default:
		return fmt.Errorf("dispatch: unhandled event type %s", event.EventType)
	}
}
