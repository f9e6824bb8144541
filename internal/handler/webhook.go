package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/gateway"
	"github.com/tickethub/booking-core/internal/logging"
)

type webhookEventRepository interface {
	Create(ctx context.Context, event *domain.WebhookEvent) error
	GetByGatewayEventID(ctx context.Context, gatewayEventID string) (*domain.WebhookEvent, error)
	FlagForReview(ctx context.Context, id uuid.UUID, cause string) error
}

type webhookProcessor interface {
	ProcessAsync(event domain.WebhookEvent)
}

// WebhookHandler ingests gateway webhooks: verify the signature over the
// exact raw body, store the event durably, ack, and hand processing off.
// The booking transition never runs on the request path.
type WebhookHandler struct {
	webhooks  webhookEventRepository
	processor webhookProcessor
	secret    string
}

func NewWebhookHandler(webhooks webhookEventRepository, processor webhookProcessor, secret string) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, processor: processor, secret: secret}
}

type webhookEnvelope struct {
	EventID string          `json:"event_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (p webhookEnvelope) validate() []FieldError {
	var errs []FieldError

	if p.EventID == "" {
		errs = append(errs, FieldError{Field: "event_id", Message: "required"})
	}
	if p.Event == "" {
		errs = append(errs, FieldError{Field: "event", Message: "required"})
	}

	return errs
}

func (h *WebhookHandler) ReceiveGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	// Signature covers the raw bytes as received. Parsing first and
	// re-serializing would break verification on any formatting difference.
	sig := r.Header.Get("X-Gateway-Signature")
	if !gateway.VerifySignature(body, sig, h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.Warn("failed to parse webhook payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := envelope.validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	hash := sha256.Sum256(body)
	event := &domain.WebhookEvent{
		ID:             uuid.New(),
		GatewayEventID: envelope.EventID,
		EventType:      domain.WebhookEventType(envelope.Event),
		Payload:        body,
		PayloadHash:    hex.EncodeToString(hash[:]),
		ReceivedAt:     time.Now().UTC(),
	}

	if err := h.webhooks.Create(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			h.handleDuplicate(w, r, envelope.EventID, event.PayloadHash)
			return
		}
		log.Error("failed to store webhook event", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("webhook event stored",
		"webhook_event_id", event.ID,
		"gateway_event_id", envelope.EventID,
		"event_type", event.EventType,
	)

	h.processor.ProcessAsync(*event)

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})
}

// handleDuplicate acks a redelivery. A redelivery whose body differs from
// the stored one is suspicious: same event id, different content. The
// stored event is flagged and the original body stays authoritative.
func (h *WebhookHandler) handleDuplicate(w http.ResponseWriter, r *http.Request, gatewayEventID, payloadHash string) {
	log := logging.FromContext(r.Context())

	stored, err := h.webhooks.GetByGatewayEventID(r.Context(), gatewayEventID)
	if err != nil {
		log.Error("failed to load duplicate webhook event", "gateway_event_id", gatewayEventID, "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	if stored.PayloadHash != payloadHash {
		log.Warn("duplicate webhook with differing payload",
			"gateway_event_id", gatewayEventID,
			"webhook_event_id", stored.ID,
		)
		if err := h.webhooks.FlagForReview(r.Context(), stored.ID, "redelivery payload mismatch"); err != nil {
			log.Error("failed to flag webhook event", "webhook_event_id", stored.ID, "error", err)
		}
	} else {
		log.Info("duplicate webhook received", "gateway_event_id", gatewayEventID)
	}

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
}
