package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookEventType string

const (
	WebhookEventTypePaymentCaptured WebhookEventType = "payment.captured"
	WebhookEventTypePaymentFailed   WebhookEventType = "payment.failed"
	WebhookEventTypeRefundCreated   WebhookEventType = "refund.created"
)

// KnownWebhookEventType reports whether the type maps to a booking
// transition. Unknown types are stored for audit but never acted on.
func KnownWebhookEventType(t WebhookEventType) bool {
	switch t {
	case WebhookEventTypePaymentCaptured, WebhookEventTypePaymentFailed, WebhookEventTypeRefundCreated:
		return true
	}
	return false
}

// WebhookEvent records one inbound gateway callback. GatewayEventID is the
// dedup key; PayloadHash detects the gateway resending a different body
// under the same id. Once ProcessedAt is set the record is immutable and
// reprocessing is a no-op.
type WebhookEvent struct {
	ID             uuid.UUID
	GatewayEventID string
	EventType      WebhookEventType
	Payload        json.RawMessage
	PayloadHash    string
	Attempts       int
	LastError      *string
	NeedsReview    bool
	ReceivedAt     time.Time
	ProcessedAt    *time.Time
}
