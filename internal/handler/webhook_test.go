package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/gateway"
)

const testWebhookSecret = "test-secret-key"

type mockWebhookRepo struct {
	created *domain.WebhookEvent
	stored  *domain.WebhookEvent
	flagged []uuid.UUID
	err     error
}

func (m *mockWebhookRepo) Create(_ context.Context, event *domain.WebhookEvent) error {
	if m.err != nil {
		return m.err
	}
	m.created = event
	return nil
}

func (m *mockWebhookRepo) GetByGatewayEventID(_ context.Context, _ string) (*domain.WebhookEvent, error) {
	if m.stored == nil {
		return nil, domain.ErrNotFound
	}
	return m.stored, nil
}

func (m *mockWebhookRepo) FlagForReview(_ context.Context, id uuid.UUID, _ string) error {
	m.flagged = append(m.flagged, id)
	return nil
}

type mockAsyncProcessor struct {
	events []domain.WebhookEvent
}

func (m *mockAsyncProcessor) ProcessAsync(event domain.WebhookEvent) {
	m.events = append(m.events, event)
}

func validWebhookBody() string {
	b, _ := json.Marshal(map[string]any{
		"event_id": uuid.NewString(),
		"event":    "payment.captured",
		"payload": map[string]any{
			"order_id":   "order_abc",
			"payment_id": "pay_abc",
		},
	})
	return string(b)
}

func TestReceiveGatewayWebhook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setupSig   func(body string) string
		repoErr    error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "valid signed webhook",
			body:       validWebhookBody(),
			setupSig:   func(body string) string { return gateway.Sign([]byte(body), testWebhookSecret) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing signature header",
			body:       validWebhookBody(),
			setupSig:   nil,
			wantStatus: http.StatusUnauthorized,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name:       "invalid signature",
			body:       validWebhookBody(),
			setupSig:   func(_ string) string { return "deadbeefdeadbeef" },
			wantStatus: http.StatusUnauthorized,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name: "signature over different body",
			body: validWebhookBody(),
			setupSig: func(_ string) string {
				return gateway.Sign([]byte(`{"event_id":"other"}`), testWebhookSecret)
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name:       "empty body",
			body:       "",
			setupSig:   func(body string) string { return gateway.Sign([]byte(body), testWebhookSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "invalid JSON body",
			body:       "not-json",
			setupSig:   func(body string) string { return gateway.Sign([]byte(body), testWebhookSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name: "missing required fields",
			body: func() string {
				b, _ := json.Marshal(map[string]string{"event": "payment.captured"})
				return string(b)
			}(),
			setupSig:   func(body string) string { return gateway.Sign([]byte(body), testWebhookSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "repository error returns 500",
			body:       validWebhookBody(),
			setupSig:   func(body string) string { return gateway.Sign([]byte(body), testWebhookSecret) },
			repoErr:    fmt.Errorf("connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockWebhookRepo{err: tc.repoErr}
			processor := &mockAsyncProcessor{}
			h := NewWebhookHandler(repo, processor, testWebhookSecret)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(tc.body))
			if tc.setupSig != nil {
				req.Header.Set("X-Gateway-Signature", tc.setupSig(tc.body))
			}
			rr := httptest.NewRecorder()

			h.ReceiveGatewayWebhook(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)

			var resp APIResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

			if tc.wantCode == "" {
				assert.True(t, resp.Success)
				assert.Len(t, processor.events, 1)
			} else {
				assert.False(t, resp.Success)
				require.NotNil(t, resp.Error)
				assert.Equal(t, tc.wantCode, resp.Error.Code)
				assert.Empty(t, processor.events)
			}
		})
	}
}

func TestReceiveGatewayWebhook_StoresCorrectEvent(t *testing.T) {
	repo := &mockWebhookRepo{}
	processor := &mockAsyncProcessor{}
	h := NewWebhookHandler(repo, processor, testWebhookSecret)

	body := validWebhookBody()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(body))
	req.Header.Set("X-Gateway-Signature", gateway.Sign([]byte(body), testWebhookSecret))
	rr := httptest.NewRecorder()

	h.ReceiveGatewayWebhook(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, repo.created)
	assert.Equal(t, domain.WebhookEventTypePaymentCaptured, repo.created.EventType)
	assert.NotEqual(t, uuid.Nil, repo.created.ID)
	assert.Equal(t, json.RawMessage(body), repo.created.Payload)

	hash := sha256.Sum256([]byte(body))
	assert.Equal(t, hex.EncodeToString(hash[:]), repo.created.PayloadHash)
	assert.Nil(t, repo.created.ProcessedAt)
}

func TestReceiveGatewayWebhook_DuplicateSameBody(t *testing.T) {
	body := validWebhookBody()
	hash := sha256.Sum256([]byte(body))

	repo := &mockWebhookRepo{
		err: domain.ErrDuplicateKey,
		stored: &domain.WebhookEvent{
			ID:          uuid.New(),
			PayloadHash: hex.EncodeToString(hash[:]),
			ReceivedAt:  time.Now().UTC(),
		},
	}
	processor := &mockAsyncProcessor{}
	h := NewWebhookHandler(repo, processor, testWebhookSecret)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(body))
	req.Header.Set("X-Gateway-Signature", gateway.Sign([]byte(body), testWebhookSecret))
	rr := httptest.NewRecorder()

	h.ReceiveGatewayWebhook(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{"status": "already_received"}, resp.Data)

	// a plain redelivery is not reprocessed and not flagged
	assert.Empty(t, processor.events)
	assert.Empty(t, repo.flagged)
}

func TestReceiveGatewayWebhook_DuplicateDifferentBodyFlagged(t *testing.T) {
	storedID := uuid.New()
	repo := &mockWebhookRepo{
		err: domain.ErrDuplicateKey,
		stored: &domain.WebhookEvent{
			ID:          storedID,
			PayloadHash: "different-hash",
			ReceivedAt:  time.Now().UTC(),
		},
	}
	processor := &mockAsyncProcessor{}
	h := NewWebhookHandler(repo, processor, testWebhookSecret)

	body := validWebhookBody()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(body))
	req.Header.Set("X-Gateway-Signature", gateway.Sign([]byte(body), testWebhookSecret))
	rr := httptest.NewRecorder()

	h.ReceiveGatewayWebhook(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []uuid.UUID{storedID}, repo.flagged)
	assert.Empty(t, processor.events)
}
