package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/auth"
	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/logging"
	"github.com/tickethub/booking-core/internal/service/booking"
)

type bookingService interface {
	CreateHold(ctx context.Context, req booking.CreateHoldRequest) (*domain.Booking, error)
	VerifyPayment(ctx context.Context, req booking.VerifyPaymentRequest) (*domain.Booking, error)
	Cancel(ctx context.Context, bookingID, userID uuid.UUID) (*domain.Booking, error)
	Refund(ctx context.Context, req booking.RefundRequest) (*domain.Booking, error)
	GetBookingForUser(ctx context.Context, id, userID uuid.UUID) (*domain.Booking, error)
	GetBookingHistory(ctx context.Context, bookingID uuid.UUID) ([]domain.BookingEvent, error)
	GetRefunds(ctx context.Context, bookingID uuid.UUID) ([]domain.Refund, error)
}

type BookingHandler struct {
	bookings bookingService
}

func NewBookingHandler(bookings bookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

type createBookingRequest struct {
	EventID     string `json:"event_id"`
	TicketCount int    `json:"ticket_count"`
}

func (r createBookingRequest) Validate() []FieldError {
	var errs []FieldError

	if r.EventID == "" {
		errs = append(errs, FieldError{Field: "event_id", Message: "required"})
	} else if _, err := uuid.Parse(r.EventID); err != nil {
		errs = append(errs, FieldError{Field: "event_id", Message: "must be a valid UUID"})
	}

	if r.TicketCount <= 0 {
		errs = append(errs, FieldError{Field: "ticket_count", Message: "must be greater than 0"})
	}

	return errs
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

func (r verifyPaymentRequest) Validate() []FieldError {
	var errs []FieldError

	if r.GatewayOrderID == "" {
		errs = append(errs, FieldError{Field: "gateway_order_id", Message: "required"})
	}
	if r.GatewayPaymentID == "" {
		errs = append(errs, FieldError{Field: "gateway_payment_id", Message: "required"})
	}
	if r.Signature == "" {
		errs = append(errs, FieldError{Field: "signature", Message: "required"})
	}

	return errs
}

type refundRequest struct {
	// Amount in minor units; omitted means refund the full remaining amount.
	Amount *int64 `json:"amount"`
}

func (r refundRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Amount != nil && *r.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}
	return errs
}

type bookingDTO struct {
	ID               uuid.UUID  `json:"id"`
	EventID          uuid.UUID  `json:"event_id"`
	TicketCount      int        `json:"ticket_count"`
	Amount           int64      `json:"amount"`
	FeeAmount        int64      `json:"fee_amount"`
	Currency         string     `json:"currency"`
	State            string     `json:"state"`
	GatewayOrderID   *string    `json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string    `json:"gateway_payment_id,omitempty"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	RefundedAmount   int64      `json:"refunded_amount"`
	CreatedAt        time.Time  `json:"created_at"`
	HoldExpiresAt    time.Time  `json:"hold_expires_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toBookingDTO(b *domain.Booking) bookingDTO {
	return bookingDTO{
		ID:               b.ID,
		EventID:          b.EventID,
		TicketCount:      b.TicketCount,
		Amount:           b.Amount,
		FeeAmount:        b.FeeAmount,
		Currency:         string(b.Currency),
		State:            string(b.State),
		GatewayOrderID:   b.GatewayOrderID,
		GatewayPaymentID: b.GatewayPaymentID,
		FailureReason:    b.FailureReason,
		RefundedAmount:   b.RefundedAmount,
		CreatedAt:        b.CreatedAt,
		HoldExpiresAt:    b.HoldExpiresAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

type bookingEventDTO struct {
	EventType string          `json:"event_type"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type refundDTO struct {
	ID              uuid.UUID `json:"id"`
	GatewayRefundID string    `json:"gateway_refund_id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	CreatedAt       time.Time `json:"created_at"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		RespondAppError(w, ErrMissingIdempotencyKey, nil)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	eventID, _ := uuid.Parse(req.EventID)
	b, err := h.bookings.CreateHold(r.Context(), booking.CreateHoldRequest{
		EventID:        eventID,
		UserID:         userID,
		TicketCount:    req.TicketCount,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		log.Warn("hold creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/bookings/%s", b.ID))
	RespondSuccess(w, http.StatusCreated, toBookingDTO(b))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	bookingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	b, err := h.bookings.GetBookingForUser(r.Context(), bookingID, userID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("booking lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toBookingDTO(b))
}

// GetHistory returns the append-only audit trail of a booking.
func (h *BookingHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	bookingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	// ownership check rides on the booking lookup
	if _, err := h.bookings.GetBookingForUser(r.Context(), bookingID, userID); err != nil {
		RespondDomainError(w, err)
		return
	}

	events, err := h.bookings.GetBookingHistory(r.Context(), bookingID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("history lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]bookingEventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, bookingEventDTO{
			EventType: string(e.EventType),
			Actor:     e.Actor,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt,
		})
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *BookingHandler) GetRefunds(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	bookingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	if _, err := h.bookings.GetBookingForUser(r.Context(), bookingID, userID); err != nil {
		RespondDomainError(w, err)
		return
	}

	refunds, err := h.bookings.GetRefunds(r.Context(), bookingID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("refund lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]refundDTO, 0, len(refunds))
	for _, rf := range refunds {
		dtos = append(dtos, refundDTO{
			ID:              rf.ID,
			GatewayRefundID: rf.GatewayRefundID,
			Amount:          rf.Amount,
			Currency:        string(rf.Currency),
			CreatedAt:       rf.CreatedAt,
		})
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

// Verify confirms a pending booking from the checkout callback the client
// relays after paying.
func (h *BookingHandler) Verify(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	bookingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	b, err := h.bookings.VerifyPayment(r.Context(), booking.VerifyPaymentRequest{
		BookingID:        bookingID,
		UserID:           userID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		log.Warn("payment verification failed", "booking_id", bookingID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toBookingDTO(b))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	bookingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	b, err := h.bookings.Cancel(r.Context(), bookingID, userID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("cancellation failed", "booking_id", bookingID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toBookingDTO(b))
}

func (h *BookingHandler) Refund(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	bookingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req refundRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondAppError(w, ErrInvalidRequest, nil)
			return
		}
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	b, err := h.bookings.Refund(r.Context(), booking.RefundRequest{
		BookingID: bookingID,
		UserID:    userID,
		Amount:    req.Amount,
	})
	if err != nil {
		log.Warn("refund failed", "booking_id", bookingID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusAccepted, toBookingDTO(b))
}
