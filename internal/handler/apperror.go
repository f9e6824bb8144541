package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidTransition     = &AppError{http.StatusConflict, "INVALID_TRANSITION", "Booking state does not allow this operation"}
	ErrVersionConflict       = &AppError{http.StatusConflict, "VERSION_CONFLICT", "Booking was modified concurrently, please retry"}
	ErrInvalidSignature      = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Signature verification failed"}
	ErrGatewayUnavailable    = &AppError{http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "Payment gateway is unavailable, please retry"}
	ErrEventNotOnSale        = &AppError{http.StatusUnprocessableEntity, "EVENT_NOT_ON_SALE", "Event is not on sale"}
	ErrRefundExceedsPaid     = &AppError{http.StatusUnprocessableEntity, "REFUND_EXCEEDS_PAID", "Refund amount exceeds the amount paid"}
	ErrInvalidTicketCount    = &AppError{http.StatusBadRequest, "INVALID_TICKET_COUNT", "Ticket count must be greater than zero"}
	ErrInvalidAmount         = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
)
