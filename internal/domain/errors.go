package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidTicketCount = errors.New("ticket count must be greater than zero")
	ErrDuplicateKey       = errors.New("duplicate key")
	ErrVersionConflict    = errors.New("optimistic lock conflict")
	ErrInvalidTransition  = errors.New("invalid booking state transition")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrRefundExceedsPaid  = errors.New("refund amount exceeds captured amount")
	ErrEventNotOnSale     = errors.New("event is not on sale")
)
