package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/logging"
)

type eventReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error)
}

type EventHandler struct {
	events eventReader
}

func NewEventHandler(events eventReader) *EventHandler {
	return &EventHandler{events: events}
}

type eventDTO struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Venue       string    `json:"venue"`
	TicketPrice int64     `json:"ticket_price"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	StartsAt    time.Time `json:"starts_at"`
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	event, err := h.events.GetByID(r.Context(), eventID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("event lookup failed", "event_id", eventID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, eventDTO{
		ID:          event.ID,
		Name:        event.Name,
		Venue:       event.Venue,
		TicketPrice: event.TicketPrice,
		Currency:    string(event.Currency),
		Status:      string(event.Status),
		StartsAt:    event.StartsAt,
	})
}
