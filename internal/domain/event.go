package domain

import (
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	CurrencyINR Currency = "INR"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyINR, CurrencyUSD, CurrencyEUR:
		return true
	}
	return false
}

type EventStatus string

const (
	EventStatusDraft    EventStatus = "draft"
	EventStatusOnSale   EventStatus = "on_sale"
	EventStatusSoldOut  EventStatus = "sold_out"
	EventStatusArchived EventStatus = "archived"
)

// Event is owned by the catalog service; this core only reads it to
// validate existence and to snapshot the ticket price at hold creation.
type Event struct {
	ID          uuid.UUID
	Name        string
	Venue       string
	TicketPrice int64
	Currency    Currency
	Status      EventStatus
	StartsAt    time.Time
	CreatedAt   time.Time
}
