package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tickethub/booking-core/internal/domain"
)

func SeedTestUser(t *testing.T, db *sql.DB, email, name string) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Status:       domain.UserStatusActive,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = db.Exec(
		`INSERT INTO users (id, email, name, password_hash, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Status, u.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed test user %s: %v", email, err)
	}
	return u
}

func SeedSuspendedUser(t *testing.T, db *sql.DB, email string) *domain.User {
	t.Helper()

	u := SeedTestUser(t, db, email, "Suspended")
	if _, err := db.Exec(`UPDATE users SET status = 'suspended' WHERE id = $1`, u.ID); err != nil {
		t.Fatalf("suspend test user %s: %v", email, err)
	}
	u.Status = domain.UserStatusSuspended
	return u
}

func SeedTestEvent(t *testing.T, db *sql.DB, name string, ticketPrice int64, currency domain.Currency) *domain.Event {
	t.Helper()

	e := &domain.Event{
		ID:          uuid.New(),
		Name:        name,
		Venue:       "Test Arena",
		TicketPrice: ticketPrice,
		Currency:    currency,
		Status:      domain.EventStatusOnSale,
		StartsAt:    time.Now().UTC().Add(30 * 24 * time.Hour),
		CreatedAt:   time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO events (id, name, venue, ticket_price, currency, status, starts_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Name, e.Venue, e.TicketPrice, e.Currency, e.Status, e.StartsAt, e.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed test event %s: %v", name, err)
	}
	return e
}

func SetEventStatus(t *testing.T, db *sql.DB, eventID uuid.UUID, status domain.EventStatus) {
	t.Helper()

	if _, err := db.Exec(`UPDATE events SET status = $1 WHERE id = $2`, status, eventID); err != nil {
		t.Fatalf("set event status: %v", err)
	}
}

// SeedTestBooking inserts a booking directly, bypassing the service layer.
// Useful for sweeping and transition tests that need a booking in a
// specific starting state.
func SeedTestBooking(t *testing.T, db *sql.DB, b *domain.Booking) *domain.Booking {
	t.Helper()

	if b.IdempotencyKey == "" {
		b.IdempotencyKey = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}

	_, err := db.Exec(
		`INSERT INTO bookings (
			id, event_id, user_id, ticket_count, amount, fee_amount, currency,
			state, gateway_order_id, gateway_payment_id, idempotency_key, failure_reason,
			refunded_amount, sweep_attempts, needs_review, created_at, hold_expires_at,
			updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		)`,
		b.ID, b.EventID, b.UserID, b.TicketCount, b.Amount, b.FeeAmount, b.Currency,
		b.State, b.GatewayOrderID, b.GatewayPaymentID, b.IdempotencyKey, b.FailureReason,
		b.RefundedAmount, b.SweepAttempts, b.NeedsReview, b.CreatedAt, b.HoldExpiresAt,
		b.UpdatedAt, b.Version,
	)
	if err != nil {
		t.Fatalf("seed test booking %s: %v", b.ID, err)
	}
	return b
}

func GetBookingState(t *testing.T, db *sql.DB, bookingID uuid.UUID) domain.BookingState {
	t.Helper()

	var state domain.BookingState
	if err := db.QueryRow(`SELECT state FROM bookings WHERE id = $1`, bookingID).Scan(&state); err != nil {
		t.Fatalf("get booking state %s: %v", bookingID, err)
	}
	return state
}

func CountBookingEvents(t *testing.T, db *sql.DB, bookingID uuid.UUID) int {
	t.Helper()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM booking_events WHERE booking_id = $1`, bookingID).Scan(&count); err != nil {
		t.Fatalf("count booking events %s: %v", bookingID, err)
	}
	return count
}
