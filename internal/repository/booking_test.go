package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/testutil"
)

func seedPendingBooking(t *testing.T, db *sql.DB, holdExpiresAt time.Time) *domain.Booking {
	t.Helper()

	user := testutil.SeedTestUser(t, db, uuid.NewString()+"@test.com", "Repo Tester")
	event := testutil.SeedTestEvent(t, db, "Repo Gig", 50_000, domain.CurrencyINR)

	return testutil.SeedTestBooking(t, db, &domain.Booking{
		ID:            uuid.New(),
		EventID:       event.ID,
		UserID:        user.ID,
		TicketCount:   1,
		Amount:        51_750,
		FeeAmount:     1_750,
		Currency:      domain.CurrencyINR,
		State:         domain.BookingStatePending,
		HoldExpiresAt: holdExpiresAt,
	})
}

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	require.NoError(t, tx.Commit())
	return nil
}

func TestBookingRepository_CreateDuplicateIdempotencyKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewBookingRepository(db)

	b := seedPendingBooking(t, db, time.Now().UTC().Add(15*time.Minute))

	dup := *b
	dup.ID = uuid.New()
	err := inTx(t, db, func(tx *sql.Tx) error {
		return repo.Create(ctx, tx, &dup)
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateKey)
}

func TestBookingRepository_UpdateStateCAS(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewBookingRepository(db)

	b := seedPendingBooking(t, db, time.Now().UTC().Add(15*time.Minute))

	paymentID := "pay_cas1"
	err := inTx(t, db, func(tx *sql.Tx) error {
		return repo.UpdateState(ctx, tx, b.ID, 0, StateUpdate{
			State:            domain.BookingStateConfirmed,
			GatewayPaymentID: &paymentID,
		})
	})
	require.NoError(t, err)

	updated, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStateConfirmed, updated.State)
	assert.Equal(t, int64(1), updated.Version)
	require.NotNil(t, updated.GatewayPaymentID)
	assert.Equal(t, paymentID, *updated.GatewayPaymentID)

	// a writer still holding the old version must lose
	err = inTx(t, db, func(tx *sql.Tx) error {
		return repo.UpdateState(ctx, tx, b.ID, 0, StateUpdate{State: domain.BookingStateExpired})
	})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	// and an unknown id is reported as such, not as a conflict
	err = inTx(t, db, func(tx *sql.Tx) error {
		return repo.UpdateState(ctx, tx, uuid.New(), 0, StateUpdate{State: domain.BookingStateExpired})
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBookingRepository_SetGatewayOrderIsSetOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewBookingRepository(db)

	b := seedPendingBooking(t, db, time.Now().UTC().Add(15*time.Minute))

	require.NoError(t, repo.SetGatewayOrder(ctx, b.ID, "order_once1"))

	// same id again is fine, a different id is not
	require.NoError(t, repo.SetGatewayOrder(ctx, b.ID, "order_once1"))
	err := repo.SetGatewayOrder(ctx, b.ID, "order_other")
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	got, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.GatewayOrderID)
	assert.Equal(t, "order_once1", *got.GatewayOrderID)
}

func TestBookingRepository_FindExpiredPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewBookingRepository(db)

	now := time.Now().UTC()
	overdue := seedPendingBooking(t, db, now.Add(-time.Minute))
	fresh := seedPendingBooking(t, db, now.Add(15*time.Minute))

	// confirmed bookings never show up, whatever the deadline says
	confirmed := seedPendingBooking(t, db, now.Add(-time.Hour))
	err := inTx(t, db, func(tx *sql.Tx) error {
		return repo.UpdateState(ctx, tx, confirmed.ID, 0, StateUpdate{State: domain.BookingStateConfirmed})
	})
	require.NoError(t, err)

	// retries exhausted: excluded from the sweep
	exhausted := seedPendingBooking(t, db, now.Add(-time.Hour))
	for range 5 {
		require.NoError(t, repo.RecordSweepFailure(ctx, exhausted.ID, 5))
	}

	found, err := repo.FindExpiredPending(ctx, now, 5, 100)
	require.NoError(t, err)

	ids := make([]uuid.UUID, 0, len(found))
	for _, b := range found {
		ids = append(ids, b.ID)
	}
	assert.Contains(t, ids, overdue.ID)
	assert.NotContains(t, ids, fresh.ID)
	assert.NotContains(t, ids, confirmed.ID)
	assert.NotContains(t, ids, exhausted.ID)
}

func TestBookingRepository_RecordSweepFailureFlagsAtMax(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewBookingRepository(db)

	b := seedPendingBooking(t, db, time.Now().UTC().Add(-time.Minute))

	require.NoError(t, repo.RecordSweepFailure(ctx, b.ID, 3))
	require.NoError(t, repo.RecordSweepFailure(ctx, b.ID, 3))

	got, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SweepAttempts)
	assert.False(t, got.NeedsReview)

	require.NoError(t, repo.RecordSweepFailure(ctx, b.ID, 3))

	got, err = repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SweepAttempts)
	assert.True(t, got.NeedsReview)
}

func TestWebhookEventRepository_MarkProcessedOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewWebhookEventRepository(db)

	event := &domain.WebhookEvent{
		ID:             uuid.New(),
		GatewayEventID: "evt_once1",
		EventType:      domain.WebhookEventTypePaymentCaptured,
		Payload:        []byte(`{"event_id":"evt_once1"}`),
		PayloadHash:    "hash1",
		ReceivedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, event))

	// redelivery of the same gateway event id
	dup := *event
	dup.ID = uuid.New()
	assert.ErrorIs(t, repo.Create(ctx, &dup), domain.ErrDuplicateKey)

	require.NoError(t, repo.MarkProcessed(ctx, event.ID, nil))

	got, err := repo.GetByID(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ProcessedAt)
	firstStamp := *got.ProcessedAt

	// a second mark does not move the stamp
	require.NoError(t, repo.MarkProcessed(ctx, event.ID, nil))
	got, err = repo.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, firstStamp, *got.ProcessedAt)
}

func TestWebhookEventRepository_FindUnprocessed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewWebhookEventRepository(db)

	old := &domain.WebhookEvent{
		ID:             uuid.New(),
		GatewayEventID: "evt_old1",
		EventType:      domain.WebhookEventTypePaymentCaptured,
		Payload:        []byte(`{}`),
		PayloadHash:    "h1",
		ReceivedAt:     time.Now().UTC().Add(-time.Minute),
	}
	recent := &domain.WebhookEvent{
		ID:             uuid.New(),
		GatewayEventID: "evt_recent1",
		EventType:      domain.WebhookEventTypePaymentCaptured,
		Payload:        []byte(`{}`),
		PayloadHash:    "h2",
		ReceivedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, recent))

	cutoff := time.Now().UTC().Add(-30 * time.Second)
	found, err := repo.FindUnprocessed(ctx, cutoff, 5, 100)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, old.ID, found[0].ID)

	// exhausting attempts flags the event and removes it from the replay set
	for range 5 {
		require.NoError(t, repo.RecordFailure(ctx, old.ID, "boom", 5))
	}
	found, err = repo.FindUnprocessed(ctx, cutoff, 5, 100)
	require.NoError(t, err)
	assert.Empty(t, found)

	got, err := repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsReview)
}
