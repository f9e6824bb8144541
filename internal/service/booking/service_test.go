package booking

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/gateway"
	"github.com/tickethub/booking-core/internal/pricing"
	"github.com/tickethub/booking-core/internal/repository"
	"github.com/tickethub/booking-core/internal/testutil"
)

const testPaymentSecret = "test-payment-secret"

type fakeGateway struct {
	orders     atomic.Int64
	refunds    atomic.Int64
	orderDelay time.Duration
	err        error
}

func (f *fakeGateway) CreateOrder(_ context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.orderDelay > 0 {
		time.Sleep(f.orderDelay)
	}
	n := f.orders.Add(1)
	return &gateway.Order{
		ID:       fmt.Sprintf("order_fake%d", n),
		Amount:   req.Amount,
		Currency: string(req.Currency),
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}

func (f *fakeGateway) CreateRefund(_ context.Context, paymentID string, amount int64) (*gateway.Refund, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := f.refunds.Add(1)
	return &gateway.Refund{
		ID:        fmt.Sprintf("rfnd_fake%d", n),
		PaymentID: paymentID,
		Amount:    amount,
		Status:    "processed",
	}, nil
}

func setupBookingTest(t *testing.T, db *sql.DB) (*Service, *fakeGateway) {
	t.Helper()

	gw := &fakeGateway{}
	svc := NewService(
		repository.NewBookingRepository(db),
		repository.NewEventRepository(db),
		repository.NewUserRepository(db),
		repository.NewBookingEventRepository(db),
		repository.NewRefundRepository(db),
		gw,
		pricing.NewService(0.035),
		db,
		Config{
			HoldDuration:  15 * time.Minute,
			PaymentSecret: testPaymentSecret,
			CASMaxRetries: 5,
		},
	)
	return svc, gw
}

func createTestHold(t *testing.T, svc *Service, db *sql.DB) (*domain.Booking, *domain.User) {
	t.Helper()
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, uuid.NewString()+"@test.com", "Holder")
	event := testutil.SeedTestEvent(t, db, "Test Concert", 50_000, domain.CurrencyINR)

	b, err := svc.CreateHold(ctx, CreateHoldRequest{
		EventID:        event.ID,
		UserID:         user.ID,
		TicketCount:    2,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	return b, user
}

func expireHoldInDB(t *testing.T, db *sql.DB, bookingID uuid.UUID) {
	t.Helper()
	_, err := db.Exec(
		`UPDATE bookings SET hold_expires_at = now() - interval '1 minute' WHERE id = $1`,
		bookingID,
	)
	require.NoError(t, err)
}

func TestCreateHold_IdempotentReplay(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, gw := setupBookingTest(t, db)

	user := testutil.SeedTestUser(t, db, "buyer@test.com", "Buyer")
	event := testutil.SeedTestEvent(t, db, "Replay Fest", 50_000, domain.CurrencyINR)

	req := CreateHoldRequest{
		EventID:        event.ID,
		UserID:         user.ID,
		TicketCount:    2,
		IdempotencyKey: "hold-key-1",
	}

	first, err := svc.CreateHold(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatePending, first.State)
	// 2 x 50000 + 3.5% fee
	assert.Equal(t, int64(103_500), first.Amount)
	assert.Equal(t, int64(3_500), first.FeeAmount)
	require.NotNil(t, first.GatewayOrderID)

	second, err := svc.CreateHold(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, *first.GatewayOrderID, *second.GatewayOrderID)

	// the replay must not create a second gateway order
	assert.Equal(t, int64(1), gw.orders.Load())

	// exactly one audit row for creation
	assert.Equal(t, 1, testutil.CountBookingEvents(t, db, first.ID))
}

func TestCreateHold_ConcurrentSameKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, gw := setupBookingTest(t, db)
	// widen the window between booking insert and order attach
	gw.orderDelay = 50 * time.Millisecond

	user := testutil.SeedTestUser(t, db, "racer@test.com", "Racer")
	event := testutil.SeedTestEvent(t, db, "Rush Fest", 50_000, domain.CurrencyINR)

	req := CreateHoldRequest{
		EventID:        event.ID,
		UserID:         user.ID,
		TicketCount:    2,
		IdempotencyKey: "hold-race-1",
	}

	type holdResult struct {
		booking *domain.Booking
		err     error
	}

	const callers = 8
	results := make(chan holdResult, callers)
	for range callers {
		go func() {
			b, err := svc.CreateHold(ctx, req)
			results <- holdResult{booking: b, err: err}
		}()
	}

	ids := make(map[uuid.UUID]bool)
	var winner *domain.Booking
	for range callers {
		res := <-results
		require.NoError(t, res.err)
		require.NotNil(t, res.booking)
		require.NotNil(t, res.booking.GatewayOrderID)
		ids[res.booking.ID] = true
		winner = res.booking
	}

	// every caller observes the same booking behind one gateway order
	assert.Len(t, ids, 1)
	assert.Equal(t, int64(1), gw.orders.Load())
	assert.Equal(t, 1, testutil.CountBookingEvents(t, db, winner.ID))
}

func TestCreateHold_Validation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	user := testutil.SeedTestUser(t, db, "buyer@test.com", "Buyer")
	event := testutil.SeedTestEvent(t, db, "Gig", 50_000, domain.CurrencyINR)

	t.Run("missing idempotency key", func(t *testing.T) {
		_, err := svc.CreateHold(ctx, CreateHoldRequest{
			EventID: event.ID, UserID: user.ID, TicketCount: 1,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("zero tickets", func(t *testing.T) {
		_, err := svc.CreateHold(ctx, CreateHoldRequest{
			EventID: event.ID, UserID: user.ID, TicketCount: 0, IdempotencyKey: uuid.NewString(),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidTicketCount)
	})

	t.Run("event not on sale", func(t *testing.T) {
		archived := testutil.SeedTestEvent(t, db, "Old Gig", 50_000, domain.CurrencyINR)
		testutil.SetEventStatus(t, db, archived.ID, domain.EventStatusArchived)

		_, err := svc.CreateHold(ctx, CreateHoldRequest{
			EventID: archived.ID, UserID: user.ID, TicketCount: 1, IdempotencyKey: uuid.NewString(),
		})
		assert.ErrorIs(t, err, domain.ErrEventNotOnSale)
	})

	t.Run("suspended user", func(t *testing.T) {
		suspended := testutil.SeedSuspendedUser(t, db, "suspended@test.com")

		_, err := svc.CreateHold(ctx, CreateHoldRequest{
			EventID: event.ID, UserID: suspended.ID, TicketCount: 1, IdempotencyKey: uuid.NewString(),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestVerifyPayment_ConfirmsBooking(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, user := createTestHold(t, svc, db)
	paymentID := "pay_verified1"
	sig := gateway.Sign([]byte(*b.GatewayOrderID+"|"+paymentID), testPaymentSecret)

	req := VerifyPaymentRequest{
		BookingID:        b.ID,
		UserID:           user.ID,
		GatewayOrderID:   *b.GatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        sig,
	}

	confirmed, err := svc.VerifyPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStateConfirmed, confirmed.State)
	require.NotNil(t, confirmed.GatewayPaymentID)
	assert.Equal(t, paymentID, *confirmed.GatewayPaymentID)

	// replaying the same callback converges to the same outcome
	again, err := svc.VerifyPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStateConfirmed, again.State)

	assert.Equal(t, domain.BookingStateConfirmed, testutil.GetBookingState(t, db, b.ID))
	// created + confirmed, the replay adds nothing
	assert.Equal(t, 2, testutil.CountBookingEvents(t, db, b.ID))
}

func TestVerifyPayment_InvalidSignatureLeavesPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, user := createTestHold(t, svc, db)

	_, err := svc.VerifyPayment(ctx, VerifyPaymentRequest{
		BookingID:        b.ID,
		UserID:           user.ID,
		GatewayOrderID:   *b.GatewayOrderID,
		GatewayPaymentID: "pay_forged",
		Signature:        "deadbeef",
	})
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	assert.Equal(t, domain.BookingStatePending, testutil.GetBookingState(t, db, b.ID))
}

func TestVerifyPayment_ExpiredHoldRejectedBeforeSignature(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, user := createTestHold(t, svc, db)
	expireHoldInDB(t, db, b.ID)

	paymentID := "pay_late1"
	sig := gateway.Sign([]byte(*b.GatewayOrderID+"|"+paymentID), testPaymentSecret)

	// even a valid signature cannot confirm an expired hold
	_, err := svc.VerifyPayment(ctx, VerifyPaymentRequest{
		BookingID:        b.ID,
		UserID:           user.ID,
		GatewayOrderID:   *b.GatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        sig,
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, domain.BookingStatePending, testutil.GetBookingState(t, db, b.ID))
}

func TestExpireHold(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, _ := createTestHold(t, svc, db)
	expireHoldInDB(t, db, b.ID)

	expired, err := svc.ExpireHold(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStateExpired, expired.State)

	// a second expiry attempt is an idempotent no-op
	again, err := svc.ExpireHold(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStateExpired, again.State)

	// a hold still inside its window cannot be expired
	fresh, _ := createTestHold(t, svc, db)
	_, err = svc.ExpireHold(ctx, fresh.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestApplyPaymentCaptured_AfterExpiryFlagsForReview(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, _ := createTestHold(t, svc, db)
	expireHoldInDB(t, db, b.ID)

	_, err := svc.ApplyPaymentCaptured(ctx, *b.GatewayOrderID, "pay_stray1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	var needsReview bool
	require.NoError(t, db.QueryRow(
		`SELECT needs_review FROM bookings WHERE id = $1`, b.ID,
	).Scan(&needsReview))
	assert.True(t, needsReview)
}

func TestApplyPaymentFailed_AfterConfirmationRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, _ := createTestHold(t, svc, db)

	confirmed, err := svc.ApplyPaymentCaptured(ctx, *b.GatewayOrderID, "pay_first1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStateConfirmed, confirmed.State)

	// the gateway delivering failed after captured is adversarial ordering;
	// the capture stands
	_, err = svc.ApplyPaymentFailed(ctx, *b.GatewayOrderID, "card_declined")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, domain.BookingStateConfirmed, testutil.GetBookingState(t, db, b.ID))
}

func TestApplyPaymentFailed_MarksPendingFailed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, _ := createTestHold(t, svc, db)

	failed, err := svc.ApplyPaymentFailed(ctx, *b.GatewayOrderID, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStateFailed, failed.State)
	require.NotNil(t, failed.FailureReason)
	assert.Equal(t, "card_declined", *failed.FailureReason)
}

func TestCancel(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, user := createTestHold(t, svc, db)

	cancelled, err := svc.Cancel(ctx, b.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStateCancelled, cancelled.State)

	// cancelling again is a no-op
	again, err := svc.Cancel(ctx, b.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStateCancelled, again.State)

	// another user's booking is invisible
	stranger := testutil.SeedTestUser(t, db, "stranger@test.com", "Stranger")
	fresh, _ := createTestHold(t, svc, db)
	_, err = svc.Cancel(ctx, fresh.ID, stranger.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancel_ConfirmedBookingRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, user := createTestHold(t, svc, db)
	_, err := svc.ApplyPaymentCaptured(ctx, *b.GatewayOrderID, "pay_cfm1")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, b.ID, user.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRefund_FullAndPartial(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, gw := setupBookingTest(t, db)

	b, user := createTestHold(t, svc, db)
	_, err := svc.ApplyPaymentCaptured(ctx, *b.GatewayOrderID, "pay_refund1")
	require.NoError(t, err)

	partial := int64(50_000)
	refunded, err := svc.Refund(ctx, RefundRequest{BookingID: b.ID, UserID: user.ID, Amount: &partial})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStateRefunded, refunded.State)
	assert.Equal(t, partial, refunded.RefundedAmount)

	// second partial refund for the rest
	rest, err := svc.Refund(ctx, RefundRequest{BookingID: b.ID, UserID: user.ID})
	require.NoError(t, err)
	assert.Equal(t, refunded.Amount, rest.RefundedAmount)
	assert.Equal(t, int64(2), gw.refunds.Load())

	refunds, err := svc.GetRefunds(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, refunds, 2)

	// nothing left to refund
	_, err = svc.Refund(ctx, RefundRequest{BookingID: b.ID, UserID: user.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestRefund_ExceedsPaid(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, user := createTestHold(t, svc, db)
	_, err := svc.ApplyPaymentCaptured(ctx, *b.GatewayOrderID, "pay_over1")
	require.NoError(t, err)

	tooMuch := b.Amount + 1
	_, err = svc.Refund(ctx, RefundRequest{BookingID: b.ID, UserID: user.ID, Amount: &tooMuch})
	assert.ErrorIs(t, err, domain.ErrRefundExceedsPaid)
}

func TestRefund_PendingBookingRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, user := createTestHold(t, svc, db)

	_, err := svc.Refund(ctx, RefundRequest{BookingID: b.ID, UserID: user.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestApplyRefundCreated_DedupsOnGatewayRefundID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, _ := createTestHold(t, svc, db)
	_, err := svc.ApplyPaymentCaptured(ctx, *b.GatewayOrderID, "pay_hookrf1")
	require.NoError(t, err)

	first, err := svc.ApplyRefundCreated(ctx, *b.GatewayOrderID, "rfnd_hook1", 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), first.RefundedAmount)

	// a redelivered refund.created must not double-record
	again, err := svc.ApplyRefundCreated(ctx, *b.GatewayOrderID, "rfnd_hook1", 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), again.RefundedAmount)

	refunds, err := svc.GetRefunds(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, refunds, 1)
}

func TestTransition_VersionConflictConverges(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupBookingTest(t, db)

	b, _ := createTestHold(t, svc, db)

	// two concurrent captures for the same payment; both must succeed and
	// exactly one confirmation must be recorded
	results := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := svc.ApplyPaymentCaptured(ctx, *b.GatewayOrderID, "pay_race1")
			results <- err
		}()
	}
	require.NoError(t, <-results)
	require.NoError(t, <-results)

	assert.Equal(t, domain.BookingStateConfirmed, testutil.GetBookingState(t, db, b.ID))
	assert.Equal(t, 2, testutil.CountBookingEvents(t, db, b.ID))
}
