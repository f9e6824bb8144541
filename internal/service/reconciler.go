package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/gateway"
	"github.com/tickethub/booking-core/internal/logging"
)

type sweepBookingRepo interface {
	FindExpiredPending(ctx context.Context, now time.Time, maxSweepAttempts, limit int) ([]domain.Booking, error)
	RecordSweepFailure(ctx context.Context, id uuid.UUID, maxAttempts int) error
}

type sweepEventRepo interface {
	FindUnprocessed(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]domain.WebhookEvent, error)
}

type holdExpirer interface {
	ExpireHold(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	ApplyPaymentCaptured(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*domain.Booking, error)
}

type paymentFetcher interface {
	FetchPayments(ctx context.Context, orderID string) ([]gateway.Payment, error)
}

type eventProcessor interface {
	Process(ctx context.Context, event domain.WebhookEvent) error
}

// ReconcilerConfig sets the sweep cadence and retry bounds.
type ReconcilerConfig struct {
	Interval time.Duration
	// Grace is how long a stored webhook event may sit unprocessed before
	// the sweep replays it. Keeps the sweep out of the way of in-flight
	// async processing.
	Grace       time.Duration
	BatchSize   int
	MaxAttempts int
}

// Reconciler periodically settles drift between bookings and the gateway:
// it expires overdue holds and replays stored webhook events that async
// processing did not finish. Records that keep failing are flagged for
// manual review instead of being retried forever.
type Reconciler struct {
	bookings  sweepBookingRepo
	events    sweepEventRepo
	machine   holdExpirer
	processor eventProcessor
	gateway   paymentFetcher
	logger    *slog.Logger
	cfg       ReconcilerConfig
}

func NewReconciler(
	bookings sweepBookingRepo,
	events sweepEventRepo,
	machine holdExpirer,
	processor eventProcessor,
	gw paymentFetcher,
	logger *slog.Logger,
	cfg ReconcilerConfig,
) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reconciler{
		bookings:  bookings,
		events:    events,
		machine:   machine,
		processor: processor,
		gateway:   gw,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start runs the sweep loop until ctx is cancelled. The timer is rearmed
// only after a sweep finishes, so sweeps never overlap and a sweep that
// outlasts the interval delays the next one by a full interval instead of
// firing a queued tick back to back.
func (r *Reconciler) Start(ctx context.Context) {
	ctx = logging.WithLogger(ctx, r.logger)
	timer := time.NewTimer(r.cfg.Interval)
	defer timer.Stop()

	r.logger.Info("reconciler started",
		"interval", r.cfg.Interval,
		"grace", r.cfg.Grace,
		"batch_size", r.cfg.BatchSize,
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-timer.C:
			r.Sweep(ctx)
			timer.Reset(r.cfg.Interval)
		}
	}
}

// Sweep runs one reconciliation pass. Exported so tests and operational
// tooling can trigger a pass without the ticker.
func (r *Reconciler) Sweep(ctx context.Context) {
	start := time.Now()
	expired := r.sweepExpiredHolds(ctx)
	replayed := r.replayWebhookEvents(ctx)

	if expired > 0 || replayed > 0 {
		r.logger.Info("sweep finished",
			"expired_holds", expired,
			"replayed_events", replayed,
			"duration", time.Since(start),
		)
	}
}

func (r *Reconciler) sweepExpiredHolds(ctx context.Context) int {
	now := time.Now().UTC()
	overdue, err := r.bookings.FindExpiredPending(ctx, now, r.cfg.MaxAttempts, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("sweep: finding expired holds failed", "error", err)
		return 0
	}

	expired := 0
	for _, b := range overdue {
		if ctx.Err() != nil {
			return expired
		}

		// A capture whose webhook never arrived must not be expired into
		// oblivion. Ask the gateway before letting the hold go.
		if captured := r.findMissedCapture(ctx, b); captured != "" {
			if _, err := r.machine.ApplyPaymentCaptured(ctx, *b.GatewayOrderID, captured); err != nil {
				// flags the booking for review when the hold already lapsed
				r.logger.Warn("sweep: missed capture could not confirm",
					"booking_id", b.ID,
					"gateway_payment_id", captured,
					"error", err,
				)
			}
			continue
		}

		_, err := r.machine.ExpireHold(ctx, b.ID)
		if err == nil {
			expired++
			continue
		}

		// A hold confirmed between the query and the expiry attempt loses
		// the guard check; that is the race working as intended.
		if errors.Is(err, domain.ErrInvalidTransition) {
			r.logger.Debug("sweep: hold no longer expirable", "booking_id", b.ID)
			continue
		}

		r.logger.Error("sweep: expiring hold failed", "booking_id", b.ID, "error", err)
		if recErr := r.bookings.RecordSweepFailure(ctx, b.ID, r.cfg.MaxAttempts); recErr != nil {
			r.logger.Error("sweep: recording failure failed", "booking_id", b.ID, "error", recErr)
		}
	}
	return expired
}

// findMissedCapture returns the id of a captured payment the gateway holds
// for this booking's order, or "" when there is none (or no order yet).
// Lookup failures are treated as no capture; the booking is then expired
// normally, which a late webhook can still contest via review flagging.
func (r *Reconciler) findMissedCapture(ctx context.Context, b domain.Booking) string {
	if b.GatewayOrderID == nil {
		return ""
	}

	payments, err := r.gateway.FetchPayments(ctx, *b.GatewayOrderID)
	if err != nil {
		r.logger.Warn("sweep: payment lookup failed",
			"booking_id", b.ID,
			"gateway_order_id", *b.GatewayOrderID,
			"error", err,
		)
		return ""
	}

	for _, p := range payments {
		if p.Status == "captured" {
			return p.ID
		}
	}
	return ""
}

func (r *Reconciler) replayWebhookEvents(ctx context.Context) int {
	olderThan := time.Now().UTC().Add(-r.cfg.Grace)
	pending, err := r.events.FindUnprocessed(ctx, olderThan, r.cfg.MaxAttempts, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("sweep: finding unprocessed webhook events failed", "error", err)
		return 0
	}

	replayed := 0
	for _, event := range pending {
		if ctx.Err() != nil {
			return replayed
		}

		if err := r.processor.Process(ctx, event); err != nil {
			// Process already bumped the attempt counter; nothing else to do
			// here but log and carry on with the batch.
			r.logger.Warn("sweep: webhook replay failed",
				"webhook_event_id", event.ID,
				"gateway_event_id", event.GatewayEventID,
				"attempts", event.Attempts+1,
				"error", err,
			)
			continue
		}
		replayed++
	}
	return replayed
}
