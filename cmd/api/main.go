package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/tickethub/booking-core/internal/config"
	"github.com/tickethub/booking-core/internal/gateway"
	"github.com/tickethub/booking-core/internal/handler"
	"github.com/tickethub/booking-core/internal/logging"
	"github.com/tickethub/booking-core/internal/middleware"
	"github.com/tickethub/booking-core/internal/pricing"
	"github.com/tickethub/booking-core/internal/repository"
	"github.com/tickethub/booking-core/internal/service"
	"github.com/tickethub/booking-core/internal/service/booking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("booking-api", cfg.LogLevel, cfg.AppEnv)

	db, err := connectDB(cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	bookingRepo := repository.NewBookingRepository(db)
	eventRepo := repository.NewEventRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewBookingEventRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	webhookRepo := repository.NewWebhookEventRepository(db)
	idempotencyRepo := repository.NewIdempotencyRepository(db)

	gatewayClient := gateway.NewClient(
		cfg.GatewayBaseURL,
		cfg.GatewayKeyID,
		cfg.GatewayKeySecret,
		time.Duration(cfg.GatewayTimeoutS)*time.Second,
		cfg.GatewayMaxRetries,
	)

	bookingSvc := booking.NewService(
		bookingRepo,
		eventRepo,
		userRepo,
		auditRepo,
		refundRepo,
		gatewayClient,
		pricing.NewService(cfg.ConvenienceFeePct),
		db,
		booking.Config{
			HoldDuration:  cfg.HoldDuration(),
			PaymentSecret: cfg.GatewayKeySecret,
			CASMaxRetries: cfg.CASMaxRetries,
		},
	)

	processor := service.NewWebhookProcessor(webhookRepo, bookingSvc, logger, cfg.MaxSweepAttempts)

	reconciler := service.NewReconciler(
		bookingRepo,
		webhookRepo,
		bookingSvc,
		processor,
		gatewayClient,
		logger.With("component", "reconciler"),
		service.ReconcilerConfig{
			Interval:    cfg.ReconcileInterval(),
			Grace:       cfg.WebhookGrace(),
			BatchSize:   cfg.SweepBatchSize,
			MaxAttempts: cfg.MaxSweepAttempts,
		},
	)

	reconcilerCtx, stopReconciler := context.WithCancel(context.Background())
	go reconciler.Start(reconcilerCtx)

	bookingHandler := handler.NewBookingHandler(bookingSvc)
	eventHandler := handler.NewEventHandler(eventRepo)
	webhookHandler := handler.NewWebhookHandler(webhookRepo, processor, cfg.WebhookSecret)
	healthHandler := handler.NewHealthHandler(db)

	authn := middleware.Auth(cfg.JWTSecret)
	idempotent := middleware.Idempotency(idempotencyRepo)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)

	mux.HandleFunc("POST /webhooks/gateway", webhookHandler.ReceiveGatewayWebhook)

	mux.Handle("GET /api/v1/events/{id}", http.HandlerFunc(eventHandler.Get))

	mux.Handle("POST /api/v1/bookings", authn(idempotent(http.HandlerFunc(bookingHandler.Create))))
	mux.Handle("GET /api/v1/bookings/{id}", authn(http.HandlerFunc(bookingHandler.Get)))
	mux.Handle("GET /api/v1/bookings/{id}/history", authn(http.HandlerFunc(bookingHandler.GetHistory)))
	mux.Handle("GET /api/v1/bookings/{id}/refunds", authn(http.HandlerFunc(bookingHandler.GetRefunds)))
	mux.Handle("POST /api/v1/bookings/{id}/verify", authn(http.HandlerFunc(bookingHandler.Verify)))
	mux.Handle("POST /api/v1/bookings/{id}/cancel", authn(http.HandlerFunc(bookingHandler.Cancel)))
	mux.Handle("POST /api/v1/bookings/{id}/refund", authn(http.HandlerFunc(bookingHandler.Refund)))

	root := middleware.Tracing(middleware.Logging(middleware.Recovery(mux)))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	stopReconciler()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func connectDB(cfg *config.Config) (*sql.DB, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	}

	var lastErr error
	for i := range 30 {
		db, err := repository.NewPostgresDB(context.Background(), cfg.DatabaseURL, pool)
		if err == nil {
			return db, nil
		}
		lastErr = err
		slog.Info("waiting for database", "attempt", i+1)
		time.Sleep(time.Second)
	}
	return nil, fmt.Errorf("connectDB: gave up after 30 attempts: %w", lastErr)
}
