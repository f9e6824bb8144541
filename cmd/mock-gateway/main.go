package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/booking-core/internal/gateway"
	"github.com/tickethub/booking-core/internal/logging"
)

// A stand-in payment gateway for local development: it creates orders,
// simulates captures and refunds, and posts signed webhooks back to the
// API the way the real gateway would.

type order struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type payment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

type refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type store struct {
	mu       sync.Mutex
	orders   map[string]*order
	payments map[string]*payment
}

type server struct {
	store         *store
	callbackURL   string
	webhookSecret string
	client        *http.Client
}

func main() {
	logging.Init("mock-gateway", "info", os.Getenv("APP_ENV"))

	addr := os.Getenv("MOCK_GATEWAY_ADDR")
	if addr == "" {
		addr = ":8081"
	}

	s := &server{
		store: &store{
			orders:   make(map[string]*order),
			payments: make(map[string]*payment),
		},
		callbackURL:   os.Getenv("CALLBACK_URL"),
		webhookSecret: os.Getenv("WEBHOOK_SECRET"),
		client:        &http.Client{Timeout: 5 * time.Second},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /v1/orders", s.createOrder)
	mux.HandleFunc("GET /v1/orders/{id}/payments", s.listPayments)
	mux.HandleFunc("POST /v1/payments/{id}/refund", s.createRefund)

	// Simulation endpoints, not part of the real gateway surface.
	mux.HandleFunc("POST /v1/orders/{id}/simulate/capture", s.simulateCapture)
	mux.HandleFunc("POST /v1/orders/{id}/simulate/fail", s.simulateFailure)

	slog.Info("mock gateway started", "addr", addr, "callback_url", s.callbackURL)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (s *server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount   int64             `json:"amount"`
		Currency string            `json:"currency"`
		Receipt  string            `json:"receipt"`
		Notes    map[string]string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
		return
	}

	o := &order{
		ID:       "order_" + uuid.NewString()[:12],
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
		Notes:    req.Notes,
	}

	s.store.mu.Lock()
	s.store.orders[o.ID] = o
	s.store.mu.Unlock()

	slog.Info("order created", "order_id", o.ID, "amount", o.Amount, "receipt", o.Receipt)
	writeJSON(w, http.StatusCreated, o)
}

func (s *server) listPayments(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, ok := s.store.orders[orderID]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}

	items := []payment{}
	for _, p := range s.store.payments {
		if p.OrderID == orderID {
			items = append(items, *p)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *server) createRefund(w http.ResponseWriter, r *http.Request) {
	paymentID := r.PathValue("id")

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	s.store.mu.Lock()
	p, ok := s.store.payments[paymentID]
	s.store.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "payment not found"})
		return
	}
	if req.Amount <= 0 || req.Amount > p.Amount {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid refund amount"})
		return
	}

	rf := &refund{
		ID:        "rfnd_" + uuid.NewString()[:12],
		PaymentID: paymentID,
		Amount:    req.Amount,
		Status:    "processed",
	}

	slog.Info("refund created", "refund_id", rf.ID, "payment_id", paymentID, "amount", req.Amount)

	go s.postWebhook("refund.created", map[string]any{
		"order_id":  p.OrderID,
		"refund_id": rf.ID,
		"amount":    rf.Amount,
	})

	writeJSON(w, http.StatusCreated, rf)
}

func (s *server) simulateCapture(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	s.store.mu.Lock()
	o, ok := s.store.orders[orderID]
	if !ok {
		s.store.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	p := &payment{
		ID:      "pay_" + uuid.NewString()[:12],
		OrderID: orderID,
		Amount:  o.Amount,
		Status:  "captured",
	}
	o.Status = "paid"
	s.store.payments[p.ID] = p
	s.store.mu.Unlock()

	slog.Info("payment captured", "order_id", orderID, "payment_id", p.ID)

	go s.postWebhook("payment.captured", map[string]any{
		"order_id":   orderID,
		"payment_id": p.ID,
		"amount":     p.Amount,
	})

	// Signature the checkout flow would hand the client for verify.
	writeJSON(w, http.StatusOK, map[string]string{
		"order_id":   orderID,
		"payment_id": p.ID,
		"signature":  gateway.Sign([]byte(orderID+"|"+p.ID), s.webhookSecret),
	})
}

func (s *server) simulateFailure(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	s.store.mu.Lock()
	o, ok := s.store.orders[orderID]
	if ok {
		o.Status = "failed"
	}
	s.store.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}

	go s.postWebhook("payment.failed", map[string]any{
		"order_id": orderID,
		"reason":   "card_declined",
	})

	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": "failed"})
}

func (s *server) postWebhook(eventType string, payload map[string]any) {
	if s.callbackURL == "" {
		return
	}

	body, err := json.Marshal(map[string]any{
		"event_id": "evt_" + uuid.NewString()[:12],
		"event":    eventType,
		"payload":  payload,
	})
	if err != nil {
		slog.Error("failed to marshal webhook", "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.callbackURL, bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to build webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Signature", gateway.Sign(body, s.webhookSecret))

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("failed to deliver webhook", "event", eventType, "error", err)
		return
	}
	defer resp.Body.Close()

	slog.Info("webhook delivered", "event", eventType, "status", resp.StatusCode)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Fprintf(os.Stderr, "write response: %v\n", err)
	}
}
