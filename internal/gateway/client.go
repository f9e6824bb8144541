package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tickethub/booking-core/internal/domain"
	"github.com/tickethub/booking-core/internal/logging"
)

// Client talks to the payment gateway's REST API. Transient failures are
// retried with capped exponential backoff; 4xx responses are not retried.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	maxRetries uint64
}

func NewClient(baseURL, keyID, keySecret string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: uint64(maxRetries),
	}
}

type CreateOrderRequest struct {
	Amount   int64
	Currency domain.Currency
	Receipt  string
	Notes    map[string]string
}

type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Payment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	body := map[string]any{
		"amount":   req.Amount,
		"currency": string(req.Currency),
		"receipt":  req.Receipt,
		"notes":    req.Notes,
	}

	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &order); err != nil {
		return nil, fmt.Errorf("CreateOrder: %w", err)
	}
	return &order, nil
}

func (c *Client) FetchPayments(ctx context.Context, orderID string) ([]Payment, error) {
	var out struct {
		Items []Payment `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+orderID+"/payments", nil, &out); err != nil {
		return nil, fmt.Errorf("FetchPayments: %w", err)
	}
	return out.Items, nil
}

func (c *Client) CreateRefund(ctx context.Context, paymentID string, amount int64) (*Refund, error) {
	body := map[string]any{"amount": amount}

	var refund Refund
	if err := c.do(ctx, http.MethodPost, "/v1/payments/"+paymentID+"/refund", body, &refund); err != nil {
		return nil, fmt.Errorf("CreateRefund: %w", err)
	}
	return &refund, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	log := logging.FromContext(ctx)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("do: marshal: %w", err)
		}
	}

	attempt := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(c.keyID, c.keySecret)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.Warn("gateway request failed", "method", method, "path", path, "error", err)
			return fmt.Errorf("send: %w", err)
		}
		defer resp.Body.Close()

		log.Info("gateway response",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("gateway rejected request: status %d: %s", resp.StatusCode, string(respBody)))
		default:
			return fmt.Errorf("gateway error: status %d", resp.StatusCode)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrGatewayUnavailable, method, path, err)
	}
	return nil
}
