package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"enrollment-service/models"
	"enrollment-service/pkg/retry"
)

const razorpayBaseURL = "https://api.razorpay.com"

// RazorpayGateway implements Gateway against the Razorpay REST API.
type RazorpayGateway struct {
	keyID      string
	keySecret  string
	opts       Options
	httpClient *http.Client
}

// NewRazorpayGateway creates a new RazorpayGateway.
func NewRazorpayGateway(keyID, keySecret string, opts Options) *RazorpayGateway {
	opts = opts.withDefaults()
	if opts.BaseURL == "" {
		opts.BaseURL = razorpayBaseURL
	}
	return &RazorpayGateway{
		keyID:     keyID,
		keySecret: keySecret,
		opts:      opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

// ---- Razorpay API request/response structs ----

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// RazorpayWebhookEvent is the subset of a Razorpay webhook body the service reads.
type RazorpayWebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// PaymentID returns the payment the event is about.
func (e RazorpayWebhookEvent) PaymentID() string { return e.Payload.Payment.Entity.ID }

// OrderID returns the gateway order the payment belongs to.
func (e RazorpayWebhookEvent) OrderID() string { return e.Payload.Payment.Entity.OrderID }

// ParseRazorpayWebhook decodes a webhook body. The signature must be checked
// before calling this.
func ParseRazorpayWebhook(body []byte) (RazorpayWebhookEvent, error) {
	var evt RazorpayWebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return evt, fmt.Errorf("decode razorpay webhook: %w", err)
	}
	return evt, nil
}

// ---- Gateway implementation ----

func (g *RazorpayGateway) Name() string { return ProviderRazorpay }

// CreateOrder creates a Razorpay order for the amount in minor units.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error) {
	if len(req.Receipt) > MaxReceiptLength {
		return Order{}, fmt.Errorf("%w: receipt longer than %d characters", ErrRejected, MaxReceiptLength)
	}
	body := razorpayOrderRequest{
		Amount:   req.AmountMinor,
		Currency: NormalizeCurrency(req.Currency),
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}

	var resp razorpayOrderResponse
	if err := g.call(ctx, http.MethodPost, "/v1/orders", body, &resp); err != nil {
		return Order{}, fmt.Errorf("razorpay CreateOrder: %w", err)
	}

	return Order{
		ID:          resp.ID,
		AmountMinor: resp.Amount,
		Currency:    NormalizeCurrency(resp.Currency),
		Status:      resp.Status,
	}, nil
}

// FetchPayment retrieves a payment from Razorpay.
func (g *RazorpayGateway) FetchPayment(ctx context.Context, paymentID string) (PaymentFacts, error) {
	var resp razorpayPayment
	if err := g.call(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &resp); err != nil {
		return PaymentFacts{}, fmt.Errorf("razorpay FetchPayment: %w", err)
	}

	return PaymentFacts{
		PaymentID:   resp.ID,
		OrderID:     resp.OrderID,
		AmountMinor: resp.Amount,
		Currency:    NormalizeCurrency(resp.Currency),
		Status:      normalizeRazorpayStatus(resp.Status),
	}, nil
}

func normalizeRazorpayStatus(s string) string {
	switch s {
	case "captured":
		return models.GatewayStatusCaptured
	case "authorized":
		return models.GatewayStatusAuthorized
	case "failed", "refunded":
		return models.GatewayStatusFailed
	}
	return models.GatewayStatusPending
}

// ---- HTTP helper ----

// call runs doRequest under the per-call timeout, retrying transient failures.
func (g *RazorpayGateway) call(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	err := retry.Do(ctx, g.opts.policy(), isTransient, func(ctx context.Context) error {
		return g.doRequest(ctx, method, path, body, out)
	})
	return classify(err)
}

func (g *RazorpayGateway) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.opts.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{provider: ProviderRazorpay, statusCode: resp.StatusCode, body: string(respBytes)}
	}

	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
