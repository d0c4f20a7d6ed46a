package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"enrollment-service/models"
	"enrollment-service/pkg/retry"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

// StripeGateway implements Gateway with a PaymentIntent as the gateway order
// and its Charge as the payment.
type StripeGateway struct {
	api        *client.API
	webhookKey string
	opts       Options
}

// NewStripeGateway creates a StripeGateway with its own API client. SDK-level
// network retries are disabled so the retry policy in opts is the only one.
func NewStripeGateway(secretKey, webhookKey string, opts Options) *StripeGateway {
	opts = opts.withDefaults()
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: opts.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if opts.BaseURL != "" {
		cfg.URL = stripe.String(opts.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	api := client.New(secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &StripeGateway{api: api, webhookKey: webhookKey, opts: opts}
}

func (g *StripeGateway) Name() string { return ProviderStripe }

// CreateOrder creates a PaymentIntent. The receipt and notes travel as metadata.
func (g *StripeGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error) {
	var pi *stripe.PaymentIntent
	err := g.call(ctx, func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{
			Amount:   stripe.Int64(req.AmountMinor),
			Currency: stripe.String(strings.ToLower(req.Currency)),
		}
		params.Context = ctx
		params.AddMetadata("receipt", req.Receipt)
		for k, v := range req.Notes {
			params.AddMetadata(k, v)
		}
		var err error
		pi, err = g.api.PaymentIntents.New(params)
		return err
	})
	if err != nil {
		return Order{}, fmt.Errorf("stripe CreateOrder: %w", err)
	}

	return Order{
		ID:          pi.ID,
		AmountMinor: pi.Amount,
		Currency:    NormalizeCurrency(string(pi.Currency)),
		Status:      string(pi.Status),
	}, nil
}

// FetchPayment retrieves a Charge. Its PaymentIntent id is the order id.
func (g *StripeGateway) FetchPayment(ctx context.Context, paymentID string) (PaymentFacts, error) {
	var ch *stripe.Charge
	err := g.call(ctx, func(ctx context.Context) error {
		params := &stripe.ChargeParams{}
		params.Context = ctx
		var err error
		ch, err = g.api.Charges.Get(paymentID, params)
		return err
	})
	if err != nil {
		return PaymentFacts{}, fmt.Errorf("stripe FetchPayment: %w", err)
	}

	facts := PaymentFacts{
		PaymentID:   ch.ID,
		AmountMinor: ch.Amount,
		Currency:    NormalizeCurrency(string(ch.Currency)),
		Status:      normalizeStripeCharge(ch),
	}
	if ch.PaymentIntent != nil {
		facts.OrderID = ch.PaymentIntent.ID
	}
	return facts, nil
}

func normalizeStripeCharge(ch *stripe.Charge) string {
	switch ch.Status {
	case stripe.ChargeStatusSucceeded:
		if ch.Captured {
			return models.GatewayStatusCaptured
		}
		return models.GatewayStatusAuthorized
	case stripe.ChargeStatusFailed:
		return models.GatewayStatusFailed
	}
	return models.GatewayStatusPending
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (g *StripeGateway) ParseWebhook(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, g.webhookKey, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// SucceededPayment extracts the order and charge ids from a
// payment_intent.succeeded event. ok is false for any other event type.
func SucceededPayment(event stripe.Event) (orderID, paymentID string, ok bool, err error) {
	if event.Type != "payment_intent.succeeded" || event.Data == nil {
		return "", "", false, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return "", "", false, fmt.Errorf("decode payment intent: %w", err)
	}
	if pi.LatestCharge == nil || pi.LatestCharge.ID == "" {
		return "", "", false, fmt.Errorf("payment intent %s has no charge", pi.ID)
	}
	return pi.ID, pi.LatestCharge.ID, true, nil
}

func (g *StripeGateway) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	err := retry.Do(ctx, g.opts.policy(), isTransient, func(ctx context.Context) error {
		return fromStripeError(fn(ctx))
	})
	return classify(err)
}

func fromStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &statusError{provider: ProviderStripe, statusCode: se.HTTPStatusCode, body: se.Msg}
	}
	return err
}
