// Package gateway adapts external payment processors to the two calls the
// enrollment flow trusts: creating an order and fetching a payment.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"enrollment-service/pkg/retry"
)

const (
	ProviderRazorpay = "razorpay"
	ProviderStripe   = "stripe"
)

// MaxReceiptLength is the longest receipt Razorpay accepts.
const MaxReceiptLength = 40

var (
	// ErrUnavailable wraps connection-level failures and 5xx responses that
	// persisted after retries.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrPaymentNotFound is returned when the gateway does not know the payment id.
	ErrPaymentNotFound = errors.New("payment not found at gateway")
	// ErrRejected is returned when the gateway refuses a request as invalid.
	ErrRejected = errors.New("request rejected by gateway")
)

// Gateway is the payment provider boundary.
type Gateway interface {
	// Name is the provider key stored on orders and payment records.
	Name() string
	CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error)
	// FetchPayment returns the gateway's own view of a payment. This is the
	// only trusted source for amount, currency and status.
	FetchPayment(ctx context.Context, paymentID string) (PaymentFacts, error)
}

type CreateOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

type Order struct {
	ID          string
	AmountMinor int64
	Currency    string
	Status      string
}

type PaymentFacts struct {
	PaymentID   string
	OrderID     string
	AmountMinor int64
	Currency    string
	Status      string // normalized, see models.GatewayStatus*
}

// Options configures the HTTP behaviour shared by adapters.
type Options struct {
	BaseURL    string
	Timeout    time.Duration // per call, across retries
	MaxRetries int           // total attempts
	BaseDelay  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 200 * time.Millisecond
	}
	return o
}

func (o Options) policy() retry.Policy {
	return retry.Policy{Attempts: o.MaxRetries, BaseDelay: o.BaseDelay, MaxDelay: 2 * time.Second}
}

// statusError is a non-2xx response from a gateway API.
type statusError struct {
	provider   string
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.provider, e.statusCode, e.body)
}

// isTransient reports whether err is worth another try: network failures,
// timeouts of a single attempt, and 5xx responses.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.statusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, ErrUnavailable)
}

// classify maps a final adapter error onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.statusCode == 404:
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case se.statusCode >= 500:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		default:
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	if errors.Is(err, ErrPaymentNotFound) || errors.Is(err, ErrRejected) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// NormalizeCurrency upper-cases an ISO 4217 code.
func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
