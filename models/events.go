package models

import "time"

// Event types published on the payment event bus.
const (
	EventEnrollmentGranted = "enrollment_granted"
	EventPaymentFlagged    = "payment_flagged"
	EventFulfillmentFailed = "fulfillment_failed"
)

// PaymentEvent is the message published for downstream consumers.
type PaymentEvent struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	PaymentID string    `json:"payment_id,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	CourseIDs []string  `json:"course_ids,omitempty"`
	Amount    string    `json:"amount,omitempty"` // major units, decimal string
	Currency  string    `json:"currency,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReviewItem is pushed to the operator review queue when a payment cannot be
// trusted automatically.
type ReviewItem struct {
	Kind            string    `json:"kind"`
	OrderID         string    `json:"order_id"`
	PaymentID       string    `json:"payment_id"`
	Provider        string    `json:"provider"`
	ExpectedAmount  string    `json:"expected_amount,omitempty"`
	ExpectedCurr    string    `json:"expected_currency,omitempty"`
	GatewayAmount   int64     `json:"gateway_amount_minor,omitempty"`
	GatewayCurrency string    `json:"gateway_currency,omitempty"`
	GatewayStatus   string    `json:"gateway_status,omitempty"`
	Detail          string    `json:"detail,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
