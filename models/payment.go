package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PaymentStatusProcessing        = "processing"
	PaymentStatusCompleted         = "completed"
	PaymentStatusFailedFulfillment = "failed_fulfillment"
)

// Gateway payment statuses after normalization by the gateway adapters.
const (
	GatewayStatusCaptured   = "captured"
	GatewayStatusAuthorized = "authorized"
	GatewayStatusPending    = "pending"
	GatewayStatusFailed     = "failed"
)

// PaymentRecord is the ledger row for one captured payment. The unique index on
// (provider, payment_id) is what collapses duplicate deliveries.
type PaymentRecord struct {
	ID        uuid.UUID                   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    string                      `gorm:"type:varchar(128);not null;index" json:"user_id"`
	CourseIDs datatypes.JSONSlice[string] `gorm:"type:jsonb;not null" json:"course_ids"`
	Amount    decimal.Decimal             `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency  string                      `gorm:"type:varchar(10);not null" json:"currency"`
	Provider  string                      `gorm:"type:varchar(20);not null;uniqueIndex:idx_payment_provider_payment_id" json:"provider"`
	PaymentID string                      `gorm:"type:varchar(64);not null;uniqueIndex:idx_payment_provider_payment_id" json:"payment_id"`
	OrderID   string                      `gorm:"type:varchar(64);not null;index" json:"order_id"`
	Status    string                      `gorm:"type:varchar(32);not null;index" json:"status"`
	Metadata  datatypes.JSONMap           `gorm:"type:jsonb" json:"metadata,omitempty"`
	Attempts  int                         `gorm:"not null;default:0" json:"attempts"`
	LastError *string                     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

// PaymentAttempt is one verified callback, enriched with gateway-reported facts.
// It is never persisted on its own.
type PaymentAttempt struct {
	PaymentID       string
	OrderID         string
	Signature       string
	GatewayAmount   int64 // minor units
	GatewayCurrency string
	GatewayStatus   string
	VerifiedAt      time.Time
}

// VerifyPaymentRequest is the payload of POST /orders/verify.
type VerifyPaymentRequest struct {
	BuyerID   string `json:"buyerId"`
	OrderID   string `json:"orderId" binding:"required,gatewayid"`
	PaymentID string `json:"paymentId" binding:"required,gatewayid"`
	Signature string `json:"signature" binding:"required,max=128"`
}
