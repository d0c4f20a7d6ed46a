package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is a state of the purchase state machine.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusVerified   OrderStatus = "verified"
	OrderStatusFulfilling OrderStatus = "fulfilling"
	OrderStatusFulfilled  OrderStatus = "fulfilled"
	OrderStatusFailed     OrderStatus = "failed"
	// OrderStatusRejected is reserved for operator action. A bad signature
	// leaves the order pending, so no automatic path sets it.
	OrderStatusRejected   OrderStatus = "rejected"
	OrderStatusFlagged    OrderStatus = "flagged"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFulfilled, OrderStatusRejected, OrderStatusFlagged:
		return true
	}
	return false
}

// Order is a server-priced purchase intent. OrderID is the gateway's order id,
// which is also what the gateway signs together with the payment id.
type Order struct {
	OrderID        string          `gorm:"type:varchar(64);primaryKey" json:"order_id"`
	BuyerID        string          `gorm:"type:varchar(128);not null;index" json:"buyer_id"`
	Currency       string          `gorm:"type:varchar(10);not null" json:"currency"`
	ExpectedAmount decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"expected_amount"`
	Receipt        string          `gorm:"type:varchar(40);uniqueIndex;not null" json:"receipt"`
	Provider       string          `gorm:"type:varchar(20);not null" json:"provider"`
	Status         OrderStatus     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Items          []OrderItem     `gorm:"foreignKey:OrderID;references:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	FulfilledAt    *time.Time      `json:"fulfilled_at,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderItem is one course line of an Order, kept in insertion order by Position.
type OrderItem struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	OrderID   string          `gorm:"type:varchar(64);not null;index" json:"-"`
	Position  int             `gorm:"not null" json:"-"`
	CourseID  string          `gorm:"type:varchar(64);not null" json:"course_id"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
}

// CourseIDs returns the course ids of the order in the order they were bought.
func (o *Order) CourseIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.CourseID)
	}
	return ids
}

// CreateOrderRequest is the payload of POST /orders.
type CreateOrderRequest struct {
	BuyerID   string   `json:"buyerId"`
	CourseIDs []string `json:"courseIds" binding:"required,min=1,dive,required,courseid"`
}

// CreateOrderResponse is returned once the gateway order exists and the Order is persisted.
type CreateOrderResponse struct {
	OrderID     string          `json:"orderId"`
	Amount      decimal.Decimal `json:"amount"`
	AmountMinor int64           `json:"amountMinor"`
	Currency    string          `json:"currency"`
	Receipt     string          `json:"receipt"`
	Provider    string          `json:"provider"`
}
