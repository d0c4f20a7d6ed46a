package repository

import (
	"context"
	"time"

	"enrollment-service/models"

	"gorm.io/gorm"
)

// OrderRepository defines data access for purchase orders.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, orderID string) (*models.Order, error)
	// TransitionStatus moves the order to `to` only if its current status is one
	// of `from`. It reports whether a row changed.
	TransitionStatus(ctx context.Context, orderID string, to models.OrderStatus, from ...models.OrderStatus) (bool, error)
}

// GormOrderRepository implements OrderRepository using GORM.
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository.
func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

// Create persists the order and its items in one transaction.
func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Create(order).Error; err != nil {
			return err
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.OrderID
			order.Items[i].Position = i
		}
		return tx.Create(&order.Items).Error
	})
	return translate(err)
}

// FindByID loads an order with its items in purchase order.
func (r *GormOrderRepository) FindByID(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("order_id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (r *GormOrderRepository) TransitionStatus(ctx context.Context, orderID string, to models.OrderStatus, from ...models.OrderStatus) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if to == models.OrderStatusFulfilled {
		updates["fulfilled_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_id = ? AND status IN ?", orderID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
