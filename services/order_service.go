package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"enrollment-service/gateway"
	"enrollment-service/models"
	"enrollment-service/monitoring"
	"enrollment-service/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService creates server-priced purchase intents.
type OrderService interface {
	CreateOrder(ctx context.Context, buyerID string, courseIDs []string) (*models.CreateOrderResponse, *ServiceError)
	GetOrder(ctx context.Context, buyerID, orderID string) (*models.Order, *ServiceError)
}

type orderServiceImpl struct {
	courses      repository.CourseRepository
	orders       repository.OrderRepository
	gateway      gateway.Gateway
	storeTimeout time.Duration
	logger       *zap.Logger
}

// NewOrderService creates a new OrderService.
func NewOrderService(
	courses repository.CourseRepository,
	orders repository.OrderRepository,
	gw gateway.Gateway,
	storeTimeout time.Duration,
	logger *zap.Logger,
) OrderService {
	return &orderServiceImpl{
		courses:      courses,
		orders:       orders,
		gateway:      gw,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// CreateOrder prices the cart from the catalog, creates the gateway order and
// persists the Order as pending. Nothing is persisted if the gateway fails.
func (s *orderServiceImpl) CreateOrder(ctx context.Context, buyerID string, courseIDs []string) (*models.CreateOrderResponse, *ServiceError) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, newServiceError(KindValidation, "buyer id is required", nil)
	}
	ids := dedupe(courseIDs)
	if len(ids) == 0 {
		return nil, newServiceError(KindValidation, "at least one course id is required", nil)
	}

	items, currency, total, svcErr := s.price(ctx, ids)
	if svcErr != nil {
		return nil, svcErr
	}

	provider := s.gateway.Name()
	if !gateway.Supports(provider, currency) {
		return nil, newServiceError(KindValidation, fmt.Sprintf("currency %s is not supported by %s", currency, provider), nil)
	}
	amountMinor, err := gateway.ToMinor(total, currency)
	if err != nil {
		return nil, newServiceError(KindValidation, err.Error(), nil)
	}

	receipt := newReceipt()
	start := time.Now()
	gwOrder, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		AmountMinor: amountMinor,
		Currency:    currency,
		Receipt:     receipt,
		Notes: map[string]string{
			"buyer_id":   buyerID,
			"course_ids": strings.Join(ids, ","),
		},
	})
	monitoring.ObserveGatewayCall(provider, "create_order", start, err)
	if err != nil {
		s.logger.Error("gateway CreateOrder failed", zap.String("buyer_id", buyerID), zap.Error(err))
		return nil, newServiceError(KindGatewayUnavailable, "payment gateway unavailable, please retry", err)
	}

	order := &models.Order{
		OrderID:        gwOrder.ID,
		BuyerID:        buyerID,
		Currency:       currency,
		ExpectedAmount: total,
		Receipt:        receipt,
		Provider:       provider,
		Status:         models.OrderStatusPending,
		Items:          items,
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.orders.Create(storeCtx, order); err != nil {
		s.logger.Error("failed to persist order", zap.String("order_id", order.OrderID), zap.Error(err))
		return nil, newServiceError(KindStoreFailure, "failed to save order", err)
	}

	monitoring.OrdersCreated.WithLabelValues(provider, currency).Inc()
	s.logger.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("buyer_id", buyerID),
		zap.Strings("course_ids", ids),
		zap.String("amount", total.StringFixed(gateway.Exponent(currency))),
		zap.String("currency", currency),
	)

	return &models.CreateOrderResponse{
		OrderID:     order.OrderID,
		Amount:      total,
		AmountMinor: amountMinor,
		Currency:    currency,
		Receipt:     receipt,
		Provider:    provider,
	}, nil
}

// price looks up current published prices. All courses must share one currency.
func (s *orderServiceImpl) price(ctx context.Context, ids []string) ([]models.OrderItem, string, decimal.Decimal, *ServiceError) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	courses, err := s.courses.FindByIDs(storeCtx, ids)
	if err != nil {
		s.logger.Error("catalog lookup failed", zap.Error(err))
		return nil, "", decimal.Zero, newServiceError(KindStoreFailure, "failed to load courses", err)
	}
	byID := make(map[string]models.Course, len(courses))
	for _, c := range courses {
		byID[c.ID] = c
	}

	var (
		items    = make([]models.OrderItem, 0, len(ids))
		currency string
		total    = decimal.Zero
	)
	for _, id := range ids {
		course, ok := byID[id]
		if !ok || !course.IsPurchasable() {
			return nil, "", decimal.Zero, newServiceError(KindCourseUnavailable, fmt.Sprintf("course %s is not available for purchase", id), nil)
		}
		cur := gateway.NormalizeCurrency(course.Currency)
		if currency == "" {
			currency = cur
		} else if cur != currency {
			return nil, "", decimal.Zero, newServiceError(KindValidation, "all courses in an order must be priced in the same currency", nil)
		}
		items = append(items, models.OrderItem{CourseID: id, UnitPrice: course.Price})
		total = total.Add(course.Price)
	}
	return items, currency, total, nil
}

// GetOrder returns an order owned by buyerID. Orders of other buyers are reported as missing.
func (s *orderServiceImpl) GetOrder(ctx context.Context, buyerID, orderID string) (*models.Order, *ServiceError) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	order, err := s.orders.FindByID(storeCtx, orderID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && order.BuyerID != buyerID) {
		return nil, newServiceError(KindNotFound, "order not found", nil)
	}
	if err != nil {
		s.logger.Error("failed to load order", zap.String("order_id", orderID), zap.Error(err))
		return nil, newServiceError(KindStoreFailure, "failed to load order", err)
	}
	return order, nil
}

// newReceipt returns a receipt id within the gateway's length limit.
func newReceipt() string {
	r := "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(r) > gateway.MaxReceiptLength {
		r = r[:gateway.MaxReceiptLength]
	}
	return r
}

// dedupe drops blanks and repeats, keeping first occurrence order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
