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

	"go.uber.org/zap"
)

const (
	reviewAmountMismatch     = "amount_mismatch"
	reviewPaymentNotComplete = "payment_not_complete"
	reviewOrderMismatch      = "order_mismatch"
	reviewPaymentConflict    = "payment_conflict"
	reviewDuplicateCharge    = "duplicate_charge"
)

// PaymentResolver reconciles a verified callback against the gateway's own
// record of the payment. Client-supplied amounts are never consulted.
type PaymentResolver struct {
	orders       repository.OrderRepository
	gateway      gateway.Gateway
	notifier     *Notifier
	storeTimeout time.Duration
	logger       *zap.Logger
}

func NewPaymentResolver(orders repository.OrderRepository, gw gateway.Gateway, notifier *Notifier, storeTimeout time.Duration, logger *zap.Logger) *PaymentResolver {
	return &PaymentResolver{
		orders:       orders,
		gateway:      gw,
		notifier:     notifier,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// LoadOrder fetches an order by its gateway order id.
func (r *PaymentResolver) LoadOrder(ctx context.Context, orderID string) (*models.Order, *ServiceError) {
	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	order, err := r.orders.FindByID(storeCtx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newServiceError(KindNotFound, "order not found", nil)
	}
	if err != nil {
		r.logger.Error("failed to load order", zap.String("order_id", orderID), zap.Error(err))
		return nil, newServiceError(KindStoreFailure, "failed to load order", err)
	}
	return order, nil
}

// Resolve loads the order and reconciles the payment against it.
func (r *PaymentResolver) Resolve(ctx context.Context, orderID, paymentID, signature string) (*models.PaymentAttempt, *models.Order, *ServiceError) {
	order, svcErr := r.LoadOrder(ctx, orderID)
	if svcErr != nil {
		return nil, nil, svcErr
	}
	attempt, svcErr := r.Reconcile(ctx, order, paymentID, signature)
	if svcErr != nil {
		return nil, order, svcErr
	}
	return attempt, order, nil
}

// Reconcile fetches the payment from the gateway and checks that it belongs to
// order, moved exactly the expected amount in the expected currency and is
// captured. On success a pending order becomes verified.
func (r *PaymentResolver) Reconcile(ctx context.Context, order *models.Order, paymentID, signature string) (*models.PaymentAttempt, *ServiceError) {
	if order.Status == models.OrderStatusFlagged || order.Status == models.OrderStatusRejected {
		return nil, newServiceError(KindPaymentConflict, "order is under review", nil)
	}

	start := time.Now()
	facts, err := r.gateway.FetchPayment(ctx, paymentID)
	monitoring.ObserveGatewayCall(r.gateway.Name(), "fetch_payment", start, err)
	if err != nil {
		if errors.Is(err, gateway.ErrPaymentNotFound) {
			return nil, newServiceError(KindValidation, "unknown payment", err)
		}
		r.logger.Error("gateway FetchPayment failed", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, newServiceError(KindGatewayUnavailable, "payment gateway unavailable, please retry", err)
	}

	attempt := &models.PaymentAttempt{
		PaymentID:       paymentID,
		OrderID:         order.OrderID,
		Signature:       signature,
		GatewayAmount:   facts.AmountMinor,
		GatewayCurrency: facts.Currency,
		GatewayStatus:   facts.Status,
		VerifiedAt:      time.Now().UTC(),
	}

	if facts.OrderID != "" && facts.OrderID != order.OrderID {
		detail := fmt.Sprintf("payment belongs to gateway order %s", facts.OrderID)
		r.flag(ctx, order, attempt, reviewOrderMismatch, detail)
		return nil, newServiceError(KindPaymentConflict, "payment does not match order", nil)
	}

	paid := gateway.FromMinor(facts.AmountMinor, facts.Currency)
	if !strings.EqualFold(facts.Currency, order.Currency) || !paid.Equal(order.ExpectedAmount) {
		detail := fmt.Sprintf("gateway reported %s %s, expected %s %s",
			paid.String(), facts.Currency, order.ExpectedAmount.String(), order.Currency)
		r.flag(ctx, order, attempt, reviewAmountMismatch, detail)
		return nil, newServiceError(KindAmountMismatch, "payment amount does not match order", nil)
	}

	if facts.Status != models.GatewayStatusCaptured {
		r.notifier.Review(ctx, reviewItem(order, attempt, reviewPaymentNotComplete, "gateway status "+facts.Status))
		return nil, newServiceError(KindPaymentNotComplete, "payment is not complete", nil)
	}

	if order.Status == models.OrderStatusPending {
		r.transition(ctx, order, models.OrderStatusVerified, models.OrderStatusPending)
	}
	return attempt, nil
}

// flag moves the order out of the automatic path and asks an operator to look at it.
func (r *PaymentResolver) flag(ctx context.Context, order *models.Order, attempt *models.PaymentAttempt, kind, detail string) {
	r.logger.Warn("payment flagged",
		zap.String("order_id", order.OrderID),
		zap.String("payment_id", attempt.PaymentID),
		zap.String("kind", kind),
		zap.String("detail", detail),
	)
	r.transition(ctx, order, models.OrderStatusFlagged, models.OrderStatusPending, models.OrderStatusVerified)
	r.notifier.Review(ctx, reviewItem(order, attempt, kind, detail))
	r.notifier.Publish(ctx, models.PaymentEvent{
		Type:      models.EventPaymentFlagged,
		OrderID:   order.OrderID,
		UserID:    order.BuyerID,
		PaymentID: attempt.PaymentID,
		Provider:  order.Provider,
		Reason:    kind,
	})
}

func (r *PaymentResolver) transition(ctx context.Context, order *models.Order, to models.OrderStatus, from ...models.OrderStatus) {
	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	changed, err := r.orders.TransitionStatus(storeCtx, order.OrderID, to, from...)
	if err != nil {
		r.logger.Error("order transition failed",
			zap.String("order_id", order.OrderID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return
	}
	if changed {
		order.Status = to
	}
}

func reviewItem(order *models.Order, attempt *models.PaymentAttempt, kind, detail string) models.ReviewItem {
	return models.ReviewItem{
		Kind:            kind,
		OrderID:         order.OrderID,
		PaymentID:       attempt.PaymentID,
		Provider:        order.Provider,
		ExpectedAmount:  order.ExpectedAmount.String(),
		ExpectedCurr:    order.Currency,
		GatewayAmount:   attempt.GatewayAmount,
		GatewayCurrency: attempt.GatewayCurrency,
		GatewayStatus:   attempt.GatewayStatus,
		Detail:          detail,
	}
}
