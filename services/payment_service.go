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

	"github.com/stripe/stripe-go/v80"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// VerifyRequest is a checkout callback relayed by the client.
type VerifyRequest struct {
	BuyerID   string
	OrderID   string
	PaymentID string
	Signature string
}

// VerifyResult is returned for every non-error outcome.
type VerifyResult struct {
	Success     bool                   `json:"success"`
	Status      VerifyStatus           `json:"status"`
	OrderID     string                 `json:"orderId"`
	Enrollments []models.EnrollmentRef `json:"enrollments"`
}

// WebhookResult reports what a webhook delivery did.
type WebhookResult struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
}

// StripeWebhookParser is implemented by gateways that verify their own webhook signatures.
type StripeWebhookParser interface {
	ParseWebhook(payload []byte, sigHeader string) (stripe.Event, error)
}

// Archiver stores raw webhook bodies for audit.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// PaymentService composes signature verification, gateway reconciliation and
// fulfillment for checkout callbacks and gateway webhooks.
type PaymentService interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, *ServiceError)
	HandleRazorpayWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, *ServiceError)
	HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) (*WebhookResult, *ServiceError)
}

type paymentServiceImpl struct {
	verifier *SignatureVerifier
	resolver *PaymentResolver
	engine   *FulfillmentEngine
	payments repository.PaymentRepository
	gateway  gateway.Gateway
	notifier *Notifier
	archiver Archiver
	logger   *zap.Logger
}

// NewPaymentService creates a new PaymentService. archiver may be nil.
func NewPaymentService(
	verifier *SignatureVerifier,
	resolver *PaymentResolver,
	engine *FulfillmentEngine,
	payments repository.PaymentRepository,
	gw gateway.Gateway,
	notifier *Notifier,
	archiver Archiver,
	logger *zap.Logger,
) PaymentService {
	return &paymentServiceImpl{
		verifier: verifier,
		resolver: resolver,
		engine:   engine,
		payments: payments,
		gateway:  gw,
		notifier: notifier,
		archiver: archiver,
		logger:   logger,
	}
}

// Verify handles POST /orders/verify.
func (s *paymentServiceImpl) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, *ServiceError) {
	ctx, span := monitoring.Tracer().Start(ctx, "payment.verify")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("payment_id", req.PaymentID),
	)

	result, svcErr := s.verify(ctx, req)
	s.record(span, "verify", result, svcErr)
	return result, svcErr
}

func (s *paymentServiceImpl) verify(ctx context.Context, req VerifyRequest) (*VerifyResult, *ServiceError) {
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return nil, newServiceError(KindValidation, "orderId, paymentId and signature are required", nil)
	}
	// Only Razorpay checkout hands the client an orderId|paymentId signature.
	// Stripe payments are confirmed through the webhook.
	if s.gateway.Name() != gateway.ProviderRazorpay {
		return nil, newServiceError(KindNotFound, "checkout verification is not enabled for this gateway", nil)
	}
	if svcErr := s.verifier.Verify(req.OrderID, req.PaymentID, req.Signature); svcErr != nil {
		return nil, svcErr
	}

	order, svcErr := s.resolver.LoadOrder(ctx, req.OrderID)
	if svcErr != nil {
		return nil, svcErr
	}
	if req.BuyerID != "" && order.BuyerID != req.BuyerID {
		s.logger.Warn("security_event",
			zap.String("reason", "order_owner_mismatch"),
			zap.String("order_id", req.OrderID),
			zap.String("caller", req.BuyerID),
		)
		return nil, newServiceError(KindNotFound, "order not found", nil)
	}

	fr, svcErr := s.process(ctx, order, req.PaymentID, req.Signature)
	if svcErr != nil {
		return nil, svcErr
	}
	return toVerifyResult(order.OrderID, fr), nil
}

// process runs a verified callback through reconciliation and fulfillment.
func (s *paymentServiceImpl) process(ctx context.Context, order *models.Order, paymentID, signature string) (*FulfillmentResult, *ServiceError) {
	// A payment already on the ledger is answered from the ledger.
	findCtx, cancel := context.WithTimeout(ctx, s.engine.storeTimeout)
	existing, err := s.payments.FindPaymentRecord(findCtx, order.Provider, paymentID)
	cancel()
	if err == nil {
		attempt := &models.PaymentAttempt{PaymentID: paymentID, OrderID: order.OrderID, Signature: signature}
		return duplicateResult(ctx, s.notifier, existing, order, attempt)
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("payment record lookup failed, continuing", zap.String("payment_id", paymentID), zap.Error(err))
	}

	attempt, svcErr := s.resolver.Reconcile(ctx, order, paymentID, signature)
	if svcErr != nil {
		return nil, svcErr
	}
	return s.engine.Fulfill(ctx, attempt, order)
}

// HandleRazorpayWebhook handles payment.captured and order.paid deliveries.
func (s *paymentServiceImpl) HandleRazorpayWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, *ServiceError) {
	ctx, span := monitoring.Tracer().Start(ctx, "payment.webhook.razorpay")
	defer span.End()

	if svcErr := s.verifier.VerifyWebhook(body, signature); svcErr != nil {
		s.record(span, "razorpay_webhook", nil, svcErr)
		return nil, svcErr
	}

	evt, err := gateway.ParseRazorpayWebhook(body)
	if err != nil {
		svcErr := newServiceError(KindValidation, "malformed webhook body", err)
		s.record(span, "razorpay_webhook", nil, svcErr)
		return nil, svcErr
	}
	s.archive(ctx, gateway.ProviderRazorpay, evt.Event, body)

	if evt.Event != "payment.captured" && evt.Event != "order.paid" {
		return &WebhookResult{Status: "ignored"}, nil
	}
	return s.handleWebhookPayment(ctx, span, "razorpay_webhook", evt.OrderID(), evt.PaymentID(), signature)
}

// HandleStripeWebhook handles payment_intent.succeeded deliveries.
func (s *paymentServiceImpl) HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) (*WebhookResult, *ServiceError) {
	ctx, span := monitoring.Tracer().Start(ctx, "payment.webhook.stripe")
	defer span.End()

	parser, ok := s.gateway.(StripeWebhookParser)
	if !ok {
		return nil, newServiceError(KindNotFound, "stripe webhooks are not enabled", nil)
	}
	event, err := parser.ParseWebhook(payload, sigHeader)
	if err != nil {
		s.logger.Warn("security_event", zap.String("reason", "stripe_webhook_signature"), zap.Error(err))
		svcErr := newServiceError(KindSignatureInvalid, genericPaymentMessage, nil)
		s.record(span, "stripe_webhook", nil, svcErr)
		return nil, svcErr
	}
	s.archive(ctx, gateway.ProviderStripe, string(event.Type), payload)

	orderID, paymentID, ok, err := gateway.SucceededPayment(event)
	if err != nil {
		return nil, newServiceError(KindValidation, "malformed stripe event", err)
	}
	if !ok {
		return &WebhookResult{Status: "ignored"}, nil
	}
	return s.handleWebhookPayment(ctx, span, "stripe_webhook", orderID, paymentID, sigHeader)
}

func (s *paymentServiceImpl) handleWebhookPayment(ctx context.Context, span trace.Span, source, orderID, paymentID, signature string) (*WebhookResult, *ServiceError) {
	span.SetAttributes(attribute.String("order_id", orderID), attribute.String("payment_id", paymentID))
	if orderID == "" || paymentID == "" {
		return &WebhookResult{Status: "ignored"}, nil
	}

	order, svcErr := s.resolver.LoadOrder(ctx, orderID)
	if svcErr != nil {
		s.record(span, source, nil, svcErr)
		return nil, svcErr
	}
	fr, svcErr := s.process(ctx, order, paymentID, signature)
	var result *VerifyResult
	if fr != nil {
		result = toVerifyResult(orderID, fr)
	}
	s.record(span, source, result, svcErr)
	if svcErr != nil {
		return nil, svcErr
	}
	return &WebhookResult{Status: string(fr.Status), OrderID: orderID}, nil
}

func (s *paymentServiceImpl) archive(ctx context.Context, provider, eventType string, body []byte) {
	if s.archiver == nil {
		return
	}
	key := fmt.Sprintf("webhooks/%s/%s/%d-%s.json",
		provider, time.Now().UTC().Format("2006/01/02"), time.Now().UnixNano(), strings.ReplaceAll(eventType, ".", "_"))
	if err := s.archiver.Archive(ctx, key, body); err != nil {
		s.logger.Warn("failed to archive webhook", zap.String("key", key), zap.Error(err))
	}
}

func (s *paymentServiceImpl) record(span trace.Span, source string, result *VerifyResult, svcErr *ServiceError) {
	outcome := ""
	switch {
	case svcErr != nil:
		outcome = string(svcErr.Kind)
		span.SetStatus(codes.Error, string(svcErr.Kind))
	case result != nil:
		outcome = string(result.Status)
		span.SetStatus(codes.Ok, "")
	default:
		return
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	monitoring.VerifyOutcomes.WithLabelValues(source, outcome).Inc()
}

func toVerifyResult(orderID string, fr *FulfillmentResult) *VerifyResult {
	enrollments := fr.Enrollments
	if enrollments == nil {
		enrollments = []models.EnrollmentRef{}
	}
	return &VerifyResult{
		Success:     fr.Granted(),
		Status:      fr.Status,
		OrderID:     orderID,
		Enrollments: enrollments,
	}
}
