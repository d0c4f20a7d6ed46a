package services

import (
	"context"
	"errors"
	"time"

	"enrollment-service/models"
	"enrollment-service/monitoring"
	"enrollment-service/pkg/retry"
	"enrollment-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// VerifyStatus is the outcome of a successful or accepted verification.
type VerifyStatus string

const (
	StatusFulfilled             VerifyStatus = "fulfilled"
	StatusDuplicate             VerifyStatus = "duplicate"
	StatusProcessing            VerifyStatus = "processing"
	StatusPendingReconciliation VerifyStatus = "pending_reconciliation"
)

// FulfillmentResult describes what the engine did with a payment.
type FulfillmentResult struct {
	Status          VerifyStatus
	PaymentRecordID uuid.UUID
	Enrollments     []models.EnrollmentRef
}

// Granted reports whether access exists for the payment.
func (r *FulfillmentResult) Granted() bool {
	return r.Status == StatusFulfilled || r.Status == StatusDuplicate
}

// FulfillmentEngine turns a verified, reconciled payment into enrollments
// exactly once. The unique (provider, payment_id) insert decides ownership.
type FulfillmentEngine struct {
	payments     repository.PaymentRepository
	enrollments  repository.EnrollmentRepository
	orders       repository.OrderRepository
	notifier     *Notifier
	policy       retry.Policy
	storeTimeout time.Duration
	logger       *zap.Logger
}

func NewFulfillmentEngine(
	payments repository.PaymentRepository,
	enrollments repository.EnrollmentRepository,
	orders repository.OrderRepository,
	notifier *Notifier,
	maxAttempts int,
	storeTimeout time.Duration,
	logger *zap.Logger,
) *FulfillmentEngine {
	return &FulfillmentEngine{
		payments:     payments,
		enrollments:  enrollments,
		orders:       orders,
		notifier:     notifier,
		policy:       retry.Policy{Attempts: maxAttempts, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second},
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// Fulfill records the payment and grants access to the order's courses.
func (e *FulfillmentEngine) Fulfill(ctx context.Context, attempt *models.PaymentAttempt, order *models.Order) (*FulfillmentResult, *ServiceError) {
	record := &models.PaymentRecord{
		ID:        uuid.New(),
		UserID:    order.BuyerID,
		CourseIDs: datatypes.JSONSlice[string](order.CourseIDs()),
		Amount:    order.ExpectedAmount,
		Currency:  order.Currency,
		Provider:  order.Provider,
		PaymentID: attempt.PaymentID,
		OrderID:   order.OrderID,
		Status:    models.PaymentStatusProcessing,
		Metadata: datatypes.JSONMap{
			"gateway_amount_minor": attempt.GatewayAmount,
			"gateway_currency":     attempt.GatewayCurrency,
			"gateway_status":       attempt.GatewayStatus,
			"verified_at":          attempt.VerifiedAt.Format(time.RFC3339),
		},
	}

	insertCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	err := e.payments.InsertPaymentRecord(insertCtx, record)
	cancel()
	if errors.Is(err, repository.ErrDuplicateKey) {
		return e.duplicate(ctx, attempt, order)
	}
	if err != nil {
		e.logger.Error("failed to insert payment record",
			zap.String("order_id", order.OrderID),
			zap.String("payment_id", attempt.PaymentID),
			zap.Error(err),
		)
		monitoring.FulfillmentResults.WithLabelValues("record_failed").Inc()
		return nil, newServiceError(KindStoreFailure, "failed to record payment, please retry", err)
	}

	// The payment is on the ledger. From here the work must finish even if
	// the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if order.Status == models.OrderStatusFulfilled {
		e.notifier.Review(ctx, reviewItem(order, attempt, reviewDuplicateCharge, "second captured payment for a fulfilled order"))
	}

	return e.grant(ctx, record)
}

// Refulfill retries the grant for a record left in processing or
// failed_fulfillment. Signatures and the gateway are not consulted.
func (e *FulfillmentEngine) Refulfill(ctx context.Context, record *models.PaymentRecord) (*FulfillmentResult, *ServiceError) {
	if record.Status == models.PaymentStatusCompleted {
		return &FulfillmentResult{
			Status:          StatusDuplicate,
			PaymentRecordID: record.ID,
			Enrollments:     refsFromRecord(record),
		}, nil
	}
	if e.alreadyGranted(ctx, record) {
		return e.complete(ctx, record)
	}
	return e.grant(ctx, record)
}

// alreadyGranted reports whether every course of the record already has an
// active enrollment written by this record. That is the state left behind when
// MarkCompleted failed after the enrollments committed.
func (e *FulfillmentEngine) alreadyGranted(ctx context.Context, record *models.PaymentRecord) bool {
	if len(record.CourseIDs) == 0 {
		return false
	}
	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	existing, err := e.enrollments.ListByPaymentRecord(storeCtx, record.ID)
	if err != nil {
		e.logger.Warn("could not load enrollments for payment record",
			zap.String("payment_record_id", record.ID.String()),
			zap.Error(err),
		)
		return false
	}
	have := make(map[string]struct{}, len(existing))
	for _, en := range existing {
		have[en.CourseID] = struct{}{}
	}
	for _, id := range record.CourseIDs {
		if _, ok := have[id]; !ok {
			return false
		}
	}
	return true
}

// complete closes out a record whose enrollments already exist. The catalog is
// not consulted again, so a course unpublished since the grant does not revoke it.
func (e *FulfillmentEngine) complete(ctx context.Context, record *models.PaymentRecord) (*FulfillmentResult, *ServiceError) {
	log := e.logger.With(
		zap.String("order_id", record.OrderID),
		zap.String("payment_record_id", record.ID.String()),
	)

	completeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	err := e.payments.MarkCompleted(completeCtx, record.ID)
	cancel()
	if err != nil {
		log.Error("failed to mark payment record completed", zap.Error(err))
		return nil, fulfillmentPending(err)
	}
	record.Status = models.PaymentStatusCompleted
	e.transition(ctx, record.OrderID, models.OrderStatusFulfilled,
		models.OrderStatusFulfilling, models.OrderStatusVerified, models.OrderStatusFailed, models.OrderStatusPending)

	log.Info("payment record completed for existing enrollments")
	monitoring.FulfillmentResults.WithLabelValues("completed_existing").Inc()
	return &FulfillmentResult{
		Status:          StatusFulfilled,
		PaymentRecordID: record.ID,
		Enrollments:     refsFromRecord(record),
	}, nil
}

func (e *FulfillmentEngine) grant(ctx context.Context, record *models.PaymentRecord) (*FulfillmentResult, *ServiceError) {
	log := e.logger.With(
		zap.String("order_id", record.OrderID),
		zap.String("payment_id", record.PaymentID),
		zap.String("payment_record_id", record.ID.String()),
	)

	e.transition(ctx, record.OrderID, models.OrderStatusFulfilling,
		models.OrderStatusVerified, models.OrderStatusFailed, models.OrderStatusPending)

	err := retry.Do(ctx, e.policy, isTransientStoreError, func(ctx context.Context) error {
		storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
		defer cancel()
		_, err := e.enrollments.InsertEnrollmentsAtomic(storeCtx, record.UserID, record.CourseIDs, record.ID)
		if err != nil {
			log.Warn("enrollment insert failed", zap.Error(err))
		}
		return err
	})
	if err != nil {
		log.Error("fulfillment failed", zap.Error(err))
		e.fail(ctx, record, err)
		monitoring.FulfillmentResults.WithLabelValues("failed").Inc()
		return nil, fulfillmentPending(err)
	}

	completeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	err = e.payments.MarkCompleted(completeCtx, record.ID)
	cancel()
	if err != nil {
		// Enrollments exist; the reconciler will find the record still in
		// processing and complete it idempotently.
		log.Error("failed to mark payment record completed", zap.Error(err))
	} else {
		record.Status = models.PaymentStatusCompleted
	}
	e.transition(ctx, record.OrderID, models.OrderStatusFulfilled, models.OrderStatusFulfilling)

	log.Info("enrollment granted", zap.Strings("course_ids", record.CourseIDs))
	monitoring.FulfillmentResults.WithLabelValues("fulfilled").Inc()
	e.notifier.Publish(ctx, models.PaymentEvent{
		Type:      models.EventEnrollmentGranted,
		OrderID:   record.OrderID,
		UserID:    record.UserID,
		PaymentID: record.PaymentID,
		Provider:  record.Provider,
		CourseIDs: record.CourseIDs,
		Amount:    record.Amount.String(),
		Currency:  record.Currency,
	})

	return &FulfillmentResult{
		Status:          StatusFulfilled,
		PaymentRecordID: record.ID,
		Enrollments:     refsFromRecord(record),
	}, nil
}

// fail leaves the payment on the ledger as failed_fulfillment for the
// reconciler. Only the first failure of a record is published.
func (e *FulfillmentEngine) fail(ctx context.Context, record *models.PaymentRecord, cause error) {
	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	first := record.Attempts == 0

	if err := e.payments.MarkFailedFulfillment(storeCtx, record.ID, cause.Error()); err != nil {
		e.logger.Error("failed to mark payment record failed_fulfillment",
			zap.String("payment_record_id", record.ID.String()),
			zap.Error(err),
		)
	} else {
		reason := cause.Error()
		record.Status = models.PaymentStatusFailedFulfillment
		record.LastError = &reason
		record.Attempts++
	}
	e.transition(ctx, record.OrderID, models.OrderStatusFailed,
		models.OrderStatusFulfilling, models.OrderStatusVerified)

	if !first {
		return
	}
	e.notifier.Publish(ctx, models.PaymentEvent{
		Type:      models.EventFulfillmentFailed,
		OrderID:   record.OrderID,
		UserID:    record.UserID,
		PaymentID: record.PaymentID,
		Provider:  record.Provider,
		CourseIDs: record.CourseIDs,
		Reason:    cause.Error(),
	})
}

// duplicate handles a payment that is already on the ledger.
func (e *FulfillmentEngine) duplicate(ctx context.Context, attempt *models.PaymentAttempt, order *models.Order) (*FulfillmentResult, *ServiceError) {
	findCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	existing, err := e.payments.FindPaymentRecord(findCtx, order.Provider, attempt.PaymentID)
	if err != nil {
		e.logger.Error("duplicate payment record could not be loaded",
			zap.String("payment_id", attempt.PaymentID),
			zap.Error(err),
		)
		return nil, newServiceError(KindStoreFailure, "failed to load payment record", err)
	}
	return duplicateResult(ctx, e.notifier, existing, order, attempt)
}

// duplicateResult maps an existing ledger row onto the response for a repeated delivery.
func duplicateResult(ctx context.Context, notifier *Notifier, existing *models.PaymentRecord, order *models.Order, attempt *models.PaymentAttempt) (*FulfillmentResult, *ServiceError) {
	if existing.OrderID != order.OrderID {
		notifier.Review(ctx, reviewItem(order, attempt, reviewPaymentConflict, "payment already recorded for order "+existing.OrderID))
		return nil, newServiceError(KindPaymentConflict, "payment does not match order", nil)
	}

	result := &FulfillmentResult{PaymentRecordID: existing.ID}
	switch existing.Status {
	case models.PaymentStatusCompleted:
		result.Status = StatusDuplicate
		result.Enrollments = refsFromRecord(existing)
	case models.PaymentStatusFailedFulfillment:
		result.Status = StatusPendingReconciliation
	default:
		result.Status = StatusProcessing
	}
	monitoring.FulfillmentResults.WithLabelValues(string(result.Status)).Inc()
	return result, nil
}

func (e *FulfillmentEngine) transition(ctx context.Context, orderID string, to models.OrderStatus, from ...models.OrderStatus) {
	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	if _, err := e.orders.TransitionStatus(storeCtx, orderID, to, from...); err != nil {
		e.logger.Error("order transition failed",
			zap.String("order_id", orderID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
	}
}

func isTransientStoreError(err error) bool {
	return !errors.Is(err, repository.ErrCourseMissing) && !errors.Is(err, context.Canceled)
}

func refsFromRecord(record *models.PaymentRecord) []models.EnrollmentRef {
	refs := make([]models.EnrollmentRef, 0, len(record.CourseIDs))
	for _, id := range record.CourseIDs {
		refs = append(refs, models.EnrollmentRef{StudentID: record.UserID, CourseID: id})
	}
	return refs
}
