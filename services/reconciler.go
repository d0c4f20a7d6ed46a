package services

import (
	"context"
	"fmt"
	"time"

	"enrollment-service/models"
	"enrollment-service/monitoring"
	"enrollment-service/repository"

	"go.uber.org/zap"
)

// ReconcileReport summarises one reconciler pass.
type ReconcileReport struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

const reviewFulfillmentExhausted = "fulfillment_exhausted"

// Reconciler retries fulfillment for payments that were captured but never
// turned into access. It only reruns the grant; signatures and the gateway
// are never consulted again. A record that has failed maxAttempts times is
// handed to the review queue and no longer listed.
type Reconciler struct {
	payments    repository.PaymentRepository
	engine      *FulfillmentEngine
	staleAfter  time.Duration
	maxAttempts int
	batchSize   int
	logger      *zap.Logger
}

func NewReconciler(payments repository.PaymentRepository, engine *FulfillmentEngine, staleAfter time.Duration, maxAttempts, batchSize int, logger *zap.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Reconciler{
		payments:    payments,
		engine:      engine,
		staleAfter:  staleAfter,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// RunOnce processes up to one batch of records.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	records, err := r.payments.ListForReconciliation(ctx, time.Now().UTC().Add(-r.staleAfter), r.maxAttempts, r.batchSize)
	if err != nil {
		r.logger.Error("reconciler: failed to list payment records", zap.Error(err))
		return report, err
	}

	for i := range records {
		if ctx.Err() != nil {
			break
		}
		record := &records[i]
		report.Scanned++

		result, svcErr := r.engine.Refulfill(ctx, record)
		if svcErr != nil {
			report.Failed++
			monitoring.ReconcileResults.WithLabelValues("failed").Inc()
			r.logger.Warn("reconciler: record still pending",
				zap.String("payment_record_id", record.ID.String()),
				zap.String("order_id", record.OrderID),
				zap.Int("attempts", record.Attempts),
				zap.Error(svcErr),
			)
			if record.Attempts >= r.maxAttempts {
				report.Exhausted++
				r.exhausted(ctx, record)
			}
			continue
		}

		report.Completed++
		monitoring.ReconcileResults.WithLabelValues("completed").Inc()
		r.logger.Info("reconciler: record fulfilled",
			zap.String("payment_record_id", record.ID.String()),
			zap.String("order_id", record.OrderID),
			zap.String("status", string(result.Status)),
		)
	}

	if report.Scanned > 0 {
		r.logger.Info("reconciler pass finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("completed", report.Completed),
			zap.Int("failed", report.Failed),
			zap.Int("exhausted", report.Exhausted),
		)
	}
	return report, nil
}

// exhausted runs once per record: the attempt that reaches the cap also drops
// it out of ListForReconciliation.
func (r *Reconciler) exhausted(ctx context.Context, record *models.PaymentRecord) {
	monitoring.ReconcileResults.WithLabelValues("exhausted").Inc()
	detail := fmt.Sprintf("fulfillment gave up after %d attempts", record.Attempts)
	if record.LastError != nil {
		detail += ": " + *record.LastError
	}
	r.engine.notifier.Review(ctx, models.ReviewItem{
		Kind:           reviewFulfillmentExhausted,
		OrderID:        record.OrderID,
		PaymentID:      record.PaymentID,
		Provider:       record.Provider,
		ExpectedAmount: record.Amount.String(),
		ExpectedCurr:   record.Currency,
		Detail:         detail,
	})
}

// Start runs RunOnce every interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			_, _ = r.RunOnce(ctx)
		}
	}
}
