package repository

import (
	"context"
	"time"

	"enrollment-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentRepository is the ledger of captured payments.
type PaymentRepository interface {
	// InsertPaymentRecord returns ErrDuplicateKey when (provider, payment_id) already exists.
	InsertPaymentRecord(ctx context.Context, record *models.PaymentRecord) error
	// FindPaymentRecord returns ErrNotFound when no record exists.
	FindPaymentRecord(ctx context.Context, provider, paymentID string) (*models.PaymentRecord, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailedFulfillment(ctx context.Context, id uuid.UUID, reason string) error
	// ListForReconciliation returns failed_fulfillment records and processing
	// records not touched since staleBefore, oldest first. Records that already
	// failed maxAttempts times are left for operators.
	ListForReconciliation(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]models.PaymentRecord, error)
}

type gormPaymentRepo struct {
	db *gorm.DB
}

func NewGormPaymentRepo(db *gorm.DB) PaymentRepository {
	return &gormPaymentRepo{db: db}
}

func (r *gormPaymentRepo) InsertPaymentRecord(ctx context.Context, record *models.PaymentRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return translate(r.db.WithContext(ctx).Create(record).Error)
}

func (r *gormPaymentRepo) FindPaymentRecord(ctx context.Context, provider, paymentID string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("provider = ? AND payment_id = ?", provider, paymentID).
		First(&record).Error
	if err != nil {
		return nil, translate(err)
	}
	return &record, nil
}

func (r *gormPaymentRepo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.PaymentStatusCompleted,
			"last_error": nil,
		}).Error
}

func (r *gormPaymentRepo) MarkFailedFulfillment(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.PaymentStatusFailedFulfillment,
			"last_error": reason,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
}

func (r *gormPaymentRepo) ListForReconciliation(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]models.PaymentRecord, error) {
	var records []models.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND updated_at < ?)",
			models.PaymentStatusFailedFulfillment, models.PaymentStatusProcessing, staleBefore).
		Where("attempts < ?", maxAttempts).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
