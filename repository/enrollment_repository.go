package repository

import (
	"context"
	"fmt"
	"time"

	"enrollment-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnrollmentRepository grants and lists course access.
type EnrollmentRepository interface {
	// InsertEnrollmentsAtomic writes one active enrollment per course, all or
	// nothing. It fails with ErrCourseMissing if any course is unknown or unpublished.
	InsertEnrollmentsAtomic(ctx context.Context, studentID string, courseIDs []string, paymentRecordID uuid.UUID) ([]models.Enrollment, error)
	ListByStudent(ctx context.Context, studentID, courseID string) ([]models.Enrollment, error)
	// ListByPaymentRecord returns the active enrollments the given payment granted.
	ListByPaymentRecord(ctx context.Context, paymentRecordID uuid.UUID) ([]models.Enrollment, error)
}

// GormEnrollmentRepository implements EnrollmentRepository using GORM.
type GormEnrollmentRepository struct {
	db *gorm.DB
}

// NewGormEnrollmentRepository creates a new GormEnrollmentRepository.
func NewGormEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &GormEnrollmentRepository{db: db}
}

func (r *GormEnrollmentRepository) InsertEnrollmentsAtomic(ctx context.Context, studentID string, courseIDs []string, paymentRecordID uuid.UUID) ([]models.Enrollment, error) {
	ids := uniqueIDs(courseIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no courses", ErrCourseMissing)
	}

	now := time.Now().UTC()
	enrollments := make([]models.Enrollment, 0, len(ids))
	for _, id := range ids {
		prID := paymentRecordID
		enrollments = append(enrollments, models.Enrollment{
			ID:              uuid.New(),
			StudentID:       studentID,
			CourseID:        id,
			PaymentRecordID: &prID,
			IsActive:        true,
			EnrolledAt:      now,
		})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Share-lock the catalog rows so a course cannot be unpublished mid-grant.
		var found []string
		if err := tx.Model(&models.Course{}).
			Clauses(clause.Locking{Strength: "SHARE"}).
			Where("id IN ? AND status = ?", ids, models.CourseStatusPublished).
			Pluck("id", &found).Error; err != nil {
			return err
		}
		if len(found) != len(ids) {
			return fmt.Errorf("%w: %d of %d courses available", ErrCourseMissing, len(found), len(ids))
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}, {Name: "course_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_active", "payment_record_id", "enrolled_at"}),
		}).Create(&enrollments).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return enrollments, nil
}

func (r *GormEnrollmentRepository) ListByStudent(ctx context.Context, studentID, courseID string) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	query := r.db.WithContext(ctx).
		Where("student_id = ? AND is_active = ?", studentID, true)
	if courseID != "" {
		query = query.Where("course_id = ?", courseID)
	}
	if err := query.Order("enrolled_at DESC").Find(&enrollments).Error; err != nil {
		return nil, err
	}
	return enrollments, nil
}

func (r *GormEnrollmentRepository) ListByPaymentRecord(ctx context.Context, paymentRecordID uuid.UUID) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := r.db.WithContext(ctx).
		Where("payment_record_id = ? AND is_active = ?", paymentRecordID, true).
		Find(&enrollments).Error
	if err != nil {
		return nil, err
	}
	return enrollments, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
