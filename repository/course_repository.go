package repository

import (
	"context"

	"enrollment-service/models"

	"gorm.io/gorm"
)

// CourseRepository reads the course catalog owned by the content side of the platform.
type CourseRepository interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.Course, error)
}

// GormCourseRepository implements CourseRepository using GORM.
type GormCourseRepository struct {
	db *gorm.DB
}

// NewGormCourseRepository creates a new GormCourseRepository.
func NewGormCourseRepository(db *gorm.DB) CourseRepository {
	return &GormCourseRepository{db: db}
}

// FindByIDs returns the courses that exist among ids, in no particular order.
func (r *GormCourseRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Course, error) {
	var courses []models.Course
	if len(ids) == 0 {
		return courses, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&courses).Error; err != nil {
		return nil, err
	}
	return courses, nil
}
