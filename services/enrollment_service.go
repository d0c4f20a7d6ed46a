package services

import (
	"context"
	"time"

	"enrollment-service/models"
	"enrollment-service/repository"

	"go.uber.org/zap"
)

// EnrollmentList is the response of GET /enrollments.
type EnrollmentList struct {
	Enrollments []models.Enrollment `json:"enrollments"`
	Enrolled    bool                `json:"enrolled"`
}

// EnrollmentService exposes a student's active course access.
type EnrollmentService interface {
	ListEnrollments(ctx context.Context, studentID, courseID string) (*EnrollmentList, *ServiceError)
}

type enrollmentServiceImpl struct {
	repo         repository.EnrollmentRepository
	storeTimeout time.Duration
	logger       *zap.Logger
}

func NewEnrollmentService(repo repository.EnrollmentRepository, storeTimeout time.Duration, logger *zap.Logger) EnrollmentService {
	return &enrollmentServiceImpl{repo: repo, storeTimeout: storeTimeout, logger: logger}
}

// ListEnrollments returns active enrollments, optionally for one course.
// Enrolled is true when at least one matches.
func (s *enrollmentServiceImpl) ListEnrollments(ctx context.Context, studentID, courseID string) (*EnrollmentList, *ServiceError) {
	if studentID == "" {
		return nil, newServiceError(KindValidation, "student id is required", nil)
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	enrollments, err := s.repo.ListByStudent(storeCtx, studentID, courseID)
	if err != nil {
		s.logger.Error("failed to list enrollments", zap.String("student_id", studentID), zap.Error(err))
		return nil, newServiceError(KindStoreFailure, "failed to load enrollments", err)
	}
	if enrollments == nil {
		enrollments = []models.Enrollment{}
	}
	return &EnrollmentList{Enrollments: enrollments, Enrolled: len(enrollments) > 0}, nil
}
