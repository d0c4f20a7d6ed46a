package models

import (
	"time"

	"github.com/google/uuid"
)

// Enrollment grants a student access to a course.
type Enrollment struct {
	ID              uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	StudentID       string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_enrollment_student_course" json:"student_id"`
	CourseID        string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_enrollment_student_course" json:"course_id"`
	PaymentRecordID *uuid.UUID `gorm:"type:uuid;index" json:"payment_record_id,omitempty"`
	IsActive        bool       `gorm:"not null;default:true" json:"is_active"`
	EnrolledAt      time.Time  `gorm:"not null" json:"enrolled_at"`
}

// EnrollmentRef is the compact form returned by the verify endpoint.
type EnrollmentRef struct {
	StudentID string `json:"studentId"`
	CourseID  string `json:"courseId"`
}
