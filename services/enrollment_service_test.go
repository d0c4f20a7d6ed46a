package services_test

import (
	"context"
	"testing"
	"time"

	"enrollment-service/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestListEnrollments(t *testing.T) {
	catalog := newFakeCourseRepo(course("c1", "500", "INR"), course("c2", "700", "INR"))
	repo := newMemEnrollmentRepo(catalog)
	_, err := repo.InsertEnrollmentsAtomic(context.Background(), "u1", []string{"c1", "c2"}, uuid.New())
	require.NoError(t, err)

	svc := services.NewEnrollmentService(repo, time.Second, zap.NewNop())

	all, svcErr := svc.ListEnrollments(context.Background(), "u1", "")
	require.Nil(t, svcErr)
	assert.Len(t, all.Enrollments, 2)
	assert.True(t, all.Enrolled)

	one, svcErr := svc.ListEnrollments(context.Background(), "u1", "c2")
	require.Nil(t, svcErr)
	require.Len(t, one.Enrollments, 1)
	assert.Equal(t, "c2", one.Enrollments[0].CourseID)

	none, svcErr := svc.ListEnrollments(context.Background(), "u2", "c1")
	require.Nil(t, svcErr)
	assert.False(t, none.Enrolled)
	assert.NotNil(t, none.Enrollments)
}

func TestListEnrollments_RequiresStudent(t *testing.T) {
	svc := services.NewEnrollmentService(newMemEnrollmentRepo(newFakeCourseRepo()), time.Second, zap.NewNop())

	_, svcErr := svc.ListEnrollments(context.Background(), "", "")
	require.NotNil(t, svcErr)
	assert.Equal(t, services.KindValidation, svcErr.Kind)
}
