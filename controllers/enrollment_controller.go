package controllers

import (
	"net/http"

	"enrollment-service/middleware"
	"enrollment-service/services"

	"github.com/gin-gonic/gin"
)

type EnrollmentController struct {
	enrollmentService services.EnrollmentService
}

func NewEnrollmentController(svc services.EnrollmentService) *EnrollmentController {
	return &EnrollmentController{enrollmentService: svc}
}

// ListEnrollments handles GET /enrollments?courseId=
func (ec *EnrollmentController) ListEnrollments(ctx *gin.Context) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}

	list, svcErr := ec.enrollmentService.ListEnrollments(ctx.Request.Context(), userID, ctx.Query("courseId"))
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, list)
}
