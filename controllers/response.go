package controllers

import (
	"enrollment-service/services"

	"github.com/gin-gonic/gin"
)

func writeError(ctx *gin.Context, svcErr *services.ServiceError) {
	if svcErr.Err != nil {
		_ = ctx.Error(svcErr.Err)
	}
	ctx.JSON(svcErr.StatusCode, gin.H{
		"success":   false,
		"errorKind": svcErr.Kind,
		"error":     svcErr.Message,
	})
}
