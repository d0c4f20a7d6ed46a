package controllers

import (
	"net/http"

	"enrollment-service/middleware"
	"enrollment-service/models"
	"enrollment-service/services"

	"github.com/gin-gonic/gin"
)

type OrderController struct {
	orderService services.OrderService
}

func NewOrderController(orderService services.OrderService) *OrderController {
	return &OrderController{orderService: orderService}
}

// CreateOrder handles POST /orders
func (oc *OrderController) CreateOrder(ctx *gin.Context) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}

	var req models.CreateOrderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"success":   false,
			"errorKind": services.KindValidation,
			"error":     "Invalid request",
			"details":   err.Error(),
		})
		return
	}
	if req.BuyerID != "" && req.BuyerID != userID {
		ctx.JSON(http.StatusForbidden, gin.H{"success": false, "error": "buyerId does not match caller"})
		return
	}

	resp, svcErr := oc.orderService.CreateOrder(ctx.Request.Context(), userID, req.CourseIDs)
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusCreated, resp)
}

// GetOrder handles GET /orders/:id
func (oc *OrderController) GetOrder(ctx *gin.Context) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}

	order, svcErr := oc.orderService.GetOrder(ctx.Request.Context(), userID, ctx.Param("id"))
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}
