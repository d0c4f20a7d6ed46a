package controllers

import (
	"net/http"

	"enrollment-service/middleware"
	"enrollment-service/models"
	"enrollment-service/services"

	"github.com/gin-gonic/gin"
)

type PaymentController struct {
	paymentService services.PaymentService
}

func NewPaymentController(paymentService services.PaymentService) *PaymentController {
	return &PaymentController{paymentService: paymentService}
}

// VerifyPayment handles POST /orders/verify. Fulfilled and duplicate answer
// 200; payments recorded but not yet granted answer 202.
func (pc *PaymentController) VerifyPayment(ctx *gin.Context) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}

	var req models.VerifyPaymentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"success":   false,
			"errorKind": services.KindValidation,
			"error":     "orderId, paymentId and signature are required",
		})
		return
	}
	if req.BuyerID != "" && req.BuyerID != userID {
		ctx.JSON(http.StatusForbidden, gin.H{"success": false, "error": "buyerId does not match caller"})
		return
	}

	result, svcErr := pc.paymentService.Verify(ctx.Request.Context(), services.VerifyRequest{
		BuyerID:   userID,
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if svcErr != nil {
		if svcErr.StatusCode == http.StatusAccepted {
			ctx.JSON(http.StatusAccepted, gin.H{
				"success":   false,
				"status":    services.StatusPendingReconciliation,
				"orderId":   req.OrderID,
				"errorKind": svcErr.Kind,
				"error":     svcErr.Message,
			})
			return
		}
		writeError(ctx, svcErr)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusAccepted
	}
	ctx.JSON(status, result)
}
