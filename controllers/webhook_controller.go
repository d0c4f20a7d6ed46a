package controllers

import (
	"io"
	"net/http"

	"enrollment-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type WebhookController struct {
	paymentService services.PaymentService
	logger         *zap.Logger
}

func NewWebhookController(paymentService services.PaymentService, logger *zap.Logger) *WebhookController {
	return &WebhookController{paymentService: paymentService, logger: logger}
}

// Razorpay handles POST /webhooks/razorpay
func (wc *WebhookController) Razorpay(ctx *gin.Context) {
	body, ok := wc.readBody(ctx)
	if !ok {
		return
	}
	result, svcErr := wc.paymentService.HandleRazorpayWebhook(ctx.Request.Context(), body, ctx.GetHeader("X-Razorpay-Signature"))
	wc.respond(ctx, "razorpay", result, svcErr)
}

// Stripe handles POST /webhooks/stripe
func (wc *WebhookController) Stripe(ctx *gin.Context) {
	body, ok := wc.readBody(ctx)
	if !ok {
		return
	}
	result, svcErr := wc.paymentService.HandleStripeWebhook(ctx.Request.Context(), body, ctx.GetHeader("Stripe-Signature"))
	wc.respond(ctx, "stripe", result, svcErr)
}

func (wc *WebhookController) readBody(ctx *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return nil, false
	}
	return body, true
}

// respond acknowledges every delivery the gateway should not redeliver.
// Bad signatures get 400; infrastructure failures keep their 5xx so the
// gateway retries.
func (wc *WebhookController) respond(ctx *gin.Context, provider string, result *services.WebhookResult, svcErr *services.ServiceError) {
	if svcErr == nil {
		ctx.JSON(http.StatusOK, result)
		return
	}

	switch {
	case svcErr.Kind == services.KindSignatureInvalid:
		writeError(ctx, svcErr)
	case svcErr.StatusCode >= http.StatusInternalServerError:
		wc.logger.Error("webhook processing failed",
			zap.String("provider", provider),
			zap.String("kind", string(svcErr.Kind)),
			zap.Error(svcErr),
		)
		writeError(ctx, svcErr)
	case svcErr.StatusCode == http.StatusAccepted:
		ctx.JSON(http.StatusOK, gin.H{"status": services.StatusPendingReconciliation})
	default:
		wc.logger.Info("webhook acknowledged without fulfillment",
			zap.String("provider", provider),
			zap.String("kind", string(svcErr.Kind)),
			zap.String("reason", svcErr.Message),
		)
		ctx.JSON(http.StatusOK, gin.H{"status": svcErr.Kind})
	}
}
