package routes

import (
	"enrollment-service/controllers"
	"enrollment-service/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controllers groups every handler the router mounts.
type Controllers struct {
	Orders      *controllers.OrderController
	Payments    *controllers.PaymentController
	Webhooks    *controllers.WebhookController
	Enrollments *controllers.EnrollmentController
	Health      *controllers.HealthController
}

// RegisterRoutes mounts the public API. Payment endpoints share a per-IP limiter.
func RegisterRoutes(r *gin.Engine, c Controllers, paymentLimiter *middleware.RateLimiter) {
	controllers.RegisterValidators()

	r.GET("/health", c.Health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	orders := r.Group("/orders")
	orders.Use(middleware.AuthMiddleware())
	orders.POST("", c.Orders.CreateOrder)
	orders.POST("/verify", paymentLimiter.Middleware(), c.Payments.VerifyPayment)
	orders.GET("/:id", c.Orders.GetOrder)

	enrollments := r.Group("/enrollments")
	enrollments.Use(middleware.AuthMiddleware())
	enrollments.GET("", c.Enrollments.ListEnrollments)

	webhooks := r.Group("/webhooks")
	webhooks.Use(paymentLimiter.Middleware())
	webhooks.POST("/razorpay", c.Webhooks.Razorpay)
	webhooks.POST("/stripe", c.Webhooks.Stripe)
}
