package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthController struct {
	service           string
	provider          string
	gatewayConfigured bool
	db                Pinger
}

func NewHealthController(service, provider string, gatewayConfigured bool, db Pinger) *HealthController {
	return &HealthController{
		service:           service,
		provider:          provider,
		gatewayConfigured: gatewayConfigured,
		db:                db,
	}
}

// Health handles GET /health. It reports whether the payment gateway is
// configured and whether the database answers.
func (hc *HealthController) Health(ctx *gin.Context) {
	status, code := "healthy", http.StatusOK
	database := "up"
	if hc.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		if err := hc.db.PingContext(pingCtx); err != nil {
			status, code, database = "unhealthy", http.StatusServiceUnavailable, "down"
		}
	}
	if !hc.gatewayConfigured {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	ctx.JSON(code, gin.H{
		"status":            status,
		"service":           hc.service,
		"gateway":           hc.provider,
		"gatewayConfigured": hc.gatewayConfigured,
		"database":          database,
	})
}
