package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerifyOutcomes counts verify and webhook results by outcome (fulfilled,
	// duplicate, processing, or an error kind).
	VerifyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_payment_verifications_total",
		Help: "Payment verifications by outcome.",
	}, []string{"source", "outcome"})

	FulfillmentResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_fulfillments_total",
		Help: "Fulfillment attempts by result.",
	}, []string{"result"})

	ReconcileResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_reconcile_records_total",
		Help: "Records processed by the reconciler, by result.",
	}, []string{"result"})

	GatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enrollment_gateway_call_duration_seconds",
		Help:    "Duration of payment gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation", "status"})

	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_orders_created_total",
		Help: "Orders created, by provider and currency.",
	}, []string{"provider", "currency"})
)

// ObserveGatewayCall records how long a gateway call took.
func ObserveGatewayCall(provider, operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	GatewayCallDuration.WithLabelValues(provider, operation, status).Observe(time.Since(start).Seconds())
}
