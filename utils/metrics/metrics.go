package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Payment settlement metrics, exposed on /metrics
var (
	PurchasesInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursemarket_purchases_total",
			Help: "Purchase initiations by outcome",
		},
		[]string{"outcome"}, // "created", "resumed", "rejected", "conflict", "gateway_error"
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursemarket_webhook_events_total",
			Help: "Payment webhook deliveries by event type and outcome",
		},
		[]string{"event_type", "outcome"}, // outcome: "applied", "duplicate", "unknown_intent", "ignored", "error"
	)

	WebhookSignatureFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursemarket_webhook_signature_failures_total",
			Help: "Webhook deliveries rejected because the signature did not verify",
		},
	)

	PaymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursemarket_payment_transitions_total",
			Help: "Payment status transitions applied",
		},
		[]string{"from", "to"},
	)

	Refunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursemarket_refunds_total",
			Help: "Refund requests by outcome",
		},
		[]string{"outcome"}, // "refunded", "rejected", "gateway_error"
	)

	EnrollmentDiscrepancies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursemarket_enrollment_discrepancies_total",
			Help: "Roster updates that failed after a confirmed money-state change",
		},
		[]string{"action"}, // "grant", "revoke"
	)

	GatewayRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursemarket_gateway_request_duration_seconds",
			Help:    "Payment gateway call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	// 0 = closed, 1 = half-open, 2 = open
	GatewayBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coursemarket_gateway_breaker_state",
			Help: "Payment gateway circuit breaker state",
		},
		[]string{"name"},
	)

	GatewayBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursemarket_gateway_breaker_transitions_total",
			Help: "Payment gateway circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)
