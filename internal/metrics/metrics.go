package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for call lifecycle and push delivery health.
var (
	CallsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "calls_created_total",
			Help: "Total number of service calls created",
		},
	)

	CallsAcknowledgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "calls_acknowledged_total",
			Help: "Total number of service calls acknowledged by a waiter",
		},
	)

	CallsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "calls_completed_total",
			Help: "Total number of service calls completed",
		},
	)

	CallsMissedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "calls_missed_total",
			Help: "Total number of service calls swept to missed",
		},
	)

	PushAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_attempts_total",
			Help: "Total number of push delivery attempts",
		},
	)

	PushDeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_delivered_total",
			Help: "Total number of push deliveries accepted by the endpoint",
		},
	)

	PushFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_failed_total",
			Help: "Total number of failed push delivery attempts",
		},
	)

	PushSubscriptionsRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_subscriptions_removed_total",
			Help: "Total number of subscriptions removed after the endpoint reported gone",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served",
		},
	)

	HTTPRequestErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "Total number of HTTP requests answered with status >= 400",
		},
	)

	HTTPRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		CallsCreatedTotal,
		CallsAcknowledgedTotal,
		CallsCompletedTotal,
		CallsMissedTotal,
		PushAttemptsTotal,
		PushDeliveredTotal,
		PushFailedTotal,
		PushSubscriptionsRemovedTotal,
		HTTPRequestsTotal,
		HTTPRequestErrorsTotal,
		HTTPRequestDuration,
	)
}
