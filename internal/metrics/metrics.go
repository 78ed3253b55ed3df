package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beliefcoach",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "beliefcoach",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	ProviderCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "beliefcoach",
		Subsystem: "billing",
		Name:      "provider_call_duration_seconds",
		Help:      "Billing provider call latency by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// AccessVerdictsTotal counts access decisions by grant path and deny reason.
	AccessVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beliefcoach",
		Subsystem: "access",
		Name:      "verdicts_total",
		Help:      "Access gate verdicts by grant path and reason.",
	}, []string{"via", "reason"})

	TrialsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beliefcoach",
		Subsystem: "access",
		Name:      "trials_started_total",
		Help:      "Trials started by identity kind.",
	}, []string{"kind"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beliefcoach",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by a rate limit or quota.",
	}, []string{"scope"})
)

func ObserveProviderCall(operation string, start time.Time) {
	ProviderCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
