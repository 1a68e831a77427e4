package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts payment webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total payment webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks payment webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tiergate",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Payment webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// CheckoutTotal counts checkout initiations by outcome.
	CheckoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "billing",
		Name:      "checkout_total",
		Help:      "Total checkout session initiations by outcome.",
	}, []string{"outcome"})

	// AccountsByTier tracks the number of accounts on each stored tier.
	AccountsByTier = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Subsystem: "billing",
		Name:      "accounts_by_tier",
		Help:      "Number of accounts by stored tier.",
	}, []string{"tier"})

	// LicensesIssuedTotal counts license tokens minted by tier.
	LicensesIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "billing",
		Name:      "licenses_issued_total",
		Help:      "Total license tokens issued by tier.",
	}, []string{"tier"})

	// ExpirySweepDowngrades counts accounts downgraded by the expiry sweeper.
	ExpirySweepDowngrades = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "billing",
		Name:      "expiry_sweep_downgrades_total",
		Help:      "Total accounts downgraded to free by the expiry sweeper.",
	})
)
