package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the delivery-queue counters. Everything is registered on the
// given registerer so tests can use an isolated registry.
type Metrics struct {
	Enqueued  prometheus.Counter
	Sent      prometheus.Counter
	Failed    prometheus.Counter
	Retried   prometheus.Counter
	Cancelled prometheus.Counter
	Recovered prometheus.Counter

	CreditsDebited prometheus.Counter
	DebitFailures  prometheus.Counter

	BreakerTransitions *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Enqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_items_enqueued_total",
			Help: "Queue items accepted for delivery.",
		}),
		Sent: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_items_sent_total",
			Help: "Queue items confirmed sent by the gateway.",
		}),
		Failed: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_items_failed_total",
			Help: "Queue items that exhausted their attempts.",
		}),
		Retried: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_items_retried_total",
			Help: "Send attempts that were re-queued for retry.",
		}),
		Cancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_items_cancelled_total",
			Help: "Queue items cancelled before sending.",
		}),
		Recovered: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_items_recovered_total",
			Help: "Stuck processing items recovered by the worker.",
		}),
		CreditsDebited: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_credits_debited_total",
			Help: "Credits debited from account balances.",
		}),
		DebitFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_credit_debit_failures_total",
			Help: "Debits that failed after a confirmed send.",
		}),
		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_gateway_breaker_transitions_total",
			Help: "Circuit breaker state transitions for the gateway.",
		}, []string{"from", "to"}),
	}
}
