// Package metrics exposes the Prometheus collectors shared by the web server,
// the CLI and the settlement worker.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "gateway",
	Name:      "requests_total",
	Help:      "Requests sent to the ledger API by collection, method and status code.",
}, []string{"collection", "method", "status"})

var GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "ledger",
	Subsystem: "gateway",
	Name:      "request_duration_seconds",
	Help:      "Latency of ledger API requests.",
	Buckets:   prometheus.DefBuckets,
}, []string{"collection", "method"})

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Requests served by the web front end.",
}, []string{"route", "method", "status"})

var WorkflowSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "reconcile",
	Name:      "submissions_total",
	Help:      "Debt workflow submissions by action and outcome.",
}, []string{"action", "outcome"})

var SettlementsPending = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "ledger",
	Subsystem: "settlement",
	Name:      "pending",
	Help:      "Settlements whose follow-up delete has not succeeded yet.",
})

var SettlementRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "settlement",
	Name:      "repairs_total",
	Help:      "Settlement repair attempts by outcome.",
}, []string{"outcome"})

var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "cache",
	Name:      "lookups_total",
	Help:      "Read cache lookups by result.",
}, []string{"result"})

// GatewayObserver records ledger API calls; it satisfies gateway.Observer.
type GatewayObserver struct{}

func (GatewayObserver) ObserveRequest(collection, method string, status int, elapsed time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	GatewayRequests.WithLabelValues(collection, method, code).Inc()
	GatewayLatency.WithLabelValues(collection, method).Observe(elapsed.Seconds())
}

// Outcome labels shared by the counters above.
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
	OutcomePending = "pending"
	OutcomeDone    = "done"
	OutcomeRetry   = "retry"
	OutcomeGaveUp  = "gave_up"
)
