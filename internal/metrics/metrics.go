// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"method", "route"},
	)

	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_gateway_calls_total",
			Help: "Gateway charge lookups by outcome",
		},
		[]string{"outcome"},
	)

	GatewayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_gateway_call_duration_seconds",
			Help:    "Duration of a single gateway HTTP round trip",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_verifications_total",
			Help: "Payment verifications by entity type and result code",
		},
		[]string{"entity_type", "code", "replayed"},
	)

	GuardWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_guard_waits_total",
			Help: "Verifications that waited on a concurrent reservation",
		},
	)

	LedgerPostings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_ledger_postings_total",
			Help: "Wallet transactions written by type and status",
		},
		[]string{"type", "status"},
	)

	Withdrawals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_withdrawals_total",
			Help: "Withdrawal lifecycle actions",
		},
		[]string{"action"},
	)

	BalanceCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_balance_cache_total",
			Help: "Balance cache lookups by result",
		},
		[]string{"result"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_outbox_published_total",
			Help: "Outbox messages relayed to the broker",
		},
		[]string{"result"},
	)

	SweeperActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_sweeper_actions_total",
			Help: "Entities expired or escalated by the sweeper",
		},
		[]string{"action"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
