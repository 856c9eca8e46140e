// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Intake metrics
	PaymentsProcessed *prometheus.CounterVec

	// Distribution metrics
	DistributionPages prometheus.Counter
	Payouts           *prometheus.CounterVec
	Claims            *prometheus.CounterVec

	// Liquidity metrics
	Trades *prometheus.CounterVec

	// Governance metrics
	VotesCast        prometheus.Counter
	ProposalOutcomes *prometheus.CounterVec

	// Oracle metrics
	OracleQuotes     *prometheus.CounterVec
	WSMessageLatency prometheus.Histogram

	// Event log metrics
	EventsEmitted *prometheus.CounterVec
	SinkErrors    *prometheus.CounterVec

	// Latency metrics
	OperationLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastEventTimestamp prometheus.Gauge
	UptimeSeconds      prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "fractional_ledger"
	}

	return &Metrics{
		// Intake metrics
		PaymentsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "payments_processed_total",
			Help:      "Total number of incoming payments by currency and status",
		}, []string{"currency", "status"}),

		// Distribution metrics
		DistributionPages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "pages_total",
			Help:      "Total number of distribution pages recorded",
		}),
		Payouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "payouts_total",
			Help:      "Total number of holder payouts by status",
		}, []string{"status"}),
		Claims: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "claims_total",
			Help:      "Total number of unclaimed-yield claim attempts by status",
		}, []string{"status"}),

		// Liquidity metrics
		Trades: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "trades_total",
			Help:      "Total number of pool trades by side and status",
		}, []string{"side", "status"}),

		// Governance metrics
		VotesCast: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "votes_cast_total",
			Help:      "Total number of votes cast",
		}),
		ProposalOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "proposal_transitions_total",
			Help:      "Total number of proposal state transitions by target state",
		}, []string{"state"}),

		// Oracle metrics
		OracleQuotes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "quotes_total",
			Help:      "Total number of price resolutions by result",
		}, []string{"result"}),
		WSMessageLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "ws_message_latency_seconds",
			Help:      "WebSocket message processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Event log metrics
		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventlog",
			Name:      "events_total",
			Help:      "Total number of ledger events emitted by kind",
		}, []string{"kind"}),
		SinkErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventlog",
			Name:      "sink_errors_total",
			Help:      "Total number of event sink failures by sink",
		}, []string{"sink"}),

		// Latency metrics
		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_latency_seconds",
			Help:      "Engine operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastEventTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_event_timestamp",
			Help:      "Unix timestamp of the last emitted ledger event",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// Status values shared by the Record* helpers.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

func status(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusOK
}

// RecordPayment records an incoming payment outcome.
func RecordPayment(currency string, err error) {
	DefaultMetrics.PaymentsProcessed.WithLabelValues(currency, status(err)).Inc()
}

// RecordDistributionPage records one recorded distribution page.
func RecordDistributionPage() {
	DefaultMetrics.DistributionPages.Inc()
}

// RecordPayout records a holder payout attempt.
func RecordPayout(err error) {
	DefaultMetrics.Payouts.WithLabelValues(status(err)).Inc()
}

// RecordClaim records an unclaimed-yield claim attempt.
func RecordClaim(err error) {
	DefaultMetrics.Claims.WithLabelValues(status(err)).Inc()
}

// RecordTrade records a pool trade.
func RecordTrade(side string, err error) {
	DefaultMetrics.Trades.WithLabelValues(side, status(err)).Inc()
}

// RecordVote increments the votes cast counter.
func RecordVote() {
	DefaultMetrics.VotesCast.Inc()
}

// RecordProposalTransition records a proposal entering state.
func RecordProposalTransition(state string) {
	DefaultMetrics.ProposalOutcomes.WithLabelValues(state).Inc()
}

// RecordOracleQuote records a price resolution result (hit, miss, stale, invalid).
func RecordOracleQuote(result string) {
	DefaultMetrics.OracleQuotes.WithLabelValues(result).Inc()
}

// RecordWSMessageLatency records oracle websocket message handling latency.
func RecordWSMessageLatency(seconds float64) {
	DefaultMetrics.WSMessageLatency.Observe(seconds)
}

// RecordEvent records an emitted ledger event.
func RecordEvent(kind string, unixMs int64) {
	DefaultMetrics.EventsEmitted.WithLabelValues(kind).Inc()
	DefaultMetrics.LastEventTimestamp.Set(float64(unixMs) / 1000)
}

// RecordSinkError records an event sink failure.
func RecordSinkError(sink string) {
	DefaultMetrics.SinkErrors.WithLabelValues(sink).Inc()
}

// RecordOperation records engine operation latency.
func RecordOperation(operation string, seconds float64, err error) {
	DefaultMetrics.OperationLatency.WithLabelValues(operation, status(err)).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordUptime adds seconds to the uptime counter.
func RecordUptime(seconds float64) {
	DefaultMetrics.UptimeSeconds.Add(seconds)
}
