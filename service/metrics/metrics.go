package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Pipeline metrics
	messagesFetchedTotal *prometheus.CounterVec
	outcomesTotal        *prometheus.CounterVec
	runDuration          *prometheus.HistogramVec
	runsTotal            *prometheus.CounterVec

	// Price source metrics
	priceLookupsTotal   *prometheus.CounterVec
	priceLookupDuration *prometheus.HistogramVec

	// Ledger metrics
	ledgerWritesTotal *prometheus.CounterVec
	dbQueryDuration   *prometheus.HistogramVec

	// Workflow metrics
	activityDuration *prometheus.HistogramVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// Ingest metrics
	smtpMessagesTotal *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec

	// Alert metrics
	alertsSentTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		messagesFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "myfinance_messages_fetched_total",
				Help: "Total number of candidate messages returned by source queries",
			},
			[]string{"source"},
		),
		outcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "myfinance_message_outcomes_total",
				Help: "Total number of processed messages by source and terminal outcome",
			},
			[]string{"source", "outcome"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "myfinance_run_duration_seconds",
				Help:    "Duration of reconciliation runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "myfinance_runs_total",
				Help: "Total number of reconciliation runs by status",
			},
			[]string{"status"},
		),

		priceLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "myfinance_price_lookups_total",
				Help: "Total number of price lookups by result and extraction strategy",
			},
			[]string{"result", "strategy"},
		),
		priceLookupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "myfinance_price_lookup_duration_seconds",
				Help:    "Duration of price page fetches in seconds, excluding rate limiter waits",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"result"},
		),

		ledgerWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "myfinance_ledger_writes_total",
				Help: "Total number of ledger append attempts by table and result",
			},
			[]string{"table", "result"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "myfinance_db_query_duration_seconds",
				Help:    "Duration of ledger queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"operation"},
		),

		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "myfinance_activity_duration_seconds",
				Help:    "Duration of Temporal activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"activity", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		smtpMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "myfinance_smtp_messages_total",
				Help: "Total number of mails received by the ingest listener by status",
			},
			[]string{"status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS",
			},
			[]string{"subject_prefix", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"subject_prefix"},
		),

		alertsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "myfinance_alerts_sent_total",
				Help: "Total number of operator alerts by channel and status",
			},
			[]string{"channel", "status"},
		),
	}
}

// Pipeline metric helpers

// RecordMessagesFetched records candidate messages returned for a source.
func (m *Metrics) RecordMessagesFetched(source string, count int) {
	if m == nil {
		return
	}
	m.messagesFetchedTotal.WithLabelValues(source).Add(float64(count))
}

// RecordOutcome records the terminal outcome of one message.
func (m *Metrics) RecordOutcome(source, outcome string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(source, outcome).Inc()
}

// RecordRun records a finished reconciliation run.
func (m *Metrics) RecordRun(status string, duration float64) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(status).Observe(duration)
	m.runsTotal.WithLabelValues(status).Inc()
}

// Price source metric helpers

// RecordPriceLookup records a price page fetch and how its value was found.
func (m *Metrics) RecordPriceLookup(result, strategy string, duration float64) {
	if m == nil {
		return
	}
	m.priceLookupsTotal.WithLabelValues(result, strategy).Inc()
	m.priceLookupDuration.WithLabelValues(result).Observe(duration)
}

// Ledger metric helpers

// RecordLedgerWrite records an append attempt; result is written, duplicate or error.
func (m *Metrics) RecordLedgerWrite(table, result string) {
	if m == nil {
		return
	}
	m.ledgerWritesTotal.WithLabelValues(table, result).Inc()
}

// RecordDBQuery records ledger query duration.
func (m *Metrics) RecordDBQuery(operation string, duration float64) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, status string, duration float64) {
	if m == nil {
		return
	}
	m.activityDuration.WithLabelValues(activity, status).Observe(duration)
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSMTPMessage records a mail received by the ingest listener.
func (m *Metrics) RecordSMTPMessage(status string) {
	if m == nil {
		return
	}
	m.smtpMessagesTotal.WithLabelValues(status).Inc()
}

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subjectPrefix, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subjectPrefix, status).Inc()
	m.natsPublishDuration.WithLabelValues(subjectPrefix).Observe(duration)
}

// RecordAlert records an operator alert delivery attempt.
func (m *Metrics) RecordAlert(channel, status string) {
	if m == nil {
		return
	}
	m.alertsSentTotal.WithLabelValues(channel, status).Inc()
}
