package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// All Record methods are no-ops on a nil *Metrics.
type Metrics struct {
	// SMS pipeline metrics
	smsMessagesTotal     *prometheus.CounterVec
	smsParseTotal        *prometheus.CounterVec
	smsDuplicatesTotal   *prometheus.CounterVec
	fraudAssessments     *prometheus.CounterVec
	fraudScore           *prometheus.HistogramVec
	transactionsWritten  *prometheus.CounterVec
	transactionAmountKES *prometheus.HistogramVec

	// Trust score metrics
	trustScoresComputed *prometheus.CounterVec
	trustScore          *prometheus.HistogramVec

	// Workflow metrics
	workflowDuration        *prometheus.HistogramVec
	workflowExecutionsTotal *prometheus.CounterVec
	activityDuration        *prometheus.HistogramVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		smsMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_messages_total",
				Help: "Total number of SMS messages ingested by outcome",
			},
			[]string{"outcome"},
		),
		smsParseTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_parse_total",
				Help: "Total number of SMS parse attempts by result and direction",
			},
			[]string{"status", "direction"},
		),
		smsDuplicatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_duplicates_total",
				Help: "Total number of SMS messages suppressed as duplicates",
			},
			[]string{"reason"},
		),
		fraudAssessments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraud_assessments_total",
				Help: "Total number of fraud assessments by risk level",
			},
			[]string{"risk_level"},
		),
		fraudScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fraud_score",
				Help:    "Distribution of clamped fraud scores",
				Buckets: []float64{0.1, 0.2, 0.4, 0.6, 0.8, 1.0},
			},
			[]string{"trusted_sender"},
		),
		transactionsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_written_total",
				Help: "Total number of ledger transactions written",
			},
			[]string{"direction"},
		),
		transactionAmountKES: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_amount_kes",
				Help:    "Distribution of ledger transaction amounts in KES",
				Buckets: []float64{10, 100, 500, 1000, 5000, 10000, 50000, 150000},
			},
			[]string{"direction"},
		),

		trustScoresComputed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trust_scores_computed_total",
				Help: "Total number of trust score computations by rating",
			},
			[]string{"rating"},
		),
		trustScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trust_score",
				Help:    "Distribution of computed trust scores",
				Buckets: []float64{350, 400, 450, 500, 550, 600, 650, 700, 750, 800, 850},
			},
			[]string{"source"},
		),

		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_duration_seconds",
				Help:    "Duration of workflow execution in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"workflow", "status"},
		),
		workflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_executions_total",
				Help: "Total number of workflow executions",
			},
			[]string{"workflow", "status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "activity_duration_seconds",
				Help:    "Duration of workflow activities in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"activity", "status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
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
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"stream"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"stream", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"kind", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"kind"},
		),
	}
}

// SMS pipeline metric helpers

// RecordSMSOutcome records the final outcome of one ingested message.
func (m *Metrics) RecordSMSOutcome(outcome string) {
	if m == nil {
		return
	}
	m.smsMessagesTotal.WithLabelValues(outcome).Inc()
}

// RecordSMSParsed records a parse attempt. Status is "parsed" or "no_amount".
func (m *Metrics) RecordSMSParsed(status, direction string) {
	if m == nil {
		return
	}
	m.smsParseTotal.WithLabelValues(status, direction).Inc()
}

// RecordSMSDuplicate records a message suppressed by the dedup guard or a
// duplicate confirmation code.
func (m *Metrics) RecordSMSDuplicate(reason string) {
	if m == nil {
		return
	}
	m.smsDuplicatesTotal.WithLabelValues(reason).Inc()
}

// RecordFraudAssessment records one scored message.
func (m *Metrics) RecordFraudAssessment(riskLevel string, score float64, trustedSender bool) {
	if m == nil {
		return
	}
	trusted := "false"
	if trustedSender {
		trusted = "true"
	}
	m.fraudAssessments.WithLabelValues(riskLevel).Inc()
	m.fraudScore.WithLabelValues(trusted).Observe(score)
}

// RecordTransactionWritten records a ledger write.
func (m *Metrics) RecordTransactionWritten(direction string, amount float64) {
	if m == nil {
		return
	}
	m.transactionsWritten.WithLabelValues(direction).Inc()
	m.transactionAmountKES.WithLabelValues(direction).Observe(amount)
}

// Trust score metric helpers

// RecordTrustScore records a computed trust score. Source is "api" or "workflow".
func (m *Metrics) RecordTrustScore(source, rating string, score int) {
	if m == nil {
		return
	}
	m.trustScoresComputed.WithLabelValues(rating).Inc()
	m.trustScore.WithLabelValues(source).Observe(float64(score))
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(workflow, status string, duration float64) {
	if m == nil {
		return
	}
	m.workflowDuration.WithLabelValues(workflow, status).Observe(duration)
	m.workflowExecutionsTotal.WithLabelValues(workflow, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64, err error) {
	if m == nil {
		return
	}
	m.activityDuration.WithLabelValues(activity, errorStatus(err)).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, errorStatus(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(stream string, delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.WithLabelValues(stream).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(stream, eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(stream, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation. Kind is the event kind
// (txns, alerts, trust), not the per-user subject.
func (m *Metrics) RecordNATSPublish(kind, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(kind, status).Inc()
	m.natsPublishDuration.WithLabelValues(kind).Observe(duration)
}

// Helper functions

func errorStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
