// Package metrics defines the Prometheus instruments for both binaries.
// The API serves its registry on /metrics; the worker pushes its registry
// to a pushgateway after each task.
package metrics

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// API holds the instruments recorded on the HTTP serving path.
type API struct {
	Registry *prometheus.Registry

	alertsReceived        *prometheus.CounterVec
	webhookRequests       *prometheus.CounterVec
	webhookDBWriteLatency *prometheus.HistogramVec
	requestLatency        *prometheus.HistogramVec
	timeToContain         *prometheus.HistogramVec
}

// NewAPI builds the API instrument set on a fresh registry.
func NewAPI() *API {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &API{
		Registry: reg,
		alertsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_received_total",
			Help: "Alerts accepted at the webhook endpoints",
		}, []string{"source"}),
		webhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Webhook requests by source",
		}, []string{"source"}),
		webhookDBWriteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "webhook_db_write_latency_seconds",
			Help: "Latency of the alert insert at ingestion",
		}, []string{"source"}),
		requestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "api_request_latency_seconds",
			Help: "API request latency by route template",
		}, []string{"route", "method", "status"}),
		timeToContain: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "time_to_contain_seconds",
			Help:    "Case open-to-close duration",
			Buckets: prometheus.ExponentialBuckets(1, 4, 12),
		}, []string{"type", "severity"}),
	}
}

func (m *API) RecordAlertReceived(source string) {
	m.alertsReceived.WithLabelValues(source).Inc()
}

func (m *API) RecordWebhookRequest(source string) {
	m.webhookRequests.WithLabelValues(source).Inc()
}

func (m *API) ObserveWebhookDBWrite(source string, d time.Duration) {
	m.webhookDBWriteLatency.WithLabelValues(source).Observe(d.Seconds())
}

func (m *API) ObserveRequest(route, method string, status int, d time.Duration) {
	m.requestLatency.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Observe(d.Seconds())
}

func (m *API) ObserveTimeToContain(caseType, severity string, d time.Duration) {
	m.timeToContain.WithLabelValues(caseType, severity).Observe(d.Seconds())
}

// Worker holds the instruments recorded inside task handlers. Push sends
// the registry to the configured pushgateway; an empty URL disables it.
type Worker struct {
	Registry *prometheus.Registry

	casesCreated      *prometheus.CounterVec
	playbookRuns      *prometheus.CounterVec
	actionRuns        *prometheus.CounterVec
	enrichmentLatency *prometheus.HistogramVec

	pusher *push.Pusher
	logger *slog.Logger
}

// NewWorker builds the worker instrument set. pushgatewayURL may be empty.
func NewWorker(pushgatewayURL string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	w := &Worker{
		Registry: reg,
		casesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cases_created_total",
			Help: "Cases created by the correlator",
		}, []string{"type"}),
		playbookRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playbook_runs_total",
			Help: "Playbook executions by outcome",
		}, []string{"playbook", "outcome"}),
		actionRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "action_runs_total",
			Help: "Response action executions",
		}, []string{"action_type", "success"}),
		enrichmentLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "enrichment_latency_seconds",
			Help: "Enrichment latency per enricher",
		}, []string{"enricher"}),
		logger: logger,
	}
	if pushgatewayURL != "" {
		w.pusher = push.New(pushgatewayURL, "soar-worker").Gatherer(reg)
	}
	return w
}

func (m *Worker) RecordCaseCreated(caseType string) {
	m.casesCreated.WithLabelValues(caseType).Inc()
}

func (m *Worker) RecordPlaybookRun(playbook, outcome string) {
	m.playbookRuns.WithLabelValues(playbook, outcome).Inc()
}

func (m *Worker) RecordActionRun(actionType string, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	m.actionRuns.WithLabelValues(actionType, label).Inc()
}

func (m *Worker) ObserveEnrichment(enricher string, d time.Duration) {
	m.enrichmentLatency.WithLabelValues(enricher).Observe(d.Seconds())
}

// Push uploads the registry. Failures are logged, never propagated; losing
// a push must not fail a task.
func (m *Worker) Push() {
	if m.pusher == nil {
		return
	}
	if err := m.pusher.Push(); err != nil {
		m.logger.Debug("pushgateway push failed", "error", err)
	}
}
