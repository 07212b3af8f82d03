package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Upstream (GitHub, Stripe, weather, gateway, VPS) metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge
	LoginsTotal    *prometheus.CounterVec

	// Activity and webhook metrics
	ActivityEntriesTotal *prometheus.CounterVec
	WebhookEventsTotal   *prometheus.CounterVec

	// Backup and scheduler metrics
	BackupsTotal       *prometheus.CounterVec
	BackupSizeBytes    prometheus.Gauge
	BackupLastSuccess  prometheus.Gauge
	SchedulerRunsTotal *prometheus.CounterVec

	// Telegram metrics
	TelegramMessagesSentTotal prometheus.Counter
	TelegramErrorsTotal       prometheus.Counter
}

// NewMetrics creates and registers all metrics on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mc_http_requests_total",
				Help: "Total HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mc_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mc_upstream_requests_total",
				Help: "Total calls to external collaborators by upstream and outcome",
			},
			[]string{"upstream", "outcome"},
		),
		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mc_upstream_request_duration_seconds",
				Help:    "Duration of calls to external collaborators in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"upstream"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mc_sessions_active",
				Help: "Number of currently active sessions",
			},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mc_logins_total",
				Help: "Total login attempts by result",
			},
			[]string{"result"},
		),

		ActivityEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mc_activity_entries_total",
				Help: "Total activity entries appended by scope",
			},
			[]string{"scope"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mc_webhook_events_total",
				Help: "Total webhook deliveries by source and status",
			},
			[]string{"source", "status"},
		),

		BackupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mc_backups_total",
				Help: "Total backup runs by status",
			},
			[]string{"status"},
		),
		BackupSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mc_backup_size_bytes",
				Help: "Size of the most recent backup file",
			},
		),
		BackupLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mc_backup_last_success_timestamp_seconds",
				Help: "Unix time of the most recent successful backup",
			},
		),
		SchedulerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mc_scheduler_runs_total",
				Help: "Total scheduled job runs by job and status",
			},
			[]string{"job", "status"},
		),

		TelegramMessagesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mc_telegram_messages_sent_total",
				Help: "Total number of Telegram messages sent",
			},
		),
		TelegramErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mc_telegram_errors_total",
				Help: "Total number of Telegram send errors",
			},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.SessionsActive,
		m.LoginsTotal,
		m.ActivityEntriesTotal,
		m.WebhookEventsTotal,
		m.BackupsTotal,
		m.BackupSizeBytes,
		m.BackupLastSuccess,
		m.SchedulerRunsTotal,
		m.TelegramMessagesSentTotal,
		m.TelegramErrorsTotal,
	)
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveUpstream records one call to an external collaborator
func (m *Metrics) ObserveUpstream(upstream string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.UpstreamRequestsTotal.WithLabelValues(upstream, outcome).Inc()
	m.UpstreamRequestDuration.WithLabelValues(upstream).Observe(time.Since(start).Seconds())
}

// SetActiveSessions updates the active session gauge
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// RecordLogin counts a login attempt
func (m *Metrics) RecordLogin(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.LoginsTotal.WithLabelValues(result).Inc()
}

// RecordActivity counts an appended activity entry
func (m *Metrics) RecordActivity(scope string) {
	if m == nil {
		return
	}
	m.ActivityEntriesTotal.WithLabelValues(scope).Inc()
}

// RecordWebhook counts a webhook delivery
func (m *Metrics) RecordWebhook(source, status string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(source, status).Inc()
}

// RecordBackup counts a backup run and tracks the last successful one
func (m *Metrics) RecordBackup(size int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.BackupsTotal.WithLabelValues("error").Inc()
		return
	}
	m.BackupsTotal.WithLabelValues("ok").Inc()
	m.BackupSizeBytes.Set(float64(size))
	m.BackupLastSuccess.SetToCurrentTime()
}

// RecordSchedulerRun counts a scheduled job run
func (m *Metrics) RecordSchedulerRun(job, status string) {
	if m == nil {
		return
	}
	m.SchedulerRunsTotal.WithLabelValues(job, status).Inc()
}

// RecordTelegram counts a Telegram send attempt
func (m *Metrics) RecordTelegram(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.TelegramErrorsTotal.Inc()
		return
	}
	m.TelegramMessagesSentTotal.Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
