// Package metrics exposes Prometheus collectors for the HTTP layer, record
// changes and reminder delivery. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ipredict"

// Metrics owns its own registry so tests and multiple servers do not
// collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	recordChanges   *prometheus.CounterVec
	remindersSent   *prometheus.CounterVec
	reminderErrors  *prometheus.CounterVec
	daysRemaining   *prometheus.GaugeVec
	themeChanges    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		recordChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_changes_total",
				Help:      "Records added, deleted or restored",
			},
			[]string{"op"},
		),
		remindersSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_sent_total",
				Help:      "Reminders delivered",
			},
			[]string{"kind"},
		),
		reminderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminder_errors_total",
				Help:      "Reminder deliveries that failed",
			},
			[]string{"notifier"},
		),
		daysRemaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "days_remaining",
				Help:      "Signed days until the predicted next occurrence",
			},
			[]string{"category"},
		),
		themeChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "theme_changes_total",
				Help:      "Theme selections by preset",
			},
			[]string{"preset"},
		),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestDuration,
		m.requestTotal,
		m.recordChanges,
		m.remindersSent,
		m.reminderErrors,
		m.daysRemaining,
		m.themeChanges,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
	m.requestTotal.WithLabelValues(method, route, code).Inc()
}

// RecordChanged counts a record operation: "add", "delete", "restore" or "import".
func (m *Metrics) RecordChanged(op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordChanges.WithLabelValues(op).Add(float64(n))
}

// ReminderSent counts a delivered reminder.
func (m *Metrics) ReminderSent(kind string) {
	if m == nil {
		return
	}
	m.remindersSent.WithLabelValues(kind).Inc()
}

// ReminderFailed counts a failed delivery by notifier name.
func (m *Metrics) ReminderFailed(notifier string) {
	if m == nil {
		return
	}
	m.reminderErrors.WithLabelValues(notifier).Inc()
}

// SetDaysRemaining publishes the countdown of a category.
func (m *Metrics) SetDaysRemaining(category string, days int) {
	if m == nil {
		return
	}
	m.daysRemaining.WithLabelValues(category).Set(float64(days))
}

// ThemeChanged counts a theme selection.
func (m *Metrics) ThemeChanged(preset string) {
	if m == nil {
		return
	}
	m.themeChanges.WithLabelValues(preset).Inc()
}
