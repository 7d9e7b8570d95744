package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCounters(t *testing.T) {
	m := New()
	m.RecordChanged("add", 1)
	m.RecordChanged("import", 3)
	m.RecordChanged("import", 0)
	m.ReminderSent("day_of")
	m.ReminderFailed("webhook")
	m.SetDaysRemaining("Default", -2)
	m.ThemeChanged("blueOcean")

	body := scrape(t, m)
	for _, line := range []string{
		`ipredict_record_changes_total{op="add"} 1`,
		`ipredict_record_changes_total{op="import"} 3`,
		`ipredict_reminders_sent_total{kind="day_of"} 1`,
		`ipredict_reminder_errors_total{notifier="webhook"} 1`,
		`ipredict_days_remaining{category="Default"} -2`,
		`ipredict_theme_changes_total{preset="blueOcean"} 1`,
	} {
		assert.Contains(t, body, line)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/api/prediction", http.StatusOK, 15*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `ipredict_http_requests_total{method="GET",route="/api/prediction",status="200"} 1`)
	assert.Contains(t, body, "ipredict_http_request_duration_seconds_bucket")
	assert.Contains(t, body, "go_goroutines")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", "/", 200, time.Second)
		m.RecordChanged("add", 1)
		m.ReminderSent("day_of")
		m.ReminderFailed("log")
		m.SetDaysRemaining("x", 1)
		m.ThemeChanged("default")
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
