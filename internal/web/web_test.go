package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlkla/iPredict/internal/config"
	"github.com/wlkla/iPredict/internal/metrics"
	"github.com/wlkla/iPredict/internal/model"
	"github.com/wlkla/iPredict/internal/predict"
	"github.com/wlkla/iPredict/internal/store"
	"github.com/wlkla/iPredict/internal/theme"
)

type testServer struct {
	*Server
	store *store.Store
	h     http.Handler
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "web.db"), time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	themes, err := theme.NewStore(st)
	require.NoError(t, err)

	s := NewServer(Deps{Config: cfg, Store: st, Themes: themes, Metrics: metrics.New()})
	return &testServer{Server: s, store: st, h: s.Handler()}
}

func (ts *testServer) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seedDaysAgo(t *testing.T, days ...int) {
	t.Helper()
	cat, err := ts.store.ActiveCategory()
	require.NoError(t, err)
	today := ts.store.Today()
	for _, d := range days {
		_, err := ts.store.AddRecord(cat.ID, today.AddDate(0, 0, -d))
		require.NoError(t, err)
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthBypassesBasicAuth(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/prediction", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/prediction", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddRecordRejectsSameDay(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/records", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[recordDTO](t, rec)
	assert.Equal(t, ts.store.Today().Format(model.DateLayout), added.Date)
	assert.Nil(t, added.IntervalDays)

	rec = ts.do(t, http.MethodPost, "/api/records", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/records", strings.NewReader(`{"date":"not-a-day"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictionDueToday(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedDaysAgo(t, 20, 10)

	rec := ts.do(t, http.MethodGet, "/api/prediction", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[predictionResponse](t, rec)
	assert.Equal(t, predict.StatusReady, resp.Snapshot.Status)
	assert.Equal(t, 10, resp.Snapshot.AverageIntervalDays)
	assert.Equal(t, 0, resp.Snapshot.DaysRemaining)
	assert.Equal(t, predict.PhaseDueToday, resp.Snapshot.Phase)
	assert.False(t, resp.Snapshot.Overdue)
}

func TestPredictionWithoutRecords(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/prediction", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[predictionResponse](t, rec)
	assert.Equal(t, predict.StatusNoData, resp.Snapshot.Status)
	assert.Nil(t, resp.DaysLeft)

	body := rec.Body.String()
	for _, field := range []string{"days_left", "days_remaining", "average_interval_days", "predicted_next_date", "phase"} {
		assert.NotContains(t, body, `"`+field+`"`)
	}

	rec = ts.do(t, http.MethodGet, "/api/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "average_interval_days")
}

func TestDeleteAndRestoreRecord(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedDaysAgo(t, 30, 20, 5)

	list := decode[recordsResponse](t, ts.do(t, http.MethodGet, "/api/records", nil))
	require.Len(t, list.Records, 3)
	middle := list.Records[1]

	rec := ts.do(t, http.MethodDelete, "/api/records/"+middle.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	removed := decode[recordDTO](t, rec)
	assert.Equal(t, middle.Date, removed.Date)

	list = decode[recordsResponse](t, ts.do(t, http.MethodGet, "/api/records", nil))
	require.Len(t, list.Records, 2)
	require.NotNil(t, list.Records[0].IntervalDays)
	assert.Equal(t, 25, *list.Records[0].IntervalDays)

	body, _ := json.Marshal(restoreRequest{ID: removed.ID, Date: removed.Date})
	rec = ts.do(t, http.MethodPost, "/api/records/restore", bytes.NewReader(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	list = decode[recordsResponse](t, ts.do(t, http.MethodGet, "/api/records", nil))
	require.Len(t, list.Records, 3)
	assert.Equal(t, middle.ID, list.Records[1].ID)
	assert.Equal(t, 15, *list.Records[0].IntervalDays)

	again, _ := json.Marshal(restoreRequest{ID: removed.ID, Date: ts.store.Today().AddDate(0, 0, -1).Format(model.DateLayout)})
	rec = ts.do(t, http.MethodPost, "/api/records/restore", bytes.NewReader(again))
	assert.Equal(t, http.StatusConflict, rec.Code)
	list = decode[recordsResponse](t, ts.do(t, http.MethodGet, "/api/records", nil))
	assert.Len(t, list.Records, 3)

	rec = ts.do(t, http.MethodDelete, "/api/records/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictionCacheInvalidatedOnWrite(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedDaysAgo(t, 40, 20)

	first := decode[predictionResponse](t, ts.do(t, http.MethodGet, "/api/prediction", nil))
	assert.Equal(t, 20, first.Snapshot.AverageIntervalDays)

	rec := ts.do(t, http.MethodPost, "/api/records", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	second := decode[predictionResponse](t, ts.do(t, http.MethodGet, "/api/prediction", nil))
	assert.Equal(t, 20, second.Snapshot.AverageIntervalDays)
	assert.Equal(t, 3, second.Snapshot.RecordCount)
}

func TestCategories(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/categories", strings.NewReader(`{"name":"Haircut","color":"#FF5252"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.Category](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/categories", strings.NewReader(`{"name":"Haircut"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/categories", strings.NewReader(`{"name":"X","color":"red"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/categories/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	active, err := ts.store.ActiveCategory()
	require.NoError(t, err)
	assert.Equal(t, created.ID, active.ID)

	rec = ts.do(t, http.MethodPost, "/api/records?category=Haircut", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/categories/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/categories/"+active.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cats, err := ts.store.Categories()
	require.NoError(t, err)
	require.Len(t, cats, 1)
	rec = ts.do(t, http.MethodDelete, "/api/categories/"+cats[0].ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAnalytics(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedDaysAgo(t, 30, 20, 10, 5)

	rec := ts.do(t, http.MethodGet, "/api/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[analyticsResponse](t, rec)

	require.Len(t, resp.Line, 3)
	assert.Equal(t, []int{10, 10, 5}, []int{resp.Line[0].IntervalDays, resp.Line[1].IntervalDays, resp.Line[2].IntervalDays})
	assert.Equal(t, ts.store.Today().AddDate(0, 0, -5).Format(model.DateLayout), resp.Line[2].Date)

	require.Len(t, resp.Histogram, 2)
	assert.Equal(t, predict.Bucket{IntervalDays: 5, Count: 1}, resp.Histogram[0])
	assert.Equal(t, predict.Bucket{IntervalDays: 10, Count: 2}, resp.Histogram[1])
	require.Len(t, resp.Pie, 2)
	assert.InDelta(t, 2.0/3.0, resp.Pie[1].Share, 1e-9)
}

func TestExportImportCSV(t *testing.T) {
	src := newTestServer(t, nil)
	src.seedDaysAgo(t, 21, 14, 7)

	rec := src.do(t, http.MethodGet, "/api/export.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
	csvBody := rec.Body.String()
	assert.True(t, strings.HasPrefix(csvBody, "index,date,interval_days,category_id\n"))

	dst := newTestServer(t, nil)
	rec = dst.do(t, http.MethodPost, "/api/import", strings.NewReader(csvBody))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"imported":3`)

	rec = dst.do(t, http.MethodPost, "/api/import", strings.NewReader(csvBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicates":3`)
}

func TestExportEmpty(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/export.csv", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEncryptedExportImport(t *testing.T) {
	src := newTestServer(t, nil)
	src.seedDaysAgo(t, 10, 3)

	req := httptest.NewRequest(http.MethodGet, "/api/export.csv?all=1", nil)
	req.Header.Set(passphraseHeader, "hunter2")
	rec := httptest.NewRecorder()
	src.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	sealed := rec.Body.Bytes()
	assert.NotContains(t, string(sealed), "category_id")

	dst := newTestServer(t, nil)
	rec = dst.do(t, http.MethodPost, "/api/import?all=1", bytes.NewReader(sealed))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/import?all=1", bytes.NewReader(sealed))
	req.Header.Set(passphraseHeader, "hunter2")
	rec = httptest.NewRecorder()
	dst.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"imported":2`)

	future := append([]byte(nil), sealed...)
	future[4]++
	req = httptest.NewRequest(http.MethodPost, "/api/import?all=1", bytes.NewReader(future))
	req.Header.Set(passphraseHeader, "hunter2")
	rec = httptest.NewRecorder()
	dst.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalendarFeedAndICSImport(t *testing.T) {
	src := newTestServer(t, nil)
	src.seedDaysAgo(t, 20, 10)

	rec := src.do(t, http.MethodGet, "/calendar.ics?count=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	body := rec.Body.String()
	assert.Equal(t, 4, strings.Count(body, "BEGIN:VEVENT"))
	assert.Equal(t, 2, strings.Count(body, "BEGIN:VALARM"))

	dst := newTestServer(t, nil)
	rec = dst.do(t, http.MethodPost, "/api/import/ics", strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"imported":2`)

	rec = dst.do(t, http.MethodPost, "/api/import/ics", strings.NewReader(""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestICSImportSkipsFutureDays(t *testing.T) {
	ts := newTestServer(t, nil)
	today := ts.store.Today()
	ds := func(d int) string { return today.AddDate(0, 0, d).Format("20060102") }

	body := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:daily@test\r\nDTSTART;VALUE=DATE:" + ds(-5) + "\r\n" +
		"RRULE:FREQ=DAILY\r\nSUMMARY:daily\r\nEND:VEVENT\r\n" +
		"BEGIN:VEVENT\r\nUID:later@test\r\nDTSTART;VALUE=DATE:" + ds(3) + "\r\n" +
		"SUMMARY:later\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	rec := ts.do(t, http.MethodPost, "/api/import/ics", strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"imported":6`)

	resp := decode[predictionResponse](t, ts.do(t, http.MethodGet, "/api/prediction", nil))
	assert.Equal(t, 0, resp.Snapshot.DaysSinceLast)
	assert.Equal(t, 1, resp.Snapshot.AverageIntervalDays)
}

func TestTheme(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := decode[themeResponse](t, ts.do(t, http.MethodGet, "/api/theme", nil))
	assert.Equal(t, theme.DefaultPreset, resp.Preset)
	assert.Len(t, resp.Presets, len(theme.Presets))

	rec := ts.do(t, http.MethodPut, "/api/theme", strings.NewReader(`{"preset":"blueOcean"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "blueOcean", decode[themeResponse](t, rec).Preset)
	assert.Contains(t, ts.do(t, http.MethodGet, "/metrics", nil).Body.String(),
		`ipredict_theme_changes_total{preset="blueOcean"} 1`)

	custom := theme.Presets["greenMeadow"]
	custom.Countdown.Light.Colors[0] = "#123456"
	body, _ := json.Marshal(putThemeRequest{Custom: &custom})
	rec = ts.do(t, http.MethodPut, "/api/theme", bytes.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[themeResponse](t, rec)
	assert.Equal(t, theme.CustomPreset, got.Preset)
	assert.Equal(t, "#123456", got.Theme.Countdown.Light.Colors[0])

	custom.Date.Dark.Colors[1] = "blue"
	body, _ = json.Marshal(putThemeRequest{Custom: &custom})
	rec = ts.do(t, http.MethodPut, "/api/theme", bytes.NewReader(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/theme", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChartPage(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedDaysAgo(t, 30, 20, 12)

	rec := ts.do(t, http.MethodGet, "/chart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, "<polyline")
	assert.Contains(t, body, theme.Presets[theme.DefaultPreset].Analytics.Light.Colors[0])
	assert.Contains(t, body, "Average interval: 9 days")
}

func TestBuildChartViewEmpty(t *testing.T) {
	v := buildChartView(model.Category{Name: "X"}, theme.Presets[theme.DefaultPreset], predict.Snapshot{Status: predict.StatusNoData})
	assert.Equal(t, "No records yet", v.Headline)
	assert.Empty(t, v.LinePoints)
	assert.Empty(t, v.Bars)
}

func TestHeadline(t *testing.T) {
	tests := []struct {
		snap predict.Snapshot
		want string
	}{
		{predict.Snapshot{Status: predict.StatusReady, Countdown: predict.Countdown{DaysRemaining: 1, Phase: predict.PhaseUpcoming}}, "1 day left"},
		{predict.Snapshot{Status: predict.StatusReady, Countdown: predict.Countdown{DaysRemaining: 4, Phase: predict.PhaseUpcoming}}, "4 days left"},
		{predict.Snapshot{Status: predict.StatusReady, Countdown: predict.Countdown{Phase: predict.PhaseDueToday}}, "Expected today"},
		{predict.Snapshot{Status: predict.StatusReady, Countdown: predict.Countdown{DaysRemaining: -3, Overdue: true, Phase: predict.PhaseOverdue}}, "3 days overdue"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, headline(tt.snap))
	}
}

func TestRemindersDisabled(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/reminders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enabled":false`)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/health", nil)
	ts.do(t, http.MethodPost, "/api/records", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `ipredict_http_requests_total{method="GET",route="GET /health",status="200"} 1`)
	assert.Contains(t, body, `ipredict_record_changes_total{op="add"} 1`)
}
