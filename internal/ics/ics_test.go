package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlkla/iPredict/internal/history"
	"github.com/wlkla/iPredict/internal/model"
	"github.com/wlkla/iPredict/internal/predict"
)

func day(s string) time.Time {
	t, err := time.ParseInLocation(model.DateLayout, s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func testSet(dates ...string) *history.Set {
	recs := make([]model.Record, 0, len(dates))
	for i, d := range dates {
		recs = append(recs, model.Record{ID: "r" + string(rune('a'+i)), Date: day(d)})
	}
	return history.New(recs)
}

func TestForecast(t *testing.T) {
	set := testSet("2024-01-01", "2024-01-11", "2024-01-21")
	snap := set.Snapshot(day("2024-01-25"), predict.Options{})
	require.Equal(t, 10, snap.AverageIntervalDays)

	days, err := Forecast(snap, 3)
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, day("2024-01-31"), days[0])
	assert.Equal(t, day("2024-02-10"), days[1])
	assert.Equal(t, day("2024-02-20"), days[2])
}

func TestForecastEmpty(t *testing.T) {
	days, err := Forecast(predict.Snapshot{Status: predict.StatusNoData}, 3)
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestExport(t *testing.T) {
	set := testSet("2024-01-01", "2024-01-31")
	snap := set.Snapshot(day("2024-02-05"), predict.Options{})
	cat := model.Category{ID: "cat1", Name: "Haircut"}

	var buf bytes.Buffer
	err := Export(&buf, cat, set, snap, ExportOptions{
		ForecastCount:   2,
		AlarmDaysBefore: 1,
		AlarmHour:       8,
		Now:             time.Date(2024, 2, 5, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "X-WR-CALNAME:iPredict: Haircut")
	assert.Equal(t, 4, strings.Count(out, "BEGIN:VEVENT"))
	assert.Equal(t, 2, strings.Count(out, "BEGIN:VALARM"))
	assert.Contains(t, out, "20240301", "first predicted day")
	assert.Contains(t, out, "20240331", "second predicted day")
	assert.Contains(t, out, "TRIGGER:-PT16H")
	assert.Contains(t, out, "30 days after the previous record")
}

func TestExportImportRoundTrip(t *testing.T) {
	set := testSet("2024-01-01", "2024-01-31", "2024-03-01")
	snap := set.Snapshot(day("2024-03-02"), predict.Options{})

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, model.Category{ID: "c", Name: "X"}, set, snap, ExportOptions{ForecastCount: 3}))

	days, err := ParseDays(buf.Bytes(), ImportOptions{Location: time.UTC, Until: day("2030-01-01")})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day("2024-01-01"), day("2024-01-31"), day("2024-03-01")}, days,
		"forecast events are skipped")

	withForecast, err := ParseDays(buf.Bytes(), ImportOptions{Location: time.UTC, Until: day("2030-01-01"), IncludeForecast: true})
	require.NoError(t, err)
	assert.Len(t, withForecast, 6)
}

func TestParseDaysExpandsRecurrence(t *testing.T) {
	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:weekly@test",
		"DTSTART;VALUE=DATE:20240101",
		"RRULE:FREQ=WEEKLY;COUNT=10",
		"EXDATE;VALUE=DATE:20240108",
		"SUMMARY:weekly",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:single@test",
		"DTSTART:20240103T220000Z",
		"SUMMARY:single",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:no uid",
		"DTSTART;VALUE=DATE:20240104",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	days, err := ParseDays([]byte(body), ImportOptions{Location: time.UTC, Until: day("2024-01-22")})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		day("2024-01-01"),
		day("2024-01-03"),
		day("2024-01-15"),
		day("2024-01-22"),
	}, days)
}

func TestParseDaysRejectsEmpty(t *testing.T) {
	_, err := ParseDays(nil, ImportOptions{})
	assert.Error(t, err)
}

func TestAlarmTrigger(t *testing.T) {
	assert.Equal(t, "PT8H", alarmTrigger(0, 8))
	assert.Equal(t, "-PT16H", alarmTrigger(1, 8))
	assert.Equal(t, "-PT48H", alarmTrigger(2, 0))
}
