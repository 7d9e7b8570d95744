package predict

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeEmptyHistory(t *testing.T) {
	s := Compute(nil, day("2024-06-01"), Options{})
	assert.Equal(t, StatusNoData, s.Status)
	assert.False(t, s.HasPrediction())
	assert.Zero(t, s.RecordCount)
	assert.True(t, s.PredictedNextDate.IsZero())
}

func TestSnapshotJSONWithoutData(t *testing.T) {
	b, err := json.Marshal(Compute(nil, day("2024-06-01"), Options{}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"no_data","record_count":0}`, string(b))

	b, err = json.Marshal(Compute(records("2024-05-02", "2024-06-01"), day("2024-06-01"), Options{}))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "ready", got["status"])
	assert.EqualValues(t, 30, got["days_remaining"])
	assert.Equal(t, "upcoming", got["phase"])
}

func TestComputeSingleRecordUsesDefault(t *testing.T) {
	s := Compute(records("2024-06-01"), day("2024-06-11"), Options{})
	assert.Equal(t, StatusInsufficient, s.Status)
	assert.True(t, s.HasPrediction())
	assert.True(t, s.UsedDefault)
	assert.Equal(t, 30, s.AverageIntervalDays)
	assert.Equal(t, day("2024-07-01"), s.PredictedNextDate)
	assert.Equal(t, 20, s.DaysRemaining)
	assert.Equal(t, 10, s.DaysSinceLast)
	assert.Empty(t, s.Intervals)
}

func TestComputeDefaultOverride(t *testing.T) {
	s := Compute(records("2024-06-01"), day("2024-06-01"), Options{DefaultIntervalDays: 14})
	assert.Equal(t, 14, s.AverageIntervalDays)
	assert.Equal(t, day("2024-06-15"), s.PredictedNextDate)
}

func TestComputeReady(t *testing.T) {
	recs := records("2024-05-02", "2024-04-04", "2024-03-07")
	s := Compute(recs, day("2024-05-25"), Options{})

	assert.Equal(t, StatusReady, s.Status)
	assert.Equal(t, 3, s.RecordCount)
	assert.Equal(t, []int{28, 28}, s.Intervals)
	assert.Equal(t, 28, s.AverageIntervalDays)
	assert.False(t, s.UsedDefault)
	assert.Equal(t, day("2024-05-02"), s.LastDate)
	assert.Equal(t, day("2024-05-30"), s.PredictedNextDate)
	assert.Equal(t, 5, s.DaysRemaining)
	assert.Equal(t, 23, s.DaysSinceLast)
	assert.Equal(t, PhaseUpcoming, s.Phase)
	assert.InDelta(t, 23.0/28.0, s.Progress, 1e-9)
	assert.Equal(t, map[int]int{28: 2}, s.IntervalFrequency)
}

func TestComputeOverdueDivergesFromDaysSinceLast(t *testing.T) {
	recs := records("2024-01-01", "2024-01-11")
	s := Compute(recs, day("2024-01-24"), Options{})

	assert.True(t, s.Overdue)
	assert.Equal(t, -3, s.DaysRemaining)
	assert.Equal(t, 3, s.DaysLeft())
	assert.Equal(t, 13, s.DaysSinceLast)
	assert.Equal(t, 1.0, s.Progress)
}

func TestComputeDueToday(t *testing.T) {
	recs := records("2024-01-01", "2024-01-11")
	s := Compute(recs, day("2024-01-21"), Options{})

	assert.Equal(t, PhaseDueToday, s.Phase)
	assert.False(t, s.Overdue)
	assert.Equal(t, 0, s.DaysRemaining)
	assert.Equal(t, 1.0, s.Progress)
}

func TestComputeNormalizesTimeOfDay(t *testing.T) {
	recs := records("2024-01-01", "2024-01-11")
	today := day("2024-01-16").Add(23 * time.Hour)
	s := Compute(recs, today, Options{})
	assert.Equal(t, 5, s.DaysRemaining)
}
