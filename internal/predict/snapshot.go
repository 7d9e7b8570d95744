package predict

import (
	"encoding/json"
	"time"

	"github.com/wlkla/iPredict/internal/model"
)

// Status reports how much history backs a Snapshot.
type Status string

const (
	// StatusNoData: empty history. No field other than Status is meaningful.
	StatusNoData Status = "no_data"
	// StatusInsufficient: a single record; the average is the default.
	StatusInsufficient Status = "insufficient"
	// StatusReady: at least one real interval exists.
	StatusReady Status = "ready"
)

// Snapshot is the derived prediction state of one history.
type Snapshot struct {
	Status      Status `json:"status"`
	RecordCount int    `json:"record_count"`

	Intervals           []int `json:"intervals"`
	AverageIntervalDays int   `json:"average_interval_days"`
	UsedDefault         bool  `json:"used_default"`

	LastDate          time.Time `json:"last_date"`
	PredictedNextDate time.Time `json:"predicted_next_date"`

	Countdown
	DaysSinceLast int `json:"days_since_last"`

	// Progress runs from 0 right after the last record to 1 on the
	// predicted day, and stays at 1 while overdue.
	Progress float64 `json:"progress"`

	IntervalFrequency map[int]int `json:"interval_frequency"`
}

// HasPrediction is false only for an empty history.
func (s Snapshot) HasPrediction() bool {
	return s.Status != StatusNoData
}

// MarshalJSON writes only status and record_count for an empty history so
// no derived field can be read as a computed zero.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s.Status == StatusNoData {
		return json.Marshal(struct {
			Status      Status `json:"status"`
			RecordCount int    `json:"record_count"`
		}{s.Status, s.RecordCount})
	}
	type plain Snapshot
	return json.Marshal(plain(s))
}

// Compute builds a Snapshot for records as seen on today. today is reduced
// to its calendar day.
func Compute(records []model.Record, today time.Time, opts Options) Snapshot {
	if len(records) == 0 {
		return Snapshot{Status: StatusNoData}
	}

	sorted := SortAscending(records)
	intervals := ComputeIntervals(sorted)
	avg, usedDefault := AverageInterval(intervals, opts.fallback())

	last := Day(sorted[len(sorted)-1].Date)
	predicted := PredictNext(last, avg)
	today = Day(today)

	s := Snapshot{
		Status:              StatusReady,
		RecordCount:         len(sorted),
		Intervals:           intervals,
		AverageIntervalDays: avg,
		UsedDefault:         usedDefault,
		LastDate:            last,
		PredictedNextDate:   predicted,
		Countdown:           CountdownState(predicted, today),
		DaysSinceLast:       DaysBetween(last, today),
		IntervalFrequency:   FrequencyHistogram(intervals),
	}
	if len(sorted) < 2 {
		s.Status = StatusInsufficient
	}
	s.Progress = progress(s.Countdown, s.DaysSinceLast, avg)
	return s
}

func progress(c Countdown, sinceLast, avg int) float64 {
	if c.Phase != PhaseUpcoming || avg <= 0 {
		return 1
	}
	if sinceLast <= 0 {
		return 0
	}
	p := float64(sinceLast) / float64(avg)
	if p > 1 {
		return 1
	}
	return p
}
